// Package archivetest builds update bundles for tests.
package archivetest

import (
	"bytes"
	"context"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/update-server/backend"
)

// Zip returns zip data holding the given entries, written in name order.
func Zip(t testing.TB, entries map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// Publish writes a bundle archive to updates/<runtimeVersion>/<timestamp>.zip
// and returns its bundle path.
func Publish(t testing.TB, b backend.Backend, runtimeVersion, timestamp string, entries map[string][]byte) string {
	t.Helper()

	bundlePath := "updates/" + runtimeVersion + "/" + timestamp
	data := Zip(t, entries)
	require.NoError(t, b.Write(context.Background(), bundlePath+".zip", bytes.NewReader(data)))
	return bundlePath
}

// Metadata is a minimal metadata.json covering both platforms.
const Metadata = `{
  "version": 0,
  "bundler": "metro",
  "fileMetadata": {
    "ios": {
      "bundle": "bundles/ios-abc.js",
      "assets": [{"path": "assets/4f1cb2cac2370cd5050681232e8575a8", "ext": "png"}]
    },
    "android": {
      "bundle": "bundles/android-def.js",
      "assets": [{"path": "assets/4f1cb2cac2370cd5050681232e8575a8", "ext": "png"}]
    }
  }
}`

// Config is a minimal expoconfig.json.
const Config = `{"name":"demo","slug":"demo","runtimeVersion":"1.0.0"}`

// Bundle returns the entries of a complete bundle matching Metadata.
func Bundle() map[string][]byte {
	return map[string][]byte{
		"metadata.json":                           []byte(Metadata),
		"expoconfig.json":                         []byte(Config),
		"bundles/ios-abc.js":                      []byte("console.log('ios')"),
		"bundles/android-def.js":                  []byte("console.log('android')"),
		"assets/4f1cb2cac2370cd5050681232e8575a8": []byte("\x89PNG fake image"),
	}
}

// RollbackBundle returns Bundle with the rollback sentinel added.
func RollbackBundle() map[string][]byte {
	entries := Bundle()
	entries["rollback"] = nil
	return entries
}
