package update

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/update-server/archive"
	"github.com/wolfeidau/update-server/backend"
)

var testNow = time.Date(2024, 3, 20, 12, 30, 45, 123000000, time.UTC)

const testHost = "https://updates.example.com"

type testEnv struct {
	backend *backend.Filesystem
	cache   *archive.Cache
	engine  *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	clock := func() time.Time { return testNow }
	cache := archive.NewCache(fs, archive.WithNow(clock))

	return &testEnv{
		backend: fs,
		cache:   cache,
		engine:  NewEngine(fs, cache, WithHostname(testHost), WithNow(clock)),
	}
}

// mkdir creates an empty runtime version directory.
func (e *testEnv) mkdir(t *testing.T, runtimeVersion string) {
	t.Helper()
	dir := filepath.Join(e.backend.Root(), filepath.FromSlash(BundleDir(runtimeVersion)))
	require.NoError(t, os.MkdirAll(dir, 0o755))
}
