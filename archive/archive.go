// Package archive decodes update bundles and memoizes them for a bounded window.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"

	updateserver "github.com/wolfeidau/update-server"
)

// ErrEntryNotFound is returned when a named entry is not present in an archive.
var ErrEntryNotFound = errors.New("archive entry not found")

// Well-known entry names.
const (
	MetadataEntry = "metadata.json"
	ConfigEntry   = "expoconfig.json"
	RollbackEntry = "rollback"
)

// Archive is a decoded update bundle. Entries are read on demand from the
// in-memory zip data. An Archive is immutable and safe for concurrent use.
type Archive struct {
	entries map[string]*zip.File
	digest  updateserver.Hash
	size    int64
}

// Decode parses zip data into an Archive. Directory entries are skipped.
func Decode(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding archive: %w", err)
	}

	a := &Archive{
		entries: make(map[string]*zip.File, len(zr.File)),
		digest:  updateserver.HashBytes(data),
		size:    int64(len(data)),
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		a.entries[f.Name] = f
	}
	return a, nil
}

// Has reports whether the archive contains the named entry.
func (a *Archive) Has(name string) bool {
	_, ok := a.entries[name]
	return ok
}

// Entry returns the uncompressed content of the named entry.
// Returns ErrEntryNotFound if the archive has no such entry.
func (a *Archive) Entry(name string) ([]byte, error) {
	f, ok := a.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrEntryNotFound)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading entry %s: %w", name, err)
	}
	return data, nil
}

// Digest returns the BLAKE3 digest of the raw zip data.
func (a *Archive) Digest() updateserver.Hash {
	return a.digest
}

// Size returns the size of the raw zip data in bytes.
func (a *Archive) Size() int64 {
	return a.size
}
