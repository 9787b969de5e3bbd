package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wolfeidau/update-server/archive"
	"github.com/wolfeidau/update-server/backend"
)

// UpdatesDir is the storage directory holding one subdirectory per runtime version.
const UpdatesDir = "updates"

// LocationStatus says whether a runtime version has a bundle to serve.
type LocationStatus int

const (
	// NoUpdate means nothing was ever published for the runtime version.
	NoUpdate LocationStatus = iota
	// Located means BundlePath names the newest bundle.
	Located
)

// Location is the result of looking up the newest bundle.
type Location struct {
	Status     LocationStatus
	BundlePath string
	Timestamp  int64
}

// Bundle is a published bundle archive.
type Bundle struct {
	RuntimeVersion string
	// Path is the bundle path without the archive extension.
	Path      string
	Timestamp int64
	Size      int64
	ModTime   time.Time
}

// ArchiveKey returns the storage key of the bundle's archive.
func (b Bundle) ArchiveKey() string {
	return b.Path + archive.Extension
}

// BundleDir returns the storage directory for a runtime version.
func BundleDir(runtimeVersion string) string {
	return UpdatesDir + "/" + runtimeVersion
}

// ValidateRuntimeVersion rejects empty runtime versions and ones that would
// escape their storage directory.
func ValidateRuntimeVersion(runtimeVersion string) error {
	switch {
	case runtimeVersion == "":
		return errors.New("no runtimeVersion provided")
	case strings.ContainsAny(runtimeVersion, `/\`), strings.Contains(runtimeVersion, ".."):
		return errors.New("invalid runtimeVersion")
	}
	return nil
}

// ValidateTimestamp rejects bundle names that are not a plain run of digits.
func ValidateTimestamp(timestamp string) error {
	if timestamp == "" || leadingDigits(timestamp) != timestamp {
		return fmt.Errorf("invalid timestamp %q", timestamp)
	}
	return nil
}

// Locator finds published bundles in storage.
type Locator struct {
	backend backend.Backend
	logger  *slog.Logger
}

// NewLocator creates a locator reading from b.
func NewLocator(b backend.Backend, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{backend: b, logger: logger}
}

// Latest returns the newest bundle for runtimeVersion. A missing runtime
// version directory yields a NoUpdate location. A directory without any
// archives is a resolution error.
func (l *Locator) Latest(ctx context.Context, runtimeVersion string) (Location, error) {
	const op = "locate"

	if err := ValidateRuntimeVersion(runtimeVersion); err != nil {
		return Location{}, NewError(KindValidation, op, err)
	}

	exists, err := l.backend.Exists(ctx, BundleDir(runtimeVersion))
	if err != nil {
		return Location{}, NewError(KindInternal, op, err)
	}
	if !exists {
		return Location{Status: NoUpdate}, nil
	}

	bundles, err := l.Bundles(ctx, runtimeVersion)
	if err != nil {
		return Location{}, err
	}
	if len(bundles) == 0 {
		return Location{}, errorf(KindResolution, op, "no updates found for runtime version: %s", runtimeVersion)
	}

	return Location{
		Status:     Located,
		BundlePath: bundles[0].Path,
		Timestamp:  bundles[0].Timestamp,
	}, nil
}

// Bundles lists the archives published for runtimeVersion, newest first.
// Ordering is by the numeric value of the digits leading each file name.
// Files without leading digits are skipped.
func (l *Locator) Bundles(ctx context.Context, runtimeVersion string) ([]Bundle, error) {
	dir := BundleDir(runtimeVersion)

	files, err := l.backend.ListFiles(ctx, dir)
	if err != nil {
		return nil, NewError(KindInternal, "list bundles", err)
	}

	bundles := make([]Bundle, 0, len(files))
	for _, f := range files {
		name, ok := strings.CutSuffix(f.Name, archive.Extension)
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(leadingDigits(name), 10, 64)
		if err != nil {
			l.logger.Debug("skipping archive without numeric timestamp",
				"runtime_version", runtimeVersion,
				"file", f.Name)
			continue
		}
		bundles = append(bundles, Bundle{
			RuntimeVersion: runtimeVersion,
			Path:           dir + "/" + name,
			Timestamp:      ts,
			Size:           f.Size,
			ModTime:        f.ModTime,
		})
	}

	sort.Slice(bundles, func(i, j int) bool {
		if bundles[i].Timestamp != bundles[j].Timestamp {
			return bundles[i].Timestamp > bundles[j].Timestamp
		}
		return bundles[i].Path > bundles[j].Path
	})

	return bundles, nil
}

// RuntimeVersions lists the runtime versions that have a storage directory.
func (l *Locator) RuntimeVersions(ctx context.Context) ([]string, error) {
	dirs, err := l.backend.ListDirectories(ctx, UpdatesDir)
	if err != nil {
		return nil, NewError(KindInternal, "list runtime versions", err)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// leadingDigits returns the run of ASCII digits that starts s.
func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}
