package metadb

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// BoltDB implements MetaDB using bbolt.
type BoltDB struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltDBOption configures a BoltDB instance.
type BoltDBOption func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) BoltDBOption {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BoltDBOption {
	return func(b *BoltDB) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltDBOption {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// NewBoltDB creates a new BoltDB instance with options.
func NewBoltDB(opts ...BoltDBOption) *BoltDB {
	b := &BoltDB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *BoltDB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	b.logger.Debug("opened metadb", "path", path, "noSync", b.noSync)
	return nil
}

func (b *BoltDB) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketReleases, bucketReleasesByPath, bucketTracking} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (b *BoltDB) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing metadb")
	return b.db.Close()
}

// CreateRelease stores a release. An empty ID is assigned a new UUID and a
// zero Timestamp is set to the current time. Returns ErrExists if a release
// with the same path is already recorded.
func (b *BoltDB) CreateRelease(_ context.Context, release *Release) error {
	if release.Path == "" {
		return fmt.Errorf("release path is required")
	}
	if release.ID == "" {
		release.ID = uuid.NewString()
	}
	if release.Timestamp.IsZero() {
		release.Timestamp = b.now().UTC()
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		byPath := tx.Bucket(bucketReleasesByPath)
		if byPath.Get([]byte(release.Path)) != nil {
			return fmt.Errorf("release %s: %w", release.Path, ErrExists)
		}

		data, err := json.Marshal(release)
		if err != nil {
			return fmt.Errorf("encoding release: %w", err)
		}
		if err := tx.Bucket(bucketReleases).Put([]byte(release.ID), data); err != nil {
			return err
		}
		return byPath.Put([]byte(release.Path), []byte(release.ID))
	})
}

// GetRelease retrieves a release by id.
func (b *BoltDB) GetRelease(_ context.Context, id string) (*Release, error) {
	var release *Release
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		release, err = getRelease(tx, []byte(id))
		return err
	})
	return release, err
}

// GetReleaseByPath retrieves the release recorded for an archive path.
func (b *BoltDB) GetReleaseByPath(_ context.Context, path string) (*Release, error) {
	var release *Release
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketReleasesByPath).Get([]byte(path))
		if id == nil {
			return ErrNotFound
		}
		var err error
		release, err = getRelease(tx, id)
		return err
	})
	return release, err
}

func getRelease(tx *bbolt.Tx, id []byte) (*Release, error) {
	val := tx.Bucket(bucketReleases).Get(id)
	if val == nil {
		return nil, ErrNotFound
	}
	var release Release
	if err := json.Unmarshal(val, &release); err != nil {
		return nil, fmt.Errorf("decoding release %s: %w", id, err)
	}
	return &release, nil
}

// ListReleases returns every release, newest first.
func (b *BoltDB) ListReleases(_ context.Context) ([]*Release, error) {
	var releases []*Release
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReleases).ForEach(func(k, v []byte) error {
			var release Release
			if err := json.Unmarshal(v, &release); err != nil {
				return fmt.Errorf("decoding release %s: %w", k, err)
			}
			releases = append(releases, &release)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(releases, func(i, j int) bool {
		return releases[i].Timestamp.After(releases[j].Timestamp)
	})
	return releases, nil
}

// CountReleases returns the number of recorded releases.
func (b *BoltDB) CountReleases(_ context.Context) (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketReleases).Stats().KeyN
		return nil
	})
	return n, err
}

// CreateTracking records a download. An empty ID is assigned a new UUID and a
// zero DownloadTimestamp is set to the current time in UTC.
func (b *BoltDB) CreateTracking(_ context.Context, entry *Tracking) error {
	if entry.ReleaseID == "" {
		return fmt.Errorf("tracking release id is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.DownloadTimestamp.IsZero() {
		entry.DownloadTimestamp = b.now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding tracking: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		key := makeTrackingKey(entry.ReleaseID, entry.Platform, entry.DownloadTimestamp, entry.ID)
		return tx.Bucket(bucketTracking).Put(key, data)
	})
}

// ReleaseTrackingMetrics returns download counts per platform for one release.
func (b *BoltDB) ReleaseTrackingMetrics(_ context.Context, releaseID string) ([]TrackingMetrics, error) {
	counts := make(map[string]*TrackingMetrics)
	err := b.db.View(func(tx *bbolt.Tx) error {
		prefix := trackingPrefix(releaseID)
		c := tx.Bucket(bucketTracking).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			accumulate(counts, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedMetrics(counts), nil
}

// AllTrackingMetrics returns download counts per platform across all releases.
func (b *BoltDB) AllTrackingMetrics(_ context.Context) ([]TrackingMetrics, error) {
	counts := make(map[string]*TrackingMetrics)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTracking).ForEach(func(k, _ []byte) error {
			accumulate(counts, k)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sortedMetrics(counts), nil
}

func accumulate(counts map[string]*TrackingMetrics, key []byte) {
	_, platform, at := parseTrackingKey(key)
	m, ok := counts[platform]
	if !ok {
		m = &TrackingMetrics{Platform: platform}
		counts[platform] = m
	}
	m.Count++
	if at.After(m.LastDownload) {
		m.LastDownload = at
	}
}

func sortedMetrics(counts map[string]*TrackingMetrics) []TrackingMetrics {
	result := make([]TrackingMetrics, 0, len(counts))
	for _, m := range counts {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Platform < result[j].Platform
	})
	return result
}

// Compile-time interface check
var _ MetaDB = (*BoltDB)(nil)
