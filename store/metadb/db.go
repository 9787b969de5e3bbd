package metadb

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("metadb: not found")

// ErrExists is returned when creating a release whose path is already recorded.
var ErrExists = errors.New("metadb: already exists")

// MetaDB stores releases and download tracking.
type MetaDB interface {
	// Lifecycle
	Open(path string) error
	Close() error

	// Releases
	CreateRelease(ctx context.Context, release *Release) error
	GetRelease(ctx context.Context, id string) (*Release, error)
	GetReleaseByPath(ctx context.Context, path string) (*Release, error)
	ListReleases(ctx context.Context) ([]*Release, error)
	CountReleases(ctx context.Context) (int, error)

	// Tracking
	CreateTracking(ctx context.Context, entry *Tracking) error
	ReleaseTrackingMetrics(ctx context.Context, releaseID string) ([]TrackingMetrics, error)
	AllTrackingMetrics(ctx context.Context) ([]TrackingMetrics, error)
}
