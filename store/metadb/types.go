// Package metadb stores release records and download tracking using bbolt.
package metadb

import "time"

// Release records a published bundle archive.
type Release struct {
	ID             string `json:"id"`
	RuntimeVersion string `json:"runtime_version"`
	// Path is the storage key of the archive, e.g. "updates/1.0.0/1700000000.zip".
	Path          string    `json:"path"`
	Timestamp     time.Time `json:"timestamp"`
	CommitHash    string    `json:"commit_hash,omitempty"`
	CommitMessage string    `json:"commit_message,omitempty"`
	UpdateID      string    `json:"update_id,omitempty"`
}

// Tracking records one manifest delivered to a client.
type Tracking struct {
	ID                string    `json:"id"`
	ReleaseID         string    `json:"release_id"`
	Platform          string    `json:"platform"`
	DownloadTimestamp time.Time `json:"download_timestamp"`
}

// TrackingMetrics is a download count for one platform.
type TrackingMetrics struct {
	Platform     string    `json:"platform"`
	Count        int64     `json:"count"`
	LastDownload time.Time `json:"last_download"`
}
