package metadb

import (
	"encoding/binary"
	"time"
)

// Bucket names for bbolt storage.
var (
	bucketReleases       = []byte("releases")         // id -> Release JSON
	bucketReleasesByPath = []byte("releases_by_path") // path -> id
	bucketTracking       = []byte("tracking")         // releaseID|platform|timestamp|id -> Tracking JSON
)

// encodeTimestamp converts a time.Time to a fixed-width big-endian byte slice.
// This ensures correct lexicographic ordering for time-based indexes.
// Uses an offset to handle negative nanosecond values (pre-1970 dates).
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	ns := t.UnixNano()
	// Offset by math.MinInt64 to convert signed to unsigned while preserving order.
	binary.BigEndian.PutUint64(buf, uint64(ns-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}

// decodeTimestamp converts a big-endian byte slice back to time.Time.
func decodeTimestamp(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	u := binary.BigEndian.Uint64(b[:8])
	ns := int64(u) + (-1 << 63) //nolint:gosec // intentional unsigned->signed shift
	return time.Unix(0, ns).UTC()
}

// trackingPrefix returns the key prefix shared by all tracking rows of a release.
// Format: [releaseID][separator]
func trackingPrefix(releaseID string) []byte {
	result := make([]byte, len(releaseID)+1)
	copy(result, releaseID)
	result[len(releaseID)] = 0 // null separator
	return result
}

// makeTrackingKey creates a key for the tracking bucket. Platform and time
// live in the key so metrics can be computed without decoding values.
// Format: [releaseID][separator][platform][separator][8-byte timestamp][id]
func makeTrackingKey(releaseID, platform string, at time.Time, id string) []byte {
	result := make([]byte, 0, len(releaseID)+1+len(platform)+1+8+len(id))
	result = append(result, releaseID...)
	result = append(result, 0)
	result = append(result, platform...)
	result = append(result, 0)
	result = append(result, encodeTimestamp(at)...)
	result = append(result, id...)
	return result
}

// parseTrackingKey extracts the release id, platform and download time from a tracking key.
func parseTrackingKey(data []byte) (releaseID, platform string, at time.Time) {
	separators := 0
	start := 0
	for i, b := range data {
		if b != 0 {
			continue
		}
		switch separators {
		case 0:
			releaseID = string(data[start:i])
		case 1:
			platform = string(data[start:i])
			return releaseID, platform, decodeTimestamp(data[i+1:])
		}
		separators++
		start = i + 1
	}
	return string(data), "", time.Time{}
}
