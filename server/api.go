package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/wolfeidau/update-server/store/metadb"
	"github.com/wolfeidau/update-server/telemetry"
)

// releaseInfo describes a published archive joined with its release record.
type releaseInfo struct {
	ID             string    `json:"id,omitempty"`
	RuntimeVersion string    `json:"runtimeVersion"`
	Path           string    `json:"path"`
	Timestamp      int64     `json:"timestamp"`
	Size           int64     `json:"size"`
	ModTime        time.Time `json:"modTime"`
	CommitHash     string    `json:"commitHash,omitempty"`
	CommitMessage  string    `json:"commitMessage,omitempty"`
}

type releasesResponse struct {
	Releases []releaseInfo `json:"releases"`
}

type trackingResponse struct {
	ReleaseID string                   `json:"releaseId,omitempty"`
	Trackings []metadb.TrackingMetrics `json:"trackings"`
	// TotalReleases is set on the all-releases report.
	TotalReleases *int `json:"totalReleases,omitempty"`
}

// handleReleases lists every published archive, newest first within each
// runtime version.
func (s *Server) handleReleases(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "releases")
	ctx := r.Context()
	locator := s.engine.Locator()

	versions, err := locator.RuntimeVersions(ctx)
	if err != nil {
		s.internalError(w, r, "listing runtime versions failed", err)
		return
	}

	resp := releasesResponse{Releases: []releaseInfo{}}
	for _, rv := range versions {
		bundles, err := locator.Bundles(ctx, rv)
		if err != nil {
			s.internalError(w, r, "listing bundles failed", err)
			return
		}
		for _, b := range bundles {
			info := releaseInfo{
				RuntimeVersion: rv,
				Path:           b.ArchiveKey(),
				Timestamp:      b.Timestamp,
				Size:           b.Size,
				ModTime:        b.ModTime,
			}

			release, err := s.db.GetReleaseByPath(ctx, b.ArchiveKey())
			switch {
			case err == nil:
				info.ID = release.ID
				info.CommitHash = release.CommitHash
				info.CommitMessage = release.CommitMessage
			case !errors.Is(err, metadb.ErrNotFound):
				s.internalError(w, r, "looking up release failed", err)
				return
			}
			resp.Releases = append(resp.Releases, info)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleReleaseTracking reports download counts per platform for one release.
func (s *Server) handleReleaseTracking(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "tracking")
	ctx := r.Context()
	releaseID := r.PathValue("releaseID")

	if _, err := s.db.GetRelease(ctx, releaseID); err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "release not found"})
			return
		}
		s.internalError(w, r, "looking up release failed", err)
		return
	}

	metrics, err := s.db.ReleaseTrackingMetrics(ctx, releaseID)
	if err != nil {
		s.internalError(w, r, "reading tracking metrics failed", err)
		return
	}

	writeJSON(w, http.StatusOK, trackingResponse{ReleaseID: releaseID, Trackings: metrics})
}

// handleAllTracking reports download counts per platform across all releases.
func (s *Server) handleAllTracking(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "tracking")
	ctx := r.Context()

	metrics, err := s.db.AllTrackingMetrics(ctx)
	if err != nil {
		s.internalError(w, r, "reading tracking metrics failed", err)
		return
	}
	total, err := s.db.CountReleases(ctx)
	if err != nil {
		s.internalError(w, r, "counting releases failed", err)
		return
	}

	writeJSON(w, http.StatusOK, trackingResponse{Trackings: metrics, TotalReleases: &total})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	telemetry.SetErrorKind(r, "internal")
	s.logger.Error(msg, "error", err, "path", r.URL.Path)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
