// Package updates implements the update client protocol: the manifest
// endpoint, the asset endpoint and download tracking.
package updates

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/wolfeidau/update-server/archive"
	"github.com/wolfeidau/update-server/signing"
	"github.com/wolfeidau/update-server/store/metadb"
	"github.com/wolfeidau/update-server/telemetry"
	"github.com/wolfeidau/update-server/update"
)

const (
	// trackingTimeout bounds the tracking write made after a manifest is sent.
	trackingTimeout = 10 * time.Second

	assetCacheControl = "public, max-age=0, must-revalidate"
)

// Tracker records manifest deliveries against known releases.
type Tracker interface {
	GetReleaseByPath(ctx context.Context, path string) (*metadb.Release, error)
	CreateTracking(ctx context.Context, entry *metadb.Tracking) error
}

// Handler serves the update protocol endpoints.
type Handler struct {
	engine  *update.Engine
	signer  *signing.Signer
	tracker Tracker
	logger  *slog.Logger
	now     func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithSigner enables response signing.
func WithSigner(signer *signing.Signer) HandlerOption {
	return func(h *Handler) {
		h.signer = signer
	}
}

// WithTracker enables download tracking.
func WithTracker(tracker Tracker) HandlerOption {
	return func(h *Handler) {
		h.tracker = tracker
	}
}

// WithNow sets the clock used for download timestamps.
func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a handler resolving updates with engine.
func NewHandler(engine *update.Engine, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine: engine,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler. Paths are relative to the mount point.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/manifest":
		h.handleManifest(w, r)
	case "/assets":
		h.handleAsset(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handleManifest serves a manifest or a directive.
func (h *Handler) handleManifest(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "manifest")

	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "expected GET"})
		return
	}

	req, err := parseManifestRequest(r)
	if err != nil {
		h.manifestError(w, r, err)
		return
	}
	telemetry.SetClient(r, string(req.Platform), req.RuntimeVersion)

	ctx := r.Context()
	res, err := h.engine.Resolve(ctx, req.Request)
	if err != nil {
		h.manifestError(w, r, err)
		return
	}

	var signer *signing.Signer
	if req.ExpectSignature {
		if h.signer == nil {
			h.manifestError(w, r, update.NewError(update.KindConfiguration, "sign", signing.ErrNoKey))
			return
		}
		signer = h.signer
	}

	var parts []part
	switch res.Type {
	case update.ResultManifest:
		manifestPart, err := encodePart("manifest", res.Manifest, signer)
		if err != nil {
			h.manifestError(w, r, update.NewError(update.KindInternal, "encode manifest", err))
			return
		}
		extPart, err := encodePart("extensions", manifestExtensions(res.Manifest), nil)
		if err != nil {
			h.manifestError(w, r, update.NewError(update.KindInternal, "encode extensions", err))
			return
		}
		parts = []part{manifestPart, extPart}
	default:
		directivePart, err := encodePart("directive", res.Directive, signer)
		if err != nil {
			h.manifestError(w, r, update.NewError(update.KindInternal, "encode directive", err))
			return
		}
		parts = []part{directivePart}
	}

	rt := responseType(res.Type)
	telemetry.SetResponseType(r, rt)

	if err := writeMultipart(w, res.ProtocolVersion, parts...); err != nil {
		h.logger.Warn("writing update response failed", "error", err, "bundle_path", res.BundlePath)
		return
	}
	telemetry.RecordUpdateResponse(ctx, rt, string(req.Platform), res.ProtocolVersion)

	h.logger.Debug("update response sent",
		"type", res.Type.String(),
		"bundle_path", res.BundlePath,
		"runtime_version", req.RuntimeVersion,
		"platform", req.Platform,
		"protocol_version", res.ProtocolVersion,
		"signed", signer != nil)

	if res.Type == update.ResultManifest {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		h.track(ctx, res.BundlePath, req.Platform)
	}
}

// manifestError maps err to a status. Validation and configuration errors
// are 400; every other failure is reported to clients as 404 and logged
// with its kind.
func (h *Handler) manifestError(w http.ResponseWriter, r *http.Request, err error) {
	kind := update.KindOf(err)
	telemetry.SetErrorKind(r, kind.String())

	status := http.StatusNotFound
	if kind == update.KindValidation || kind == update.KindConfiguration {
		status = http.StatusBadRequest
	}

	level := slog.LevelDebug
	if kind == update.KindInternal {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "manifest request failed",
		"error", err,
		"error_kind", kind.String(),
		"status", status)

	writeJSON(w, status, errorResponse{Error: update.Message(err)})
}

// track records a download for the release matching bundlePath. Unknown
// bundles are served untracked and failures are only logged, since the
// manifest has already been sent.
func (h *Handler) track(ctx context.Context, bundlePath string, platform update.Platform) {
	if h.tracker == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackingTimeout)
	defer cancel()

	archiveKey := bundlePath + archive.Extension
	release, err := h.tracker.GetReleaseByPath(ctx, archiveKey)
	if err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			telemetry.RecordTrackingWrite(ctx, "untracked")
			h.logger.Debug("no release for bundle, download not tracked", "path", archiveKey)
			return
		}
		telemetry.RecordTrackingWrite(ctx, "error")
		h.logger.Warn("looking up release failed", "path", archiveKey, "error", err)
		return
	}

	entry := &metadb.Tracking{
		ReleaseID:         release.ID,
		Platform:          string(platform),
		DownloadTimestamp: h.now().UTC(),
	}
	if err := h.tracker.CreateTracking(ctx, entry); err != nil {
		telemetry.RecordTrackingWrite(ctx, "error")
		h.logger.Warn("recording download failed", "release_id", release.ID, "error", err)
		return
	}
	telemetry.RecordTrackingWrite(ctx, "recorded")
}

// handleAsset serves one file of the newest bundle.
func (h *Handler) handleAsset(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "asset")

	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "expected GET"})
		return
	}

	req := parseAssetRequest(r)
	telemetry.SetClient(r, string(req.Platform), req.RuntimeVersion)

	content, err := h.engine.Asset(r.Context(), req)
	if err != nil {
		kind := update.KindOf(err)
		telemetry.SetErrorKind(r, kind.String())

		status := http.StatusInternalServerError
		if kind == update.KindValidation {
			status = http.StatusBadRequest
		}
		h.logger.Debug("asset request failed",
			"asset", req.Path,
			"error", err,
			"error_kind", kind.String(),
			"status", status)
		writeJSON(w, status, errorResponse{Error: update.Message(err)})
		return
	}

	telemetry.SetResponseType(r, telemetry.ResponseAsset)

	w.Header().Set("ETag", content.ETag)
	w.Header().Set("Cache-Control", assetCacheControl)
	if match := r.Header.Get("If-None-Match"); match != "" && match == content.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content.Data)
}

func responseType(t update.ResultType) telemetry.ResponseType {
	switch t {
	case update.ResultRollBack:
		return telemetry.ResponseRollBack
	case update.ResultNoUpdate:
		return telemetry.ResponseNoUpdate
	default:
		return telemetry.ResponseManifest
	}
}
