// Package server provides the HTTP server for the update server.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/wolfeidau/update-server/archive"
	"github.com/wolfeidau/update-server/backend"
	"github.com/wolfeidau/update-server/protocol/updates"
	"github.com/wolfeidau/update-server/signing"
	"github.com/wolfeidau/update-server/store/metadb"
	"github.com/wolfeidau/update-server/telemetry"
	"github.com/wolfeidau/update-server/update"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":3000")
	Address string

	// StoragePath is the root path of the filesystem backend.
	// Ignored when Backend is set.
	StoragePath string

	// Backend overrides the filesystem backend, e.g. with GCS.
	Backend backend.Backend

	// BackendName labels backend metrics. Default: "filesystem", or "custom"
	// when Backend is set.
	BackendName string

	// DBPath is the bbolt file holding releases and download tracking.
	// Default: <StoragePath>/metadata.db
	DBPath string

	// Hostname is the public base URL used in asset URLs.
	Hostname string

	// Signer signs manifests and directives when clients ask for it.
	// Nil disables signing.
	Signer *signing.Signer

	// ArchiveCacheTTL is how long a decoded bundle is served from memory.
	// Default: 5 minutes.
	ArchiveCacheTTL time.Duration

	// ArchivePurgeInterval is how often expired bundles are dropped from memory.
	// Default: ArchiveCacheTTL.
	ArchivePurgeInterval time.Duration

	// AdminToken protects the release and tracking endpoints with Bearer
	// authentication. Empty disables authentication.
	AdminToken string

	// H2C serves HTTP/2 without TLS, for platforms that terminate TLS and
	// forward cleartext HTTP/2.
	H2C bool

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the update server.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	// Components
	backend backend.Backend
	db      *metadb.BoltDB
	cache   *archive.Cache
	engine  *update.Engine
	updates *updates.Handler

	// Lifecycle of the archive purge loop, started by New
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":3000"
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "./data"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.StoragePath, "metadata.db")
	}
	if cfg.ArchiveCacheTTL <= 0 {
		cfg.ArchiveCacheTTL = archive.DefaultTTL
	}
	if cfg.ArchivePurgeInterval <= 0 {
		cfg.ArchivePurgeInterval = cfg.ArchiveCacheTTL
	}

	// Initialize storage backend
	store := cfg.Backend
	if store == nil {
		fsBackend, err := backend.NewFilesystem(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("creating filesystem backend: %w", err)
		}
		store = fsBackend
		if cfg.BackendName == "" {
			cfg.BackendName = "filesystem"
		}
	}
	if cfg.BackendName == "" {
		cfg.BackendName = "custom"
	}
	store = backend.NewInstrumentedBackend(store, cfg.BackendName)

	// Initialize release and tracking database
	db := metadb.NewBoltDB(metadb.WithLogger(cfg.Logger.With("component", "metadb")))
	if err := db.Open(cfg.DBPath); err != nil {
		return nil, err
	}

	cache := archive.NewCache(store,
		archive.WithTTL(cfg.ArchiveCacheTTL),
		archive.WithLogger(cfg.Logger.With("component", "archive")),
	)
	engine := update.NewEngine(store, cache,
		update.WithHostname(cfg.Hostname),
		update.WithLogger(cfg.Logger.With("component", "update")),
	)

	handlerOpts := []updates.HandlerOption{
		updates.WithLogger(cfg.Logger.With("component", "updates")),
		updates.WithTracker(db),
	}
	if cfg.Signer != nil {
		handlerOpts = append(handlerOpts, updates.WithSigner(cfg.Signer))
	}

	s := &Server{
		config:  cfg,
		logger:  cfg.Logger,
		backend: store,
		db:      db,
		cache:   cache,
		engine:  engine,
		updates: updates.NewHandler(engine, handlerOpts...),
	}

	// Build HTTP server
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := s.loggingMiddleware(mux)
	if cfg.H2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for large bundle downloads
		IdleTimeout:  60 * time.Second,
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.logger.Info("starting archive purge loop",
		"ttl", cfg.ArchiveCacheTTL,
		"interval", cfg.ArchivePurgeInterval,
	)
	s.wg.Add(1)
	go s.purgeLoop(s.ctx)

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Update protocol endpoints. Registered without a method so the
	// handler can answer other methods with its own 405 body.
	mux.Handle("/api/manifest", http.StripPrefix("/api", s.updates))
	mux.Handle("/api/assets", http.StripPrefix("/api", s.updates))

	// Release and tracking reports
	mux.Handle("GET /api/releases", s.authMiddleware(http.HandlerFunc(s.handleReleases)))
	mux.Handle("GET /api/tracking/all", s.authMiddleware(http.HandlerFunc(s.handleAllTracking)))
	mux.Handle("GET /api/tracking/{releaseID}", s.authMiddleware(http.HandlerFunc(s.handleReleaseTracking)))
}

// Handler returns the root HTTP handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "health")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Inject request tags so handlers can set endpoint, platform, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		if tags.Endpoint == "" {
			tags.Endpoint = deriveEndpoint(r.URL.Path)
		}

		// Build log attributes
		attrs := []any{
			// Request identification
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"endpoint", tags.Endpoint,

			// Response details
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"response_type", string(tags.ResponseType),

			// Timing
			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			// Client info
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		// Add handler-set tags
		if tags.Platform != "" {
			attrs = append(attrs, "platform", tags.Platform)
		}
		if tags.RuntimeVersion != "" {
			attrs = append(attrs, "runtime_version", tags.RuntimeVersion)
		}
		if tags.ErrorKind != "" {
			attrs = append(attrs, "error_kind", tags.ErrorKind)
		}

		// Add content type if present
		if ct := wrapped.Header().Get("Content-Type"); ct != "" {
			attrs = append(attrs, "content_type", ct)
		}

		s.logger.Info("http request", attrs...)

		// Record OTel metrics
		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"address", s.config.Address,
		"hostname", s.config.Hostname,
		"signing", s.config.Signer != nil,
	)
	return s.httpServer.ListenAndServe()
}

// purgeLoop drops expired archives until ctx is cancelled.
func (s *Server) purgeLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ArchivePurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.cache.Purge(); n > 0 {
				s.logger.Debug("purged expired archives", "count", n, "remaining", s.cache.Len())
			}
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close stops background work and closes the database. It is safe to call
// more than once and before Start.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// deriveEndpoint names the endpoint of requests no handler tagged.
func deriveEndpoint(path string) string {
	switch {
	case path == "/health" || path == "/metrics":
		return "internal"
	case strings.HasPrefix(path, "/api/releases"):
		return "releases"
	case strings.HasPrefix(path, "/api/tracking/"):
		return "tracking"
	case strings.HasPrefix(path, "/api/"):
		return "api"
	default:
		return "unknown"
	}
}
