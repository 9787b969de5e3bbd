package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/wolfeidau/update-server/archive/archivetest"
	"github.com/wolfeidau/update-server/backend"
	"github.com/wolfeidau/update-server/store/metadb"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	if cfg.StoragePath == "" && cfg.Backend == nil {
		cfg.StoragePath = t.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "http://localhost:3000"
	}

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func serve(s *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func publish(t *testing.T, s *Server, timestamp string) string {
	t.Helper()
	fs, err := backend.NewFilesystem(s.config.StoragePath)
	require.NoError(t, err)
	return archivetest.Publish(t, fs, "1.0.0", timestamp, archivetest.Bundle())
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, Config{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_MetricsDisabled(t *testing.T) {
	s := newTestServer(t, Config{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	s := newTestServer(t, Config{Address: "127.0.0.1:0"})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	require.ErrorIs(t, <-errCh, http.ErrServerClosed)
	require.ErrorIs(t, s.ctx.Err(), context.Canceled, "purge loop must be stopped by shutdown")
	require.NoError(t, s.Close())
}

func TestServer_CloseWithoutStart(t *testing.T) {
	s := newTestServer(t, Config{})

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.ctx.Err(), context.Canceled)
	require.NoError(t, s.Close())
}

func TestServer_H2C(t *testing.T) {
	s := newTestServer(t, Config{H2C: true})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	client := &http.Client{Transport: &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}}

	resp, err := client.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, resp.ProtoMajor)
}

func TestServer_ManifestRoute(t *testing.T) {
	s := newTestServer(t, Config{})
	publish(t, s, "1")

	r := httptest.NewRequest(http.MethodGet, "/api/manifest", nil)
	r.Header.Set("expo-platform", "ios")
	r.Header.Set("expo-runtime-version", "1.0.0")
	r.Header.Set("expo-protocol-version", "1")

	w := serve(s, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "multipart/mixed; boundary=")
	assert.Contains(t, w.Body.String(), "http://localhost:3000/api/assets?asset=")

	w = serve(s, httptest.NewRequest(http.MethodPost, "/api/manifest", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_AssetRoute(t *testing.T) {
	s := newTestServer(t, Config{})
	publish(t, s, "1")

	w := serve(s, httptest.NewRequest(http.MethodGet,
		"/api/assets?asset=bundles%2Fios-abc.js&runtimeVersion=1.0.0&platform=ios", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	assert.Equal(t, "console.log('ios')", w.Body.String())
}

func TestServer_Releases(t *testing.T) {
	s := newTestServer(t, Config{})
	ctx := context.Background()
	p1 := publish(t, s, "100")
	publish(t, s, "200")

	release := &metadb.Release{RuntimeVersion: "1.0.0", Path: p1 + ".zip", CommitHash: "abc123", CommitMessage: "first"}
	require.NoError(t, s.db.CreateRelease(ctx, release))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/releases", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp releasesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Releases, 2)
	assert.Equal(t, "updates/1.0.0/200.zip", resp.Releases[0].Path)
	assert.Empty(t, resp.Releases[0].ID)
	assert.Equal(t, "updates/1.0.0/100.zip", resp.Releases[1].Path)
	assert.Equal(t, release.ID, resp.Releases[1].ID)
	assert.Equal(t, "abc123", resp.Releases[1].CommitHash)
	assert.EqualValues(t, 100, resp.Releases[1].Timestamp)
}

func TestServer_ReleasesEmpty(t *testing.T) {
	s := newTestServer(t, Config{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/releases", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"releases":[]}`, w.Body.String())
}

func TestServer_Tracking(t *testing.T) {
	s := newTestServer(t, Config{})
	ctx := context.Background()
	bundlePath := publish(t, s, "100")

	release := &metadb.Release{RuntimeVersion: "1.0.0", Path: bundlePath + ".zip"}
	require.NoError(t, s.db.CreateRelease(ctx, release))

	for _, platform := range []string{"ios", "android", "ios"} {
		r := httptest.NewRequest(http.MethodGet, "/api/manifest", nil)
		r.Header.Set("expo-platform", platform)
		r.Header.Set("expo-runtime-version", "1.0.0")
		r.Header.Set("expo-protocol-version", "1")
		require.Equal(t, http.StatusOK, serve(s, r).Code)
	}

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/tracking/"+release.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp trackingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, release.ID, resp.ReleaseID)
	require.Len(t, resp.Trackings, 2)
	assert.Equal(t, "android", resp.Trackings[0].Platform)
	assert.EqualValues(t, 1, resp.Trackings[0].Count)
	assert.Equal(t, "ios", resp.Trackings[1].Platform)
	assert.EqualValues(t, 2, resp.Trackings[1].Count)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/tracking/all", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var all trackingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.NotNil(t, all.TotalReleases)
	assert.Equal(t, 1, *all.TotalReleases)
	require.Len(t, all.Trackings, 2)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/tracking/unknown", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_AdminToken(t *testing.T) {
	s := newTestServer(t, Config{AdminToken: "secret"})
	publish(t, s, "1")

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/releases", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/releases", nil)
	r.Header.Set("Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, serve(s, r).Code)

	// Update clients never authenticate
	w = serve(s, httptest.NewRequest(http.MethodGet,
		"/api/assets?asset=bundles%2Fios-abc.js&runtimeVersion=1.0.0&platform=ios", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := newTestServer(t, Config{Logger: logger})

	r := httptest.NewRequest(http.MethodGet, "/api/manifest", nil)
	r.Header.Set("X-Request-ID", "req-123")
	r.Header.Set("expo-platform", "android")
	r.Header.Set("expo-runtime-version", "7.0.0")
	r.Header.Set("expo-protocol-version", "0")
	w := serve(s, r)
	require.Equal(t, http.StatusNotFound, w.Code)

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		require.NoError(t, json.Unmarshal(line, &e))
		if e["msg"] == "http request" {
			entry = e
		}
	}
	require.NotNil(t, entry)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "manifest", entry["endpoint"])
	assert.Equal(t, "android", entry["platform"])
	assert.Equal(t, "7.0.0", entry["runtime_version"])
	assert.Equal(t, "no_update", entry["error_kind"])
	assert.Equal(t, "error", entry["response_type"])
	assert.EqualValues(t, 404, entry["status"])
}

func TestDeriveEndpoint(t *testing.T) {
	tests := map[string]string{
		"/health":         "internal",
		"/metrics":        "internal",
		"/api/releases":   "releases",
		"/api/tracking/x": "tracking",
		"/api/other":      "api",
		"/":               "unknown",
	}
	for path, want := range tests {
		assert.Equal(t, want, deriveEndpoint(path), path)
	}
}
