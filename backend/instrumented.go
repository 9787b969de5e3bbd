package backend

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/wolfeidau/update-server/telemetry"
)

// InstrumentedBackend wraps a Backend with metrics recording.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend creates a new instrumented backend wrapper.
func NewInstrumentedBackend(b Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

func (ib *InstrumentedBackend) Write(ctx context.Context, key string, r io.Reader) error {
	start := time.Now()
	cr := &countingReader{r: r}
	err := ib.backend.Write(ctx, key, cr)
	telemetry.RecordBackendOp(ctx, ib.name, "write", outcomeFromError(err), time.Since(start), cr.n)
	return err
}

// Read records the open latency immediately and the bytes transferred when the reader is closed.
func (ib *InstrumentedBackend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := ib.backend.Read(ctx, key)
	if err != nil {
		telemetry.RecordBackendOp(ctx, ib.name, "read", outcomeFromError(err), time.Since(start), 0)
		return nil, err
	}
	return &countingReadCloser{
		rc: rc,
		done: func(n int64) {
			telemetry.RecordBackendOp(ctx, ib.name, "read", "success", time.Since(start), n)
		},
	}, nil
}

func (ib *InstrumentedBackend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := ib.backend.Exists(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "exists", outcomeFromError(err), time.Since(start), 0)
	return exists, err
}

func (ib *InstrumentedBackend) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	start := time.Now()
	files, err := ib.backend.ListFiles(ctx, dir)
	telemetry.RecordBackendOp(ctx, ib.name, "list_files", outcomeFromError(err), time.Since(start), 0)
	return files, err
}

func (ib *InstrumentedBackend) ListDirectories(ctx context.Context, dir string) ([]string, error) {
	start := time.Now()
	dirs, err := ib.backend.ListDirectories(ctx, dir)
	telemetry.RecordBackendOp(ctx, ib.name, "list_directories", outcomeFromError(err), time.Since(start), 0)
	return dirs, err
}

// Unwrap returns the underlying backend.
func (ib *InstrumentedBackend) Unwrap() Backend {
	return ib.backend
}

func outcomeFromError(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "error"
}

// countingReader wraps a reader and counts bytes read.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// countingReadCloser counts bytes read and reports the total once on Close.
type countingReadCloser struct {
	rc     io.ReadCloser
	n      int64
	done   func(n int64)
	closed bool
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	if !c.closed {
		c.closed = true
		c.done(c.n)
	}
	return c.rc.Close()
}

// Compile-time interface check
var _ Backend = (*InstrumentedBackend)(nil)
