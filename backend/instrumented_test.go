package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestInstrumented(t *testing.T) *InstrumentedBackend {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return NewInstrumentedBackend(fs, "filesystem")
}

func TestInstrumentedBackend_Write(t *testing.T) {
	ib := newTestInstrumented(t)
	err := ib.Write(context.Background(), "test/key", strings.NewReader("hello world"))
	require.NoError(t, err)
}

func TestInstrumentedBackend_Read_CountsBytes(t *testing.T) {
	ib := newTestInstrumented(t)
	ctx := context.Background()

	content := "hello, instrumented backend"
	require.NoError(t, ib.Write(ctx, "test/key", strings.NewReader(content)))

	rc, err := ib.Read(ctx, "test/key")
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, content, string(got))

	crc, ok := rc.(*countingReadCloser)
	require.True(t, ok)
	require.Equal(t, int64(len(content)), crc.n)

	// Close triggers metric recording, double close must not panic
	require.NoError(t, rc.Close())
	_ = rc.Close()
}

func TestInstrumentedBackend_Read_NotFound(t *testing.T) {
	ib := newTestInstrumented(t)
	_, err := ib.Read(context.Background(), "nonexistent/key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumentedBackend_Exists(t *testing.T) {
	ib := newTestInstrumented(t)
	ctx := context.Background()

	exists, err := ib.Exists(ctx, "missing/key")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, ib.Write(ctx, "present/key", strings.NewReader("data")))
	exists, err = ib.Exists(ctx, "present/key")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestInstrumentedBackend_Listing(t *testing.T) {
	ib := newTestInstrumented(t)
	ctx := context.Background()

	require.NoError(t, ib.Write(ctx, "updates/1.0.0/1.zip", strings.NewReader("a")))
	require.NoError(t, ib.Write(ctx, "updates/1.0.0/2.zip", strings.NewReader("b")))
	require.NoError(t, ib.Write(ctx, "updates/2.0.0/1.zip", strings.NewReader("c")))

	files, err := ib.ListFiles(ctx, "updates/1.0.0")
	require.NoError(t, err)
	require.Len(t, files, 2)

	dirs, err := ib.ListDirectories(ctx, "updates")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1.0.0", "2.0.0"}, dirs)

	require.Same(t, ib.backend, ib.Unwrap())
}

func TestOutcomeFromError(t *testing.T) {
	require.Equal(t, "success", outcomeFromError(nil))
	require.Equal(t, "not_found", outcomeFromError(ErrNotFound))
	require.Equal(t, "not_found", outcomeFromError(fmt.Errorf("wrap: %w", ErrNotFound)))
	require.Equal(t, "error", outcomeFromError(errors.New("some other error")))
}
