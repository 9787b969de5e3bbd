package download

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type bundle struct {
	path string
	size int64
}

func TestDo_SingleCall(t *testing.T) {
	var g Group[*bundle]

	expected := &bundle{path: "updates/1.0.0/1", size: 5}

	result, shared, err := g.Do(context.Background(), "key1", func(ctx context.Context) (*bundle, error) {
		return expected, nil
	})

	require.NoError(t, err)
	require.False(t, shared)
	require.Same(t, expected, result)
}

func TestDo_ConcurrentDeduplication(t *testing.T) {
	var g Group[*bundle]

	var callCount atomic.Int32
	expected := &bundle{path: "updates/1.0.0/2", size: 4}

	var wg sync.WaitGroup
	results := make([]*bundle, 10)
	errs := make([]error, 10)

	// Slow enough for all goroutines to pile up
	for i := range 10 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], _, errs[idx] = g.Do(context.Background(), "shared-key", func(ctx context.Context) (*bundle, error) {
				callCount.Add(1)
				time.Sleep(50 * time.Millisecond)
				return expected, nil
			})
		}(i)
	}

	wg.Wait()

	require.Equal(t, int32(1), callCount.Load(), "fetch func should be called exactly once")
	for i := range 10 {
		require.NoError(t, errs[i])
		require.Same(t, expected, results[i])
	}
}

func TestDo_CallerTimeout(t *testing.T) {
	var g Group[*bundle]

	var fetchCompleted atomic.Bool
	expected := &bundle{path: "updates/1.0.0/3", size: 4}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer shortCancel()

	started := make(chan struct{})
	var slowErr error
	var slowWg sync.WaitGroup
	slowWg.Add(1)
	go func() {
		defer slowWg.Done()
		_, _, slowErr = g.Do(shortCtx, "timeout-key", func(ctx context.Context) (*bundle, error) {
			close(started)
			time.Sleep(200 * time.Millisecond)
			fetchCompleted.Store(ctx.Err() == nil)
			return expected, nil
		})
	}()

	<-started

	longCtx, longCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer longCancel()

	result, shared, err := g.Do(longCtx, "timeout-key", func(ctx context.Context) (*bundle, error) {
		t.Error("should not be called, fetch already in flight")
		return nil, nil
	})

	require.NoError(t, err)
	require.True(t, shared)
	require.Same(t, expected, result)
	require.True(t, fetchCompleted.Load(), "fetch context must outlive the first caller")

	slowWg.Wait()
	require.ErrorIs(t, slowErr, context.DeadlineExceeded)
}

func TestDo_FetchError(t *testing.T) {
	var g Group[*bundle]

	expectedErr := errors.New("backend unavailable")

	var wg sync.WaitGroup
	errs := make([]error, 5)

	for i := range 5 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, errs[idx] = g.Do(context.Background(), "error-key", func(ctx context.Context) (*bundle, error) {
				time.Sleep(20 * time.Millisecond)
				return nil, expectedErr
			})
		}(i)
	}

	wg.Wait()

	for i := range 5 {
		require.ErrorIs(t, errs[i], expectedErr)
	}
}

func TestDo_DifferentKeys(t *testing.T) {
	var g Group[string]

	var callCount atomic.Int32
	errs := make([]error, 5)
	var wg sync.WaitGroup

	for i := range 5 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			key := "key-" + string(rune('a'+idx))
			_, _, errs[idx] = g.Do(context.Background(), key, func(ctx context.Context) (string, error) {
				callCount.Add(1)
				return key, nil
			})
		}(i)
	}

	wg.Wait()

	for i := range 5 {
		require.NoError(t, errs[i])
	}
	require.Equal(t, int32(5), callCount.Load(), "each key should trigger its own fetch")
}

func TestDo_RetryAfterError(t *testing.T) {
	var g Group[*bundle]

	expectedErr := errors.New("transient error")
	var callCount atomic.Int32

	_, _, err := g.Do(context.Background(), "retry-key", func(ctx context.Context) (*bundle, error) {
		callCount.Add(1)
		return nil, expectedErr
	})
	require.ErrorIs(t, err, expectedErr)

	expected := &bundle{path: "updates/1.0.0/4", size: 13}
	result, shared, err := g.Do(context.Background(), "retry-key", func(ctx context.Context) (*bundle, error) {
		callCount.Add(1)
		return expected, nil
	})
	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, int32(2), callCount.Load())
	require.Same(t, expected, result)
}
