// Package download deduplicates concurrent backend fetches. When multiple
// requests miss the cache for the same key, only one fetch is performed and
// every caller receives its result.
package download

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// FetchFunc fetches a value from the backend. The context passed to it is
// detached from any single request so one caller timing out does not cancel
// the fetch for other waiters.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Group deduplicates concurrent fetches of T by key.
type Group[T any] struct {
	group singleflight.Group
}

// Do runs fn once for all concurrent callers with the same key.
// It returns the value, whether it was shared with another caller, and any error.
//
// If the caller's context expires before the fetch completes, Do returns
// the context error but the in-flight fetch continues for other waiters.
func (g *Group[T]) Do(ctx context.Context, key string, fn FetchFunc[T]) (T, bool, error) {
	ch := g.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, res.Shared, fmt.Errorf("download: unexpected result type %T", res.Val)
		}
		return v, res.Shared, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}
