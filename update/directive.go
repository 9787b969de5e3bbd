package update

import (
	"context"
	"time"

	"github.com/wolfeidau/update-server/archive"
)

// Directives builds rollback and no-update directives.
type Directives struct {
	cache *archive.Cache
	now   func() time.Time
}

// NewDirectives creates a directive builder.
func NewDirectives(cache *archive.Cache, now func() time.Time) *Directives {
	if now == nil {
		now = time.Now
	}
	return &Directives{cache: cache, now: now}
}

// RollBack builds a rollBackToEmbedded directive for the bundle at bundlePath.
// The bundle must carry the rollback sentinel entry.
func (d *Directives) RollBack(ctx context.Context, bundlePath string) (*Directive, error) {
	const op = "build rollback directive"

	arc, err := d.cache.Get(ctx, bundlePath)
	if err != nil {
		return nil, NewError(KindInternal, op, err)
	}
	if !arc.Has(archive.RollbackEntry) {
		return nil, errorf(KindResolution, op, "no rollback found in bundle %s", bundlePath)
	}

	return &Directive{
		Type:       DirectiveRollBackToEmbedded,
		Parameters: &DirectiveParameters{CommitTime: FormatTime(d.now())},
	}, nil
}

// NoUpdateAvailable builds a noUpdateAvailable directive.
func NoUpdateAvailable() *Directive {
	return &Directive{Type: DirectiveNoUpdateAvailable}
}
