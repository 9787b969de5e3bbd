package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfeidau/update-server/backend"
)

// WithBackend registers an "object" template function that reads a secret
// stored as an object in b, e.g. a signing key kept next to the updates in
// a GCS bucket.
func WithBackend(b backend.Backend) ResolverOption {
	return WithProvider("object", func(ctx context.Context, key string) (string, error) {
		data, err := backend.ReadAll(ctx, b, key)
		if err != nil {
			return "", fmt.Errorf("reading object %q: %w", key, err)
		}
		return strings.TrimSpace(string(data)), nil
	})
}
