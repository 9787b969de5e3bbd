package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCS implements Backend on a Google Cloud Storage bucket.
// Directories are emulated with "/"-delimited object name prefixes.
type GCS struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCS creates a backend over the named bucket. All keys are stored below
// prefix, which may be empty.
func NewGCS(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
	}
}

// Write uploads data to the object at key.
func (g *GCS) Write(ctx context.Context, key string, r io.Reader) error {
	w := g.bucket.Object(g.objectName(key)).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing object writer: %w", err)
	}
	return nil
}

// Read opens the object at key.
func (g *GCS) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(g.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening object: %w", err)
	}
	return r, nil
}

// Exists reports whether an object exists at key, or any object exists below key/.
func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(g.objectName(key)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return false, fmt.Errorf("object attrs: %w", err)
	}

	it := g.bucket.Objects(ctx, &storage.Query{Prefix: g.dirPrefix(key)})
	_, err = it.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("listing objects: %w", err)
	}
	return true, nil
}

// ListFiles returns the objects directly under dir.
func (g *GCS) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	var files []FileInfo
	err := g.walk(ctx, dir, func(attrs *storage.ObjectAttrs) {
		if attrs.Prefix != "" {
			return
		}
		files = append(files, FileInfo{
			Name:    path.Base(attrs.Name),
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	})
	return files, err
}

// ListDirectories returns the pseudo-directories directly under dir.
func (g *GCS) ListDirectories(ctx context.Context, dir string) ([]string, error) {
	var dirs []string
	err := g.walk(ctx, dir, func(attrs *storage.ObjectAttrs) {
		if attrs.Prefix != "" {
			dirs = append(dirs, path.Base(attrs.Prefix))
		}
	})
	return dirs, err
}

func (g *GCS) walk(ctx context.Context, dir string, fn func(*storage.ObjectAttrs)) error {
	it := g.bucket.Objects(ctx, &storage.Query{
		Prefix:    g.dirPrefix(dir),
		Delimiter: "/",
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("listing objects: %w", err)
		}
		fn(attrs)
	}
}

func (g *GCS) objectName(key string) string {
	key = strings.Trim(key, "/")
	if g.prefix == "" || key == "" {
		return g.prefix + key
	}
	return g.prefix + "/" + key
}

func (g *GCS) dirPrefix(dir string) string {
	name := g.objectName(dir)
	if name == "" {
		return ""
	}
	return name + "/"
}

// Compile-time interface check
var _ Backend = (*GCS)(nil)
