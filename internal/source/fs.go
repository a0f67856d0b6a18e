package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FSSource serves objects from a directory tree laid out as
// <root>/<bucket>/<key>. Content types are derived from the file extension.
type FSSource struct {
	root string
}

// NewFSSource creates a filesystem source rooted at root.
func NewFSSource(root string) *FSSource {
	return &FSSource{root: root}
}

// Root returns the directory objects are read from.
func (s *FSSource) Root() string {
	return s.root
}

// Path resolves bucket/key to a file below root. Keys escaping the bucket
// directory are rejected.
func (s *FSSource) Path(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("bucket and key are required")
	}
	if strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket %q", bucket)
	}

	dir := filepath.Join(s.root, bucket)
	p := filepath.Join(dir, filepath.FromSlash(key))
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return p, nil
}

// Get reads an object. A missing file yields ErrNotFound.
func (s *FSSource) Get(_ context.Context, bucket, key string) (Object, error) {
	p, err := s.Path(bucket, key)
	if err != nil {
		return Object{}, err
	}

	body, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return Object{}, fmt.Errorf("reading %s: %w", p, err)
	}

	return Object{
		Bucket:      bucket,
		Key:         key,
		ContentType: ContentTypeFor(key),
		Body:        body,
	}, nil
}

// Put writes body atomically through a temporary file in the target
// directory. contentType is implied by the key's extension and ignored.
func (s *FSSource) Put(_ context.Context, bucket, key string, body []byte, _ string) error {
	p, err := s.Path(bucket, key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *FSSource) Delete(_ context.Context, bucket, key string) error {
	p, err := s.Path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	return nil
}

// ContentTypeFor guesses a content type from the key's extension.
func ContentTypeFor(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	if ext == ".gz" {
		return ContentTypeGzip
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
