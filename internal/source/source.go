// Package source provides the object stores ingestion reads log files from.
package source

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// ContentTypeGzip is the content type of compressed access logs.
const ContentTypeGzip = "application/x-gzip"

// Object is a fetched object with its metadata.
type Object struct {
	Bucket      string
	Key         string
	ContentType string
	Body        []byte
}

// ObjectSource reads and writes objects addressed by bucket and key.
type ObjectSource interface {
	Get(ctx context.Context, bucket, key string) (Object, error)
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
}
