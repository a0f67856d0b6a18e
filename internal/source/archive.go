package source

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Archiver copies ingested objects to an archive location and optionally
// removes the original.
type Archiver struct {
	src            ObjectSource
	bucket         string
	prefix         string
	deleteOriginal bool
	log            *zap.SugaredLogger
}

// NewArchiver creates an Archiver writing to bucket under prefix. An empty
// bucket archives into the object's own bucket.
func NewArchiver(src ObjectSource, bucket, prefix string, deleteOriginal bool, log *zap.SugaredLogger) *Archiver {
	return &Archiver{
		src:            src,
		bucket:         bucket,
		prefix:         prefix,
		deleteOriginal: deleteOriginal,
		log:            log.Named("archiver"),
	}
}

// Target returns where obj would be archived.
func (a *Archiver) Target(obj Object) (bucket, key string) {
	bucket = a.bucket
	if bucket == "" {
		bucket = obj.Bucket
	}
	return bucket, a.prefix + obj.Key
}

// Holds reports whether bucket and key lie inside the archive location.
// With no archive bucket every bucket's prefix area counts.
func (a *Archiver) Holds(bucket, key string) bool {
	if a.bucket != "" && bucket != a.bucket {
		return false
	}
	return strings.HasPrefix(key, a.prefix)
}

// Archive copies obj to its archive location and deletes the original when
// configured to.
func (a *Archiver) Archive(ctx context.Context, obj Object) error {
	bucket, key := a.Target(obj)
	if bucket == obj.Bucket && key == obj.Key {
		return fmt.Errorf("archive target equals source %s/%s", obj.Bucket, obj.Key)
	}

	if err := a.src.Put(ctx, bucket, key, obj.Body, obj.ContentType); err != nil {
		return fmt.Errorf("archiving %s/%s: %w", obj.Bucket, obj.Key, err)
	}

	if a.deleteOriginal {
		if err := a.src.Delete(ctx, obj.Bucket, obj.Key); err != nil {
			return fmt.Errorf("deleting archived %s/%s: %w", obj.Bucket, obj.Key, err)
		}
	}

	a.log.Debugf("Archived object: from=%s/%s, to=%s/%s, deleted=%t", obj.Bucket, obj.Key, bucket, key, a.deleteOriginal)
	return nil
}
