package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSSource_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	src := NewFSSource(t.TempDir())

	require.NoError(t, src.Put(ctx, "logs", "edge/2024/01/a.gz", []byte("payload"), ContentTypeGzip))

	obj, err := src.Get(ctx, "logs", "edge/2024/01/a.gz")
	require.NoError(t, err)
	assert.Equal(t, Object{Bucket: "logs", Key: "edge/2024/01/a.gz", ContentType: ContentTypeGzip, Body: []byte("payload")}, obj)

	entries, err := os.ReadDir(filepath.Join(src.Root(), "logs", "edge", "2024", "01"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file should have been renamed")

	require.NoError(t, src.Delete(ctx, "logs", "edge/2024/01/a.gz"))
	_, err = src.Get(ctx, "logs", "edge/2024/01/a.gz")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, src.Delete(ctx, "logs", "edge/2024/01/a.gz"), "deleting a missing object is not an error")
}

func TestFSSource_Path(t *testing.T) {
	src := NewFSSource("/srv/inbox")

	tests := []struct {
		name    string
		bucket  string
		key     string
		want    string
		wantErr bool
	}{
		{"nested key", "logs", "a/b.gz", filepath.Join("/srv/inbox", "logs", "a", "b.gz"), false},
		{"empty bucket", "", "a.gz", "", true},
		{"empty key", "logs", "", "", true},
		{"bucket with slash", "a/b", "c.gz", "", true},
		{"dot dot bucket", "..", "c.gz", "", true},
		{"escaping key", "logs", "../other/c.gz", "", true},
		{"bucket root key", "logs", ".", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := src.Path(tt.bucket, tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, ContentTypeGzip, ContentTypeFor("E2ABC.2024-01-15-10.a1b2.GZ"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("noext"))
	assert.Contains(t, ContentTypeFor("notes.txt"), "text/plain")
}
