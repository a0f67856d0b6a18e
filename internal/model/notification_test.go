package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotifications(t *testing.T) {
	body := []byte(`{"Records":[
		{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"logs"},"object":{"key":"edge/E2ABC.2024-01-15-10.a1b2+c3%3D.gz","size":512}}},
		{"eventName":"ObjectRemoved:Delete","s3":{"bucket":{"name":"logs"},"object":{"key":"old.gz"}}}
	]}`)

	got, err := ParseNotifications(body)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, Notification{
		EventName: "ObjectCreated:Put",
		Bucket:    "logs",
		Key:       "edge/E2ABC.2024-01-15-10.a1b2 c3=.gz",
		Size:      512,
	}, got[0])
	assert.True(t, got[0].IsObjectCreated())
	assert.False(t, got[1].IsObjectCreated())
	assert.Equal(t, "logs/old.gz", got[1].String())
}

func TestParseNotifications_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `nope`},
		{"no records", `{}`},
		{"missing bucket", `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"a.gz"}}}]}`},
		{"bad escape", `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"b"},"object":{"key":"a%zz"}}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNotifications([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse()

	assert.False(t, r.Success)
	assert.NotNil(t, r.Errors)
	assert.NotNil(t, r.Data.Events)
	assert.Equal(t, int64(-1), r.Data.TotalEvents)
	assert.Equal(t, -1, r.Data.Page)

	r.Fail("boom")
	assert.Equal(t, []string{"boom"}, r.Errors)
}
