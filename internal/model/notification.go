package model

import (
	"fmt"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
)

// Notification identifies one object that should be ingested.
type Notification struct {
	EventName string `json:"eventName"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	Size      int64  `json:"size,omitempty"`
}

// IsObjectCreated reports whether the notification announces a new object.
func (n Notification) IsObjectCreated() bool {
	return strings.HasPrefix(n.EventName, "ObjectCreated:")
}

func (n Notification) String() string {
	return n.Bucket + "/" + n.Key
}

type s3Envelope struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseNotifications decodes an object store event envelope. Object keys
// arrive form-encoded and are unescaped, turning '+' into a space.
func ParseNotifications(data []byte) ([]Notification, error) {
	var env s3Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding notification: %w", err)
	}
	if env.Records == nil {
		return nil, fmt.Errorf("decoding notification: no Records field")
	}

	out := make([]Notification, 0, len(env.Records))
	for i, rec := range env.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("record %d: unescaping key %q: %w", i, rec.S3.Object.Key, err)
		}
		if rec.S3.Bucket.Name == "" || key == "" {
			return nil, fmt.Errorf("record %d: bucket and key are required", i)
		}
		out = append(out, Notification{
			EventName: rec.EventName,
			Bucket:    rec.S3.Bucket.Name,
			Key:       key,
			Size:      rec.S3.Object.Size,
		})
	}
	return out, nil
}
