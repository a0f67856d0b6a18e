// Package model defines the core data structures shared by ingestion and queries.
package model

import (
	"strings"
)

// Column names of the extended access log format used by ingestion.
const (
	ColumnDate      = "date"
	ColumnTime      = "time"
	ColumnQuery     = "cs-uri-query"
	ColumnRequestID = "x-edge-request-id"
	ColumnUserAgent = "cs(User-Agent)"
	ColumnClientIP  = "c-ip"
	ColumnLocation  = "x-edge-location"
)

// NoQuery is written by the edge in place of an empty query string.
const NoQuery = "-"

// Payload keys that are promoted to top-level Event fields.
const (
	PayloadDate      = "Date"
	PayloadTime      = "Time"
	PayloadUserAgent = "UserAgent"
	PayloadIPAddress = "IpAddress"
	PayloadLocation  = "Location"
)

// LogRow maps the header's column names to the raw field values of one log line.
// Columns missing from a short line are absent from the map.
type LogRow map[string]string

// Get returns the value of a column and whether the line carried it.
func (r LogRow) Get(column string) (string, bool) {
	v, ok := r[column]
	return v, ok
}

// SanitizeKey replaces every space with an underscore so a property name is
// usable as a storage attribute name. It is idempotent.
func SanitizeKey(key string) string {
	return strings.ReplaceAll(key, " ", "_")
}

// PropertyBag holds the custom properties carried by an event payload.
// Keys are always sanitized.
type PropertyBag map[string]any

// NewPropertyBag returns an empty bag.
func NewPropertyBag() PropertyBag {
	return make(PropertyBag)
}

// Set stores a value under the sanitized form of key. When two raw keys
// sanitize to the same name the last write wins.
func (b PropertyBag) Set(key string, value any) {
	b[SanitizeKey(key)] = value
}

// Take removes key from the bag and returns its value.
func (b PropertyBag) Take(key string) (any, bool) {
	v, ok := b[key]
	if ok {
		delete(b, key)
	}
	return v, ok
}

// Event is the canonical record persisted for one valid log line.
// ID is the upsert key: writing the same ID twice keeps only the latest record.
type Event struct {
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Date      string      `json:"date"`
	Time      string      `json:"time"`
	UserAgent string      `json:"userAgent"`
	IPAddress string      `json:"ipAddress"`
	Location  string      `json:"location"`
	Data      PropertyBag `json:"data"`
}
