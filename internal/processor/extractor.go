package processor

import (
	"net/url"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// Query string parameters that may carry the encoded payload.
const (
	ParamEventData      = "eventData"
	ParamEventDataSnake = "event_data"
)

// Extractor decodes the payload embedded in a row's query string.
type Extractor struct {
	log *zap.SugaredLogger
}

// NewExtractor creates an Extractor that reports malformed payloads on log.
func NewExtractor(log *zap.SugaredLogger) *Extractor {
	return &Extractor{log: log}
}

// Extract returns the custom properties carried by query. A missing or
// malformed payload yields an empty bag; it never fails the row.
func (e *Extractor) Extract(query string) model.PropertyBag {
	bag := model.NewPropertyBag()
	if query == "" || query == model.NoQuery {
		return bag
	}

	encoded, ok := payloadParam(query)
	if !ok || encoded == "" {
		return bag
	}

	if strings.Contains(encoded, "%") {
		if unescaped, err := url.PathUnescape(encoded); err == nil {
			encoded = unescaped
		}
	}

	data, err := model.DecodeBase64(encoded)
	if err != nil {
		e.log.Warnf("Discarding event payload, invalid base64: error=%v", err)
		return bag
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		e.log.Warnf("Discarding event payload, invalid JSON: error=%v", err)
		return bag
	}

	// Sorted so that keys colliding after sanitization resolve the same way
	// on every run.
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		bag.Set(k, payload[k])
	}

	return bag
}

// payloadParam finds the payload value, preferring eventData over event_data.
func payloadParam(query string) (string, bool) {
	var snake string
	var haveSnake bool

	for _, pair := range strings.Split(query, "&") {
		key, value, _ := strings.Cut(pair, "=")
		switch key {
		case ParamEventData:
			return value, true
		case ParamEventDataSnake:
			if !haveSnake {
				snake, haveSnake = value, true
			}
		}
	}
	return snake, haveSnake
}
