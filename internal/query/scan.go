package query

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// Item attribute names of the wide-column table.
const (
	AttrID        = "event_id"
	AttrSource    = "event_source"
	AttrTimestamp = "event_timeStamp"
	AttrDate      = "event_date"
	AttrTime      = "event_time"
	AttrUserAgent = "event_userAgent"
	AttrIPAddress = "event_ipAddress"
	AttrLocation  = "event_location"
	AttrData      = "event_data"
)

// Defaults for ScanCompiler.
const (
	DefaultIndex  = "event_source-event_timeStamp-index"
	DefaultSource = "Website"
)

// Fixed placeholders of the key condition.
const (
	PlaceholderSource    = ":v_source"
	PlaceholderStartTime = ":v_startTime"
	PlaceholderEndTime   = ":v_endTime"
)

// Attribute value type tags.
const (
	TypeString = "S"
	TypeNumber = "N"
	TypeBool   = "BOOL"
)

// AttributeValue is a typed expression value.
type AttributeValue struct {
	Type  string
	Value string
}

// MarshalJSON renders the value in the backend's wire form, e.g. {"S":"x"}.
func (a AttributeValue) MarshalJSON() ([]byte, error) {
	if a.Type == TypeBool {
		return json.Marshal(map[string]bool{a.Type: a.Value == "true"})
	}
	return json.Marshal(map[string]string{a.Type: a.Value})
}

// ScanQuery is a key-conditioned query with a filter expression over the
// nested event data.
type ScanQuery struct {
	TableName                 string                    `json:"TableName"`
	IndexName                 string                    `json:"IndexName"`
	KeyConditionExpression    string                    `json:"KeyConditionExpression"`
	FilterExpression          string                    `json:"FilterExpression,omitempty"`
	ExpressionAttributeNames  map[string]string         `json:"ExpressionAttributeNames,omitempty"`
	ExpressionAttributeValues map[string]AttributeValue `json:"ExpressionAttributeValues"`
	ProjectionExpression      string                    `json:"ProjectionExpression"`
}

// Variant implements BackendQuery.
func (*ScanQuery) Variant() Variant { return VariantScan }

// ScanCompiler compiles filters into ScanQuery values.
type ScanCompiler struct {
	Table  string
	Index  string
	Source string
}

// Compile implements Compiler.
func (c ScanCompiler) Compile(f model.Filter) BackendQuery {
	index := c.Index
	if index == "" {
		index = DefaultIndex
	}
	source := c.Source
	if source == "" {
		source = DefaultSource
	}

	q := &ScanQuery{
		TableName: c.Table,
		IndexName: index,
		KeyConditionExpression: fmt.Sprintf("(%s BETWEEN %s AND %s) AND %s = %s",
			AttrTimestamp, PlaceholderStartTime, PlaceholderEndTime, AttrSource, PlaceholderSource),
		ExpressionAttributeValues: map[string]AttributeValue{
			PlaceholderSource:    {Type: TypeString, Value: source},
			PlaceholderStartTime: {Type: TypeNumber, Value: strconv.FormatInt(f.StartTime(), 10)},
			PlaceholderEndTime:   {Type: TypeNumber, Value: strconv.FormatInt(f.EndTime(), 10)},
		},
		ProjectionExpression: AttrID,
	}

	var clauses []string
	for _, cond := range f.Conditions() {
		if _, known := model.ParseOperator(string(cond.Operator)); !known {
			continue
		}
		path := AttrData + "." + q.name(cond.Property)

		switch cond.Operator {
		case model.OpEquals:
			ph := q.bind(cond, "")
			clauses = append(clauses, path+" = "+ph)
		case model.OpNotEquals:
			ph := q.bind(cond, "_not")
			clauses = append(clauses, path+" <> "+ph)
		case model.OpExists:
			clauses = append(clauses, "attribute_exists ("+path+")")
		case model.OpNotExists:
			clauses = append(clauses, "attribute_not_exists ("+path+")")
		case model.OpContains:
			ph := q.bind(cond, "_substring")
			clauses = append(clauses, "contains ("+path+", "+ph+")")
		case model.OpStartsWith:
			ph := q.bind(cond, "_prefix")
			clauses = append(clauses, "begins_with ("+path+", "+ph+")")
		}
	}
	q.FilterExpression = strings.Join(clauses, " AND ")

	return q
}

// name returns the attribute name placeholder for a property of the event
// data, registering it on first use. Property names can be reserved words or
// hold characters the expression grammar rejects, so they are always aliased.
func (q *ScanQuery) name(property string) string {
	key := model.SanitizeKey(property)
	for ph, n := range q.ExpressionAttributeNames {
		if n == key {
			return ph
		}
	}
	if q.ExpressionAttributeNames == nil {
		q.ExpressionAttributeNames = make(map[string]string)
	}
	ph := "#p" + strconv.Itoa(len(q.ExpressionAttributeNames)+1)
	q.ExpressionAttributeNames[ph] = key
	return ph
}

// bind registers the condition value under a fresh placeholder and returns
// the placeholder name.
func (q *ScanQuery) bind(cond model.Condition, suffix string) string {
	base := ":v_" + placeholderName(cond.Property) + suffix
	ph := base
	for n := 2; ; n++ {
		if _, taken := q.ExpressionAttributeValues[ph]; !taken {
			break
		}
		ph = base + "_" + strconv.Itoa(n)
	}
	q.ExpressionAttributeValues[ph] = typedValue(cond.Value)
	return ph
}

// placeholderName sanitizes a property and replaces any character not valid
// in a placeholder with an underscore.
func placeholderName(property string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, model.SanitizeKey(property))
}

func typedValue(v any) AttributeValue {
	switch tv := v.(type) {
	case string:
		return AttributeValue{Type: TypeString, Value: tv}
	case float64:
		return AttributeValue{Type: TypeNumber, Value: strconv.FormatFloat(tv, 'f', -1, 64)}
	case bool:
		return AttributeValue{Type: TypeBool, Value: strconv.FormatBool(tv)}
	}
	return AttributeValue{Type: TypeString, Value: fmt.Sprint(v)}
}
