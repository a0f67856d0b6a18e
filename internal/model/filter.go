package model

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Pagination limits applied when a filter is validated.
const (
	DefaultResultsPerPage = 10
	MaxResultsPerPage     = 100
	DefaultPage           = 1
)

// Operator is the canonical name of a condition operator.
type Operator string

// Supported operators.
const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "not-equals"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not-exists"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts-with"
)

var operatorTokens = map[string]Operator{
	"=":           OpEquals,
	"==":          OpEquals,
	"eq":          OpEquals,
	"equals":      OpEquals,
	"!=":          OpNotEquals,
	"<>":          OpNotEquals,
	"ne":          OpNotEquals,
	"not equals":  OpNotEquals,
	"not_equals":  OpNotEquals,
	"not-equals":  OpNotEquals,
	"exists":      OpExists,
	"not exists":  OpNotExists,
	"not_exists":  OpNotExists,
	"not-exists":  OpNotExists,
	"contains":    OpContains,
	"starts with": OpStartsWith,
	"starts_with": OpStartsWith,
	"starts-with": OpStartsWith,
	"begins_with": OpStartsWith,
}

// ParseOperator maps a user supplied token to its canonical operator.
// Matching ignores case and surrounding whitespace. For an unknown token the
// normalized token is returned together with false.
func ParseOperator(token string) (Operator, bool) {
	norm := strings.ToLower(strings.TrimSpace(token))
	if op, ok := operatorTokens[norm]; ok {
		return op, true
	}
	return Operator(norm), false
}

// NeedsValue reports whether the operator compares against a value.
func (o Operator) NeedsValue() bool {
	switch o {
	case OpExists, OpNotExists:
		return false
	}
	return true
}

// Condition is one validated property predicate of a Filter.
type Condition struct {
	Property string   `json:"property"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// RawCondition is a condition as received on the wire.
type RawCondition struct {
	Property string `json:"property"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// RawFilter is the unvalidated query envelope as received on the wire.
type RawFilter struct {
	StartTime      *float64       `json:"startTime,omitempty"`
	EndTime        *float64       `json:"endTime,omitempty"`
	Conditions     []RawCondition `json:"conditions,omitempty"`
	ResultsPerPage *float64       `json:"resultsPerPage,omitempty"`
	Page           *float64       `json:"page,omitempty"`
}

// ValidationError lists every problem found in a raw filter.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// FilterOptions controls filter validation.
type FilterOptions struct {
	// StrictOperators rejects unknown operators. When false they are kept and
	// later compile to no clause.
	StrictOperators bool

	// Now supplies the default end of the time range. Defaults to time.Now.
	Now func() time.Time
}

// Filter is a validated query envelope. It can only be built by NewFilter and
// is never modified afterwards.
type Filter struct {
	startTime      int64
	endTime        int64
	conditions     []Condition
	resultsPerPage int
	page           int
}

// NewFilter validates raw and returns the resulting Filter. Pagination values
// are clamped rather than rejected; structural problems produce a
// *ValidationError.
func NewFilter(raw RawFilter, opts FilterOptions) (Filter, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	verr := &ValidationError{}
	f := Filter{
		startTime:      0,
		endTime:        now().Unix(),
		resultsPerPage: DefaultResultsPerPage,
		page:           DefaultPage,
	}

	if raw.StartTime != nil && *raw.StartTime != 0 {
		f.startTime = int64(*raw.StartTime)
	}
	if raw.EndTime != nil && *raw.EndTime != 0 {
		f.endTime = int64(*raw.EndTime)
	}
	if f.startTime > f.endTime {
		verr.add("startTime (%d) must not be after endTime (%d)", f.startTime, f.endTime)
	}

	if raw.ResultsPerPage != nil && *raw.ResultsPerPage != 0 {
		f.resultsPerPage = clamp(*raw.ResultsPerPage, 1, MaxResultsPerPage)
	}
	if raw.Page != nil && *raw.Page != 0 {
		f.page = clamp(*raw.Page, DefaultPage, math.MaxInt32)
	}

	for i, rc := range raw.Conditions {
		c, problems := newCondition(rc, opts.StrictOperators)
		for _, p := range problems {
			verr.add("conditions[%d]: %s", i, p)
		}
		if len(problems) == 0 {
			f.conditions = append(f.conditions, c)
		}
	}

	if len(verr.Problems) > 0 {
		return Filter{}, verr
	}
	return f, nil
}

func newCondition(rc RawCondition, strict bool) (Condition, []string) {
	var problems []string

	if strings.TrimSpace(rc.Property) == "" {
		problems = append(problems, "property is required")
	}

	op, known := ParseOperator(rc.Operator)
	if !known && strict {
		problems = append(problems, fmt.Sprintf("unknown operator %q", rc.Operator))
	}

	if known && op.NeedsValue() {
		switch rc.Value.(type) {
		case string, float64, bool:
		case nil:
			problems = append(problems, fmt.Sprintf("operator %q requires a value", rc.Operator))
		default:
			problems = append(problems, fmt.Sprintf("value must be a string, number or boolean, got %T", rc.Value))
		}
	}

	return Condition{Property: rc.Property, Operator: op, Value: rc.Value}, problems
}

// DecodeFilter decodes a base64 encoded JSON raw filter and validates it.
// Both the standard and URL-safe alphabets are accepted, padded or not. An
// empty input and any top-level JSON value other than an object are errors;
// "{}" encoded selects everything.
func DecodeFilter(encoded string, opts FilterOptions) (Filter, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Filter{}, &ValidationError{Problems: []string{"query is required"}}
	}

	data, err := DecodeBase64(encoded)
	if err != nil {
		return Filter{}, &ValidationError{Problems: []string{"query is not valid base64: " + err.Error()}}
	}

	raw, err := ParseRawFilter(data)
	if err != nil {
		return Filter{}, err
	}
	return NewFilter(raw, opts)
}

// ParseRawFilter decodes a JSON raw filter. The top-level value must be an
// object.
func ParseRawFilter(data []byte) (RawFilter, error) {
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) == 0 || trimmed[0] != '{' {
		return RawFilter{}, &ValidationError{Problems: []string{"query must be a JSON object"}}
	}

	var raw RawFilter
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawFilter{}, &ValidationError{Problems: []string{"query is not valid JSON: " + err.Error()}}
	}
	return raw, nil
}

// DecodeBase64 decodes s with whichever of the standard or URL-safe
// alphabets, padded or raw, accepts it.
func DecodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// StartTime is the exclusive lower bound in Unix seconds.
func (f Filter) StartTime() int64 { return f.startTime }

// EndTime is the upper bound in Unix seconds.
func (f Filter) EndTime() int64 { return f.endTime }

// ResultsPerPage is always within [1, MaxResultsPerPage].
func (f Filter) ResultsPerPage() int { return f.resultsPerPage }

// Page is always >= 1.
func (f Filter) Page() int { return f.page }

// Offset is the number of matching events preceding the current page.
func (f Filter) Offset() int { return (f.page - 1) * f.resultsPerPage }

// Conditions returns a copy of the ordered conditions.
func (f Filter) Conditions() []Condition {
	out := make([]Condition, len(f.conditions))
	copy(out, f.conditions)
	return out
}

// TotalPages returns ceil(matching / ResultsPerPage).
func (f Filter) TotalPages(matching int64) int64 {
	per := int64(f.resultsPerPage)
	if per <= 0 {
		return 0
	}
	return (matching + per - 1) / per
}

// clamp bounds v before converting so huge inputs cannot overflow int.
func clamp(v float64, lo, hi int) int {
	return int(min(max(v, float64(lo)), float64(hi)))
}
