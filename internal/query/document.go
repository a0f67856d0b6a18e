package query

import (
	"fmt"
	"strings"

	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// Document field names.
const (
	FieldTimestamp = "timestamp"
	FieldData      = "data"
)

// DocumentQuery is an Elasticsearch query DSL object.
type DocumentQuery map[string]any

// Variant implements BackendQuery.
func (DocumentQuery) Variant() Variant { return VariantDocument }

// DocumentCompiler compiles filters into a bool query. Every condition is
// required to hold; negated operators go to must_not.
type DocumentCompiler struct{}

// Compile implements Compiler.
func (DocumentCompiler) Compile(f model.Filter) BackendQuery {
	filter := []any{
		map[string]any{"range": map[string]any{
			FieldTimestamp: map[string]any{"gt": f.StartTime(), "lt": f.EndTime()},
		}},
	}
	var mustNot []any

	for _, c := range f.Conditions() {
		field := FieldData + "." + model.SanitizeKey(c.Property)

		switch c.Operator {
		case model.OpEquals:
			filter = append(filter, term(field, c.Value))
		case model.OpNotEquals:
			mustNot = append(mustNot, term(field, c.Value))
		case model.OpExists:
			filter = append(filter, exists(field))
		case model.OpNotExists:
			mustNot = append(mustNot, exists(field))
		case model.OpContains:
			filter = append(filter, map[string]any{"wildcard": map[string]any{
				field: map[string]any{
					"value":            "*" + escapeWildcard(stringify(c.Value)) + "*",
					"case_insensitive": true,
				},
			}})
		case model.OpStartsWith:
			filter = append(filter, map[string]any{"prefix": map[string]any{
				field: map[string]any{
					"value":            stringify(c.Value),
					"case_insensitive": true,
				},
			}})
		}
	}

	boolQuery := map[string]any{"filter": filter}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}
	return DocumentQuery{"bool": boolQuery}
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func exists(field string) map[string]any {
	return map[string]any{"exists": map[string]any{"field": field}}
}

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

func escapeWildcard(s string) string {
	return wildcardEscaper.Replace(s)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
