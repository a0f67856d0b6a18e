// Package query compiles validated filters into backend queries and serves
// paginated query requests.
package query

import (
	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// Variant names the representation a backend accepts.
type Variant string

// Supported variants.
const (
	VariantDocument Variant = "document"
	VariantScan     Variant = "scan"
)

// BackendQuery is the compiled, backend-specific form of a Filter. It is
// serialized into responses for diagnostics.
type BackendQuery interface {
	Variant() Variant
}

// Compiler turns a Filter into a BackendQuery. Implementations are pure.
type Compiler interface {
	Compile(f model.Filter) BackendQuery
}
