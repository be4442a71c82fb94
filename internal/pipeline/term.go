// Package pipeline builds and evaluates graphs of per-asset computations:
// Factors (numbers), Filters (booleans) and Classifiers (integer labels)
// over point-in-time dataset columns.
//
// Terms are created through a Graph, which de-duplicates structurally equal
// terms so a shared sub-computation is evaluated once. An Engine loads the
// columns a Pipeline needs and computes every term across a date range.
package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"factorlab/internal/domain"
)

// Kind is the role of a term in the graph.
type Kind uint8

const (
	KindColumn Kind = iota + 1
	KindFactor
	KindFilter
	KindClassifier
)

func (k Kind) String() string {
	switch k {
	case KindColumn:
		return "column"
	case KindFactor:
		return "factor"
	case KindFilter:
		return "filter"
	case KindClassifier:
		return "classifier"
	}
	return "unknown"
}

// op selects how a term is computed.
type op uint8

const (
	opColumn op = iota + 1
	opAssetExists
	opLatest
	opExpression
	opIsNull
	opPercentile
	opCustom
)

// Term is an immutable node of a Graph. Terms are only created by Graph
// methods and are compared by pointer.
type Term struct {
	id      int
	name    string
	kind    Kind
	op      op
	dtype   domain.DType
	missing float64
	inputs  []*Term
	window  int
	mask    *Term

	column         Column
	expr           Expr
	eval           func([]float64) float64
	minPct, maxPct float64
	custom         *CustomDef
	params         map[string]any
}

// ID is the term's position in its graph.
func (t *Term) ID() int { return t.id }

// Kind is the term's role.
func (t *Term) Kind() Kind { return t.kind }

// DType is the element type of the term's output.
func (t *Term) DType() domain.DType { return t.dtype }

// MissingValue is the value written for assets without a result.
func (t *Term) MissingValue() float64 { return t.missing }

// Inputs returns a copy of the term's inputs.
func (t *Term) Inputs() []*Term { return append([]*Term(nil), t.inputs...) }

// WindowLength is the number of trailing rows of each input the term reads;
// 0 means the current row only.
func (t *Term) WindowLength() int { return t.window }

// Mask is the filter restricting which assets the term is computed for. It
// is nil for columns and for the universe filter itself.
func (t *Term) Mask() *Term { return t.mask }

// Column returns the dataset column of a column term.
func (t *Term) Column() (Column, bool) { return t.column, t.op == opColumn }

// Expr returns the expression tree of an expression term.
func (t *Term) Expr() (Expr, bool) { return t.expr, t.op == opExpression }

// Param returns a parameter passed with WithParams.
func (t *Term) Param(name string) (any, bool) {
	v, ok := t.params[name]
	return v, ok
}

func (t *Term) String() string { return t.name }

// identity is the hash-consing key: two terms with equal identities are the
// same node.
func (t *Term) identity() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%d|%d|%s|%v|", t.kind, t.op, t.dtype, formatFloat(t.missing), t.window)
	for i, in := range t.inputs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(in.id))
	}
	b.WriteByte('|')
	if t.mask != nil {
		b.WriteString(strconv.Itoa(t.mask.id))
	}
	b.WriteByte('|')

	switch t.op {
	case opColumn:
		b.WriteString(t.column.Key())
	case opExpression:
		b.WriteString(t.expr.String())
	case opPercentile:
		fmt.Fprintf(&b, "%s,%s", formatFloat(t.minPct), formatFloat(t.maxPct))
	case opCustom:
		fmt.Fprintf(&b, "%s@%p", t.custom.Name, t.custom)
	}
	b.WriteByte('|')
	b.WriteString(formatParams(t.params))
	return b.String()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%#v", k, params[k])
	}
	return strings.Join(parts, ",")
}

// missingFor is the default missing value of a kind and dtype.
func missingFor(kind Kind, dtype domain.DType) float64 {
	switch {
	case kind == KindFilter || dtype == domain.Bool:
		return 0
	case kind == KindClassifier || dtype == domain.Int64:
		return -1
	}
	return math.NaN()
}

// isMissing reports whether v equals missing, treating NaN as equal to NaN.
func isMissing(v, missing float64) bool {
	if math.IsNaN(missing) {
		return math.IsNaN(v)
	}
	return v == missing
}
