package pipeline

import (
	"fmt"

	"factorlab/internal/domain"
)

// Graph owns a set of terms and de-duplicates them: constructing a term
// whose kind, inputs, window length, mask and parameters equal an existing
// term's returns the existing term. A Graph is not safe for concurrent use.
type Graph struct {
	byIdentity map[string]*Term
	terms      []*Term
	exists     *Term
	defs       map[string]*CustomDef
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		byIdentity: make(map[string]*Term),
		defs:       make(map[string]*CustomDef),
	}
}

// definition returns the graph's custom definition for key, building it on
// first use. Parameterised built-ins share one definition per parameter set
// so that equal requests unify.
func (g *Graph) definition(key string, build func() *CustomDef) *CustomDef {
	if d, ok := g.defs[key]; ok {
		return d
	}
	d := build()
	g.defs[key] = d
	return d
}

// Len is the number of distinct terms in the graph.
func (g *Graph) Len() int { return len(g.terms) }

// Terms returns the graph's terms in creation order.
func (g *Graph) Terms() []*Term { return append([]*Term(nil), g.terms...) }

// intern returns the graph's term equal to t, adding t if there is none.
func (g *Graph) intern(t *Term) *Term {
	key := t.identity()
	if existing, ok := g.byIdentity[key]; ok {
		return existing
	}
	t.id = len(g.terms)
	g.byIdentity[key] = t
	g.terms = append(g.terms, t)
	return t
}

// owns reports whether t was created by g.
func (g *Graph) owns(t *Term) bool {
	return t != nil && t.id < len(g.terms) && g.terms[t.id] == t
}

// Column returns the leaf term loading c.
func (g *Graph) Column(c Column) *Term {
	return g.intern(&Term{
		name:    "Column(" + c.Key() + ")",
		kind:    KindColumn,
		op:      opColumn,
		dtype:   c.DType,
		missing: c.Missing,
		column:  c,
	})
}

// AssetExists is the universe filter: true for every asset on every date.
// It is the default mask of every computed term.
func (g *Graph) AssetExists() *Term {
	if g.exists == nil {
		g.exists = g.intern(&Term{
			name:  "AssetExists()",
			kind:  KindFilter,
			op:    opAssetExists,
			dtype: domain.Bool,
		})
	}
	return g.exists
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

type termConfig struct {
	inputs    []*Term
	hasInputs bool
	window    int
	hasWindow bool
	mask      *Term
	params    map[string]any
}

// TermOption overrides a term's defaults.
type TermOption func(*termConfig)

// WithInputs replaces the default inputs.
func WithInputs(inputs ...*Term) TermOption {
	return func(c *termConfig) {
		c.inputs = append([]*Term(nil), inputs...)
		c.hasInputs = true
	}
}

// WithWindowLength replaces the default window length.
func WithWindowLength(n int) TermOption {
	return func(c *termConfig) {
		c.window = n
		c.hasWindow = true
	}
}

// WithMask restricts computation to the assets passing mask.
func WithMask(mask *Term) TermOption {
	return func(c *termConfig) { c.mask = mask }
}

// WithParams attaches named parameters. They are part of the term's
// identity and readable through Term.Param.
func WithParams(params map[string]any) TermOption {
	return func(c *termConfig) {
		if c.params == nil {
			c.params = make(map[string]any, len(params))
		}
		for k, v := range params {
			c.params[k] = v
		}
	}
}

func applyOptions(opts []TermOption) termConfig {
	var cfg termConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// resolveMask checks mask belongs to g and is a filter, defaulting to
// AssetExists.
func (g *Graph) resolveMask(name string, mask *Term) (*Term, error) {
	if mask == nil {
		return g.AssetExists(), nil
	}
	if !g.owns(mask) {
		return nil, &InputsError{Term: name, Reason: fmt.Sprintf("mask %s belongs to another graph", mask)}
	}
	if mask.kind != KindFilter {
		return nil, &InputsError{Term: name, Reason: fmt.Sprintf("mask %s is a %s, want a filter", mask, mask.kind)}
	}
	return mask, nil
}

// checkOwned verifies every input was created by g.
func (g *Graph) checkOwned(name string, inputs []*Term) error {
	for _, in := range inputs {
		if in == nil {
			return &InputsError{Term: name, Reason: "nil input"}
		}
		if !g.owns(in) {
			return &InputsError{Term: name, Reason: fmt.Sprintf("input %s belongs to another graph", in)}
		}
	}
	return nil
}
