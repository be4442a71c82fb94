package pipeline

import (
	"fmt"

	"factorlab/internal/domain"
)

// Latest is the most recent value of a column. It is a filter for bool
// columns and a factor otherwise. Only WithMask is honoured.
func (g *Graph) Latest(col *Term, opts ...TermOption) (*Term, error) {
	name := fmt.Sprintf("Latest(%s)", col)
	if col == nil {
		return nil, &InputsError{Term: name, Reason: "nil input"}
	}
	if err := g.checkOwned(name, []*Term{col}); err != nil {
		return nil, err
	}
	cfg := applyOptions(opts)
	mask, err := g.resolveMask(name, cfg.mask)
	if err != nil {
		return nil, err
	}

	kind := KindFactor
	if col.dtype == domain.Bool {
		kind = KindFilter
	}
	t := &Term{
		name:    name,
		kind:    kind,
		op:      opLatest,
		dtype:   col.dtype,
		missing: col.missing,
		inputs:  []*Term{col},
		window:  1,
		mask:    mask,
	}
	if kind == KindFilter {
		t.missing = 0
	}
	if err := validate(t, latestValidators); err != nil {
		return nil, err
	}
	return g.intern(t), nil
}

// LatestOf is Latest over the graph's column term for c.
func (g *Graph) LatestOf(c Column, opts ...TermOption) (*Term, error) {
	return g.Latest(g.Column(c), opts...)
}
