package pipeline

import (
	"fmt"
	"math"
	"sort"

	"factorlab/internal/domain"
)

// IsNull is true where t holds its missing value. NaN counts as equal to a
// NaN missing value.
func (g *Graph) IsNull(t *Term, opts ...TermOption) (*Term, error) {
	name := fmt.Sprintf("IsNull(%s)", t)
	if t == nil {
		return nil, &InputsError{Term: name, Reason: "nil input"}
	}
	if err := g.checkOwned(name, []*Term{t}); err != nil {
		return nil, err
	}
	cfg := applyOptions(opts)
	mask, err := g.resolveMask(name, cfg.mask)
	if err != nil {
		return nil, err
	}
	f := &Term{
		name:   name,
		kind:   KindFilter,
		op:     opIsNull,
		dtype:  domain.Bool,
		inputs: []*Term{t},
		mask:   mask,
	}
	if err := validate(f, isNullValidators); err != nil {
		return nil, err
	}
	return g.intern(f), nil
}

// NotNull is the negation of IsNull.
func (g *Graph) NotNull(t *Term, opts ...TermOption) (*Term, error) {
	f, err := g.IsNull(t, opts...)
	if err != nil {
		return nil, err
	}
	return g.Not(f)
}

// PercentileBetween is true where factor t lies within the [minPct, maxPct]
// percentile band of its row. Percentiles are computed across the assets
// passing the mask, ignoring NaN. Bounds must satisfy
// 0 <= minPct < maxPct <= 100.
func (g *Graph) PercentileBetween(t *Term, minPct, maxPct float64, opts ...TermOption) (*Term, error) {
	name := fmt.Sprintf("PercentileBetween(%s, %g, %g)", t, minPct, maxPct)
	if t == nil {
		return nil, &InputsError{Term: name, Reason: "nil input"}
	}
	if err := g.checkOwned(name, []*Term{t}); err != nil {
		return nil, err
	}
	cfg := applyOptions(opts)
	mask, err := g.resolveMask(name, cfg.mask)
	if err != nil {
		return nil, err
	}
	f := &Term{
		name:   name,
		kind:   KindFilter,
		op:     opPercentile,
		dtype:  domain.Bool,
		inputs: []*Term{t},
		mask:   mask,
		minPct: minPct,
		maxPct: maxPct,
	}
	if err := validate(f, percentileValidators); err != nil {
		return nil, err
	}
	return g.intern(f), nil
}

// nanPercentiles returns the q-th percentiles of the non-NaN values of row,
// interpolating linearly between closest ranks. All results are NaN when
// the row holds no values.
func nanPercentiles(row []float64, qs ...float64) []float64 {
	vals := make([]float64, 0, len(row))
	for _, v := range row {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	out := make([]float64, len(qs))
	if len(vals) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	sort.Float64s(vals)
	for i, q := range qs {
		rank := q / 100 * float64(len(vals)-1)
		lo := int(math.Floor(rank))
		hi := int(math.Ceil(rank))
		out[i] = vals[lo] + (vals[hi]-vals[lo])*(rank-float64(lo))
	}
	return out
}
