package pipeline

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/domain"
)

// ComputeFunc computes one session of a custom term. out has one entry per
// asset, pre-filled with the term's missing value, and must be fully
// written for every asset the term covers. inputs[i] holds the trailing
// window of the i-th input: WindowLength rows by one column per sid.
//
// The input matrices are only valid for the duration of the call.
type ComputeFunc func(today time.Time, sids []int64, out []float64, inputs ...*mat.Dense) error

// CustomDef declares a user-defined term. Inputs and WindowLength are
// defaults that TermOptions may override. A zero MissingValue is replaced
// by the kind's default unless HasMissing is set.
type CustomDef struct {
	Name         string
	Kind         Kind
	DType        domain.DType
	MissingValue float64
	HasMissing   bool
	Inputs       []Column
	WindowLength int
	Compute      ComputeFunc
}

// Custom instantiates def. Two calls with the same def and equal options
// return the same term.
func (g *Graph) Custom(def *CustomDef, opts ...TermOption) (*Term, error) {
	if def == nil {
		return nil, &InputsError{Term: "Custom", Reason: "nil definition"}
	}
	cfg := applyOptions(opts)

	inputs := cfg.inputs
	if !cfg.hasInputs {
		inputs = make([]*Term, len(def.Inputs))
		for i, c := range def.Inputs {
			inputs[i] = g.Column(c)
		}
	}
	if err := g.checkOwned(def.Name, inputs); err != nil {
		return nil, err
	}
	window := def.WindowLength
	if cfg.hasWindow {
		window = cfg.window
	}
	mask, err := g.resolveMask(def.Name, cfg.mask)
	if err != nil {
		return nil, err
	}

	dtype := def.DType
	if dtype == domain.InvalidDType {
		switch def.Kind {
		case KindFilter:
			dtype = domain.Bool
		case KindClassifier:
			dtype = domain.Int64
		default:
			dtype = domain.Float64
		}
	}
	missing := missingFor(def.Kind, dtype)
	if def.HasMissing {
		missing = def.MissingValue
	}

	t := &Term{
		name:    def.Name,
		kind:    def.Kind,
		op:      opCustom,
		dtype:   dtype,
		missing: missing,
		inputs:  inputs,
		window:  window,
		mask:    mask,
		custom:  def,
		params:  cfg.params,
	}
	if err := validate(t, customValidators); err != nil {
		return nil, err
	}
	return g.intern(t), nil
}
