package pipeline

import (
	"fmt"

	"factorlab/internal/domain"
)

// validator checks one construction rule of a term.
type validator func(t *Term) error

func validate(t *Term, validators []validator) error {
	for _, v := range validators {
		if err := v(t); err != nil {
			return err
		}
	}
	return nil
}

var (
	latestValidators = []validator{singleInput, columnInput, supportedDType}

	isNullValidators = []validator{singleInput, computedInput}

	percentileValidators = []validator{singleInput, factorInput, percentileBounds}

	customValidators = []validator{declaredInputs, positiveWindowLength, kindDType, computePresent}
)

func singleInput(t *Term) error {
	if len(t.inputs) != 1 {
		return &InputsError{Term: t.name, Reason: fmt.Sprintf("takes exactly one input, got %d", len(t.inputs))}
	}
	return nil
}

func columnInput(t *Term) error {
	if t.inputs[0].kind != KindColumn {
		return &InputsError{Term: t.name, Reason: fmt.Sprintf("input %s is a %s, want a column", t.inputs[0], t.inputs[0].kind)}
	}
	return nil
}

func computedInput(t *Term) error {
	if k := t.inputs[0].kind; k != KindFactor && k != KindClassifier {
		return &InputsError{Term: t.name, Reason: fmt.Sprintf("input %s is a %s, want a factor or classifier", t.inputs[0], k)}
	}
	return nil
}

func factorInput(t *Term) error {
	if t.inputs[0].kind != KindFactor {
		return &InputsError{Term: t.name, Reason: fmt.Sprintf("input %s is a %s, want a factor", t.inputs[0], t.inputs[0].kind)}
	}
	return nil
}

func supportedDType(t *Term) error {
	if !t.dtype.Valid() {
		return &UnsupportedDataTypeError{Term: t.name, DType: t.dtype}
	}
	return nil
}

func percentileBounds(t *Term) error {
	if !(0 <= t.minPct && t.minPct < t.maxPct && t.maxPct <= 100) {
		return &BadPercentileBoundsError{Min: t.minPct, Max: t.maxPct}
	}
	return nil
}

func declaredInputs(t *Term) error {
	if len(t.inputs) == 0 {
		return &InputsError{Term: t.name, Reason: "no inputs declared"}
	}
	for _, in := range t.inputs {
		if in.kind == KindFilter && in.op == opAssetExists {
			continue
		}
		if !in.dtype.Valid() {
			return &UnsupportedDataTypeError{Term: t.name, DType: in.dtype}
		}
	}
	return nil
}

func positiveWindowLength(t *Term) error {
	if t.window <= 0 {
		return &WindowLengthError{Term: t.name, WindowLength: t.window}
	}
	return nil
}

// kindDType pins filters to bool and classifiers to int64; factors may be
// float64, int64 or datetime.
func kindDType(t *Term) error {
	ok := false
	switch t.kind {
	case KindFilter:
		ok = t.dtype == domain.Bool
	case KindClassifier:
		ok = t.dtype == domain.Int64
	case KindFactor:
		ok = t.dtype == domain.Float64 || t.dtype == domain.Int64 || t.dtype == domain.Datetime
	}
	if !ok {
		return &UnsupportedDataTypeError{Term: t.name, DType: t.dtype}
	}
	return nil
}

func computePresent(t *Term) error {
	if t.custom == nil || t.custom.Compute == nil {
		return &InputsError{Term: t.name, Reason: "no compute function"}
	}
	return nil
}
