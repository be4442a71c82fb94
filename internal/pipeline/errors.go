package pipeline

import (
	"errors"
	"fmt"

	"factorlab/internal/domain"
)

var (
	// ErrConstruction is the base of every error raised while building a
	// term with invalid parameters.
	ErrConstruction = errors.New("invalid term")

	// ErrBadBinaryOperator is returned when an operator is applied to
	// operands it does not support.
	ErrBadBinaryOperator = errors.New("bad binary operator")

	// ErrInsufficientHistory is returned when the calendar holds fewer
	// sessions before the start date than the pipeline's windows need.
	ErrInsufficientHistory = errors.New("insufficient history before start date")

	// ErrEmptyRange is returned when no session falls in the requested range.
	ErrEmptyRange = errors.New("no sessions in range")
)

// BadPercentileBoundsError reports percentile bounds outside
// 0 <= min < max <= 100.
type BadPercentileBoundsError struct {
	Min, Max float64
}

func (e *BadPercentileBoundsError) Error() string {
	return fmt.Sprintf("bad percentile bounds: min=%g max=%g (want 0 <= min < max <= 100)", e.Min, e.Max)
}

func (e *BadPercentileBoundsError) Unwrap() error { return ErrConstruction }

// UnsupportedDataTypeError reports a dtype a term cannot produce or consume.
type UnsupportedDataTypeError struct {
	Term  string
	DType domain.DType
}

func (e *UnsupportedDataTypeError) Error() string {
	return fmt.Sprintf("%s: unsupported data type %s", e.Term, e.DType)
}

func (e *UnsupportedDataTypeError) Unwrap() error { return ErrConstruction }

// WindowLengthError reports a window length a term cannot use.
type WindowLengthError struct {
	Term         string
	WindowLength int
}

func (e *WindowLengthError) Error() string {
	return fmt.Sprintf("%s: window length must be positive, got %d", e.Term, e.WindowLength)
}

func (e *WindowLengthError) Unwrap() error { return ErrConstruction }

// InputsError reports missing or wrongly typed inputs.
type InputsError struct {
	Term   string
	Reason string
}

func (e *InputsError) Error() string {
	return fmt.Sprintf("%s: %s", e.Term, e.Reason)
}

func (e *InputsError) Unwrap() error { return ErrConstruction }

// BadBinaryOperatorError names the operator and operands that could not be
// combined.
type BadBinaryOperatorError struct {
	Op          string
	Left, Right string
}

func (e *BadBinaryOperatorError) Error() string {
	return fmt.Sprintf("bad binary operator: %s %s %s", e.Left, e.Op, e.Right)
}

func (e *BadBinaryOperatorError) Unwrap() error { return ErrBadBinaryOperator }

// Must returns t or panics with err. It is meant for pipelines built from
// constant parameters.
func Must(t *Term, err error) *Term {
	if err != nil {
		panic(err)
	}
	return t
}
