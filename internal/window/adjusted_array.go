package window

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/adjustment"
	"factorlab/internal/domain"
)

// AdjustedArray pairs raw data with the adjustments scheduled against it. It
// is immutable; every traversal gets its own Window.
type AdjustedArray struct {
	Data        *mat.Dense
	DType       domain.DType
	Adjustments adjustment.Schedule
}

// NewAdjustedArray wraps data. A nil schedule means no adjustments.
func NewAdjustedArray(data *mat.Dense, dtype domain.DType, sched adjustment.Schedule) *AdjustedArray {
	if sched == nil {
		sched = adjustment.Schedule{}
	}
	return &AdjustedArray{Data: data, DType: dtype, Adjustments: sched}
}

// Dims returns the rows and columns of the data.
func (a *AdjustedArray) Dims() (int, int) { return a.Data.Dims() }

// Traverse returns a window of the given length over the rows starting at
// offset, positioned at its first full slice.
func (a *AdjustedArray) Traverse(length, offset int) (*Window, error) {
	rows, cols := a.Data.Dims()
	if length <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrWindowLength, length)
	}
	if offset < 0 || offset+length > rows {
		return nil, fmt.Errorf("%w: traverse length %d from row %d of %d", ErrOutOfBounds, length, offset, rows)
	}
	view := a.Data.Slice(offset, rows, 0, cols)
	return New(view, a.DType, a.Adjustments.Shift(offset), length-1, length)
}

// Aligned returns n rows starting at offset, each as it is visible on its
// own date. Without adjustments this is a view of the data.
func (a *AdjustedArray) Aligned(offset, n int) (*mat.Dense, error) {
	rows, cols := a.Data.Dims()
	if offset < 0 || n <= 0 || offset+n > rows {
		return nil, fmt.Errorf("%w: align %d rows from row %d of %d", ErrOutOfBounds, n, offset, rows)
	}
	if a.Adjustments.Len() == 0 {
		return a.Data.Slice(offset, offset+n, 0, cols).(*mat.Dense), nil
	}

	w, err := a.Traverse(1, offset)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		if i > 0 {
			if _, err := w.Advance(); err != nil {
				return nil, err
			}
		}
		out.SetRow(i, w.Current().RawRowView(0))
	}
	return out, nil
}
