// Package window serves fixed-length trailing views over 2D time series
// (rows = dates, columns = assets), applying scheduled adjustments exactly
// once as the view advances.
package window

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/adjustment"
	"factorlab/internal/domain"
)

var (
	// ErrOutOfBounds is returned when a window would move past the end of
	// its backing array, or backwards.
	ErrOutOfBounds = errors.New("window out of bounds")

	// ErrUnsupportedDataType is returned for dtypes a window cannot carry.
	ErrUnsupportedDataType = errors.New("unsupported data type")

	// ErrWindowLength is returned for non-positive window lengths.
	ErrWindowLength = errors.New("window length must be positive")
)

// Window is a cursor over an array producing the length rows ending at the
// anchor. The anchor only moves forward.
//
// Slices returned by Current, Advance and Seek alias the window's buffer and
// are only valid until the next call that moves the anchor.
type Window struct {
	buf     *mat.Dense
	dtype   domain.DType
	length  int
	anchor  int
	sched   adjustment.Schedule
	pending []int
}

// New builds a window over raw. raw itself is never modified: the window
// adjusts a private copy. Every adjustment triggered at or before anchor is
// applied immediately, so a window built at a later anchor matches one built
// earlier and advanced to it.
func New(raw mat.Matrix, dtype domain.DType, sched adjustment.Schedule, anchor, length int) (*Window, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDataType, dtype)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrWindowLength, length)
	}
	rows, cols := raw.Dims()
	if anchor < length-1 || anchor >= rows {
		return nil, fmt.Errorf("%w: anchor %d with length %d over %d rows", ErrOutOfBounds, anchor, length, rows)
	}
	for row, adjs := range sched {
		for _, a := range adjs {
			if !a.Fits(rows, cols) {
				return nil, fmt.Errorf("%w: %s at row %d outside %dx%d", adjustment.ErrBadAdjustment, a, row, rows, cols)
			}
		}
	}
	if sched == nil {
		sched = adjustment.Schedule{}
	}

	w := &Window{
		buf:     mat.DenseCopyOf(raw),
		dtype:   dtype,
		length:  length,
		anchor:  anchor,
		sched:   sched,
		pending: sched.Rows(),
	}
	w.applyThrough(anchor)
	return w, nil
}

// applyThrough consumes every pending trigger row <= row.
func (w *Window) applyThrough(row int) {
	for len(w.pending) > 0 && w.pending[0] <= row {
		for _, a := range w.sched[w.pending[0]] {
			a.Apply(w.buf)
		}
		w.pending = w.pending[1:]
	}
}

// Anchor is the index of the current last row.
func (w *Window) Anchor() int { return w.anchor }

// Length is the number of rows in each emitted slice.
func (w *Window) Length() int { return w.length }

// Rows is the length of the backing array.
func (w *Window) Rows() int {
	r, _ := w.buf.Dims()
	return r
}

// DType is the element type of the window.
func (w *Window) DType() domain.DType { return w.dtype }

// Pending counts the adjustments not yet applied.
func (w *Window) Pending() int {
	n := 0
	for _, row := range w.pending {
		n += len(w.sched[row])
	}
	return n
}

// Current returns the length rows ending at the anchor.
func (w *Window) Current() *mat.Dense {
	_, cols := w.buf.Dims()
	return w.buf.Slice(w.anchor-w.length+1, w.anchor+1, 0, cols).(*mat.Dense)
}

// Advance moves the anchor forward one row, applies the adjustments
// triggered there and returns the new trailing slice.
func (w *Window) Advance() (*mat.Dense, error) {
	next := w.anchor + 1
	if next >= w.Rows() {
		return nil, fmt.Errorf("%w: advance to row %d of %d", ErrOutOfBounds, next, w.Rows())
	}
	w.anchor = next
	w.applyThrough(next)
	return w.Current(), nil
}

// Seek advances until the anchor reaches target.
func (w *Window) Seek(target int) (*mat.Dense, error) {
	if target < w.anchor {
		return nil, fmt.Errorf("%w: seek back from row %d to %d", ErrOutOfBounds, w.anchor, target)
	}
	if target >= w.Rows() {
		return nil, fmt.Errorf("%w: seek to row %d of %d", ErrOutOfBounds, target, w.Rows())
	}
	for w.anchor < target {
		if _, err := w.Advance(); err != nil {
			return nil, err
		}
	}
	return w.Current(), nil
}

// Values copies column col of the current slice. Int64 windows are
// truncated toward zero; NaN is left in place.
func (w *Window) Values(col int) []float64 {
	out := mat.Col(nil, col, w.Current())
	if w.dtype == domain.Int64 {
		for i, v := range out {
			if !math.IsNaN(v) {
				out[i] = math.Trunc(v)
			}
		}
	}
	return out
}
