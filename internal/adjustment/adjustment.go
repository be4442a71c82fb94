// Package adjustment implements the value-mutation records applied to windows
// of historical data when corporate actions take effect.
package adjustment

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ErrBadAdjustment is returned for malformed adjustment rectangles.
var ErrBadAdjustment = errors.New("bad adjustment")

// Kind identifies how an adjustment mutates values.
type Kind uint8

const (
	// Multiply scales every value in the rectangle by Value.
	Multiply Kind = iota + 1
)

func (k Kind) String() string {
	if k == Multiply {
		return "Multiply"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Adjustment mutates the closed rectangle [FirstRow,LastRow] x
// [FirstCol,LastCol] of a 2D array.
type Adjustment struct {
	Kind     Kind
	FirstRow int
	LastRow  int
	FirstCol int
	LastCol  int
	Value    float64
}

// NewMultiply builds a Multiply adjustment, rejecting inverted or negative
// bounds.
func NewMultiply(firstRow, lastRow, firstCol, lastCol int, value float64) (Adjustment, error) {
	a := Adjustment{
		Kind:     Multiply,
		FirstRow: firstRow,
		LastRow:  lastRow,
		FirstCol: firstCol,
		LastCol:  lastCol,
		Value:    value,
	}
	if err := a.validate(); err != nil {
		return Adjustment{}, err
	}
	return a, nil
}

func (a Adjustment) validate() error {
	if a.Kind != Multiply {
		return fmt.Errorf("%w: unsupported kind %s", ErrBadAdjustment, a.Kind)
	}
	if a.FirstRow < 0 || a.FirstCol < 0 {
		return fmt.Errorf("%w: negative bound in %s", ErrBadAdjustment, a)
	}
	if a.FirstRow > a.LastRow || a.FirstCol > a.LastCol {
		return fmt.Errorf("%w: inverted bounds in %s", ErrBadAdjustment, a)
	}
	return nil
}

func (a Adjustment) String() string {
	return fmt.Sprintf("%s(rows=[%d,%d], cols=[%d,%d], value=%g)",
		a.Kind, a.FirstRow, a.LastRow, a.FirstCol, a.LastCol, a.Value)
}

// Fits reports whether the rectangle lies inside an r x c array.
func (a Adjustment) Fits(r, c int) bool {
	return a.LastRow < r && a.LastCol < c
}

// Apply mutates m in place. The rectangle must fit m.
func (a Adjustment) Apply(m *mat.Dense) {
	for i := a.FirstRow; i <= a.LastRow; i++ {
		row := m.RawRowView(i)
		for j := a.FirstCol; j <= a.LastCol; j++ {
			row[j] *= a.Value
		}
	}
}

// Shift moves the rectangle up by offset rows, clipping at row zero. The
// second result is false when nothing of the rectangle remains visible.
func (a Adjustment) Shift(offset int) (Adjustment, bool) {
	a.FirstRow -= offset
	a.LastRow -= offset
	if a.LastRow < 0 {
		return Adjustment{}, false
	}
	if a.FirstRow < 0 {
		a.FirstRow = 0
	}
	return a, true
}

// Schedule maps the row at which adjustments take effect to the adjustments
// triggered there, in insertion order.
type Schedule map[int][]Adjustment

// Add appends a to the adjustments triggered at row.
func (s Schedule) Add(row int, a Adjustment) {
	s[row] = append(s[row], a)
}

// Rows returns the trigger rows in ascending order.
func (s Schedule) Rows() []int {
	rows := make([]int, 0, len(s))
	for r := range s {
		rows = append(rows, r)
	}
	sort.Ints(rows)
	return rows
}

// Len counts the scheduled adjustments.
func (s Schedule) Len() int {
	n := 0
	for _, adjs := range s {
		n += len(adjs)
	}
	return n
}

// Shift re-keys the schedule for a view starting offset rows later. Trigger
// rows before the view collapse onto row zero, keeping their relative order.
func (s Schedule) Shift(offset int) Schedule {
	if offset == 0 {
		return s
	}
	out := make(Schedule, len(s))
	for _, row := range s.Rows() {
		key := row - offset
		if key < 0 {
			key = 0
		}
		for _, a := range s[row] {
			if shifted, ok := a.Shift(offset); ok {
				out.Add(key, shifted)
			}
		}
	}
	return out
}
