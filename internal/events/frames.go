// Package events aligns point-in-time event records onto a session index:
// for every session and asset, what was the next known event date, or the
// most recent event value, given only what had been announced by then.
package events

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/domain"
)

// NullDate marks a cell with no known date in a date frame.
var NullDate = math.NaN()

// DateValue encodes t as a date-frame value (unix seconds).
func DateValue(t time.Time) float64 { return float64(t.Unix()) }

// ValueDate decodes a date-frame value. ok is false for NullDate.
func ValueDate(v float64) (t time.Time, ok bool) {
	if math.IsNaN(v) {
		return time.Time{}, false
	}
	return time.Unix(int64(v), 0).UTC(), true
}

// emptyFrame returns a frame shaped for dates x sids, which may be empty.
func emptyFrame(rows, cols int, fill float64) *mat.Dense {
	if rows == 0 || cols == 0 {
		return &mat.Dense{}
	}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = fill
	}
	return mat.NewDense(rows, cols, data)
}

func byKnowledgeDate(evs []domain.Event) []domain.Event {
	out := append([]domain.Event(nil), evs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].KnowledgeDate.Before(out[j].KnowledgeDate)
	})
	return out
}

// NextDateFrame returns, for each date and sid, the soonest event date that
// was known on that date and has not yet happened. Cells without such an
// event hold NullDate. Column j belongs to sids[j].
func NextDateFrame(dates []time.Time, sids []int64, eventsBySID map[int64][]domain.Event) *mat.Dense {
	out := emptyFrame(len(dates), len(sids), NullDate)
	if len(dates) == 0 || len(sids) == 0 {
		return out
	}
	for col, sid := range sids {
		for _, ev := range byKnowledgeDate(eventsBySID[sid]) {
			ed := DateValue(ev.EventDate)
			for row, d := range dates {
				if d.Before(ev.KnowledgeDate) || d.After(ev.EventDate) {
					continue
				}
				if cur := out.At(row, col); math.IsNaN(cur) || ed <= cur {
					out.Set(row, col, ed)
				}
			}
		}
	}
	return out
}

// PreviousEventFrame returns, for each date and sid, value(e) of the most
// recent event e whose as-of date (the later of its knowledge and event
// dates) is on or before that date. Cells before the first such event hold
// missing. Events whose as-of date falls after the last date are ignored.
func PreviousEventFrame(dates []time.Time, sids []int64, eventsBySID map[int64][]domain.Event, missing float64, value func(domain.Event) float64) *mat.Dense {
	out := emptyFrame(len(dates), len(sids), missing)
	if len(dates) == 0 || len(sids) == 0 {
		return out
	}
	last := dates[len(dates)-1]
	written := make([]bool, len(dates))
	for col, sid := range sids {
		clear(written)
		for _, ev := range byKnowledgeDate(eventsBySID[sid]) {
			if ev.EventDate.After(last) {
				continue
			}
			asOf := ev.AsOf()
			row := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(asOf) })
			if row == len(dates) {
				continue
			}
			out.Set(row, col, value(ev))
			written[row] = true
		}
		// Forward-fill from every written row until the next one.
		have := false
		var carry float64
		for row := range dates {
			if written[row] {
				have, carry = true, out.At(row, col)
				continue
			}
			if have {
				out.Set(row, col, carry)
			}
		}
	}
	return out
}

// EventValue returns the event's payload.
func EventValue(e domain.Event) float64 { return e.Value }

// EventDateValue returns the event's date as a date-frame value.
func EventDateValue(e domain.Event) float64 { return DateValue(e.EventDate) }
