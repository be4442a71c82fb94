package adjustment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"factorlab/internal/domain"
)

// Reader returns the corporate actions recorded for a security, ordered by
// date.
type Reader interface {
	AdjustmentsForSID(ctx context.Context, kind domain.AdjustmentKind, sid int64) ([]domain.AdjustmentEvent, error)
}

// Resolver turns corporate-action events into Multiply schedules over a run
// of trading days.
type Resolver struct {
	reader Reader
}

// NewResolver creates a Resolver. A nil reader disables adjustments: every
// schedule it produces is empty.
func NewResolver(r Reader) *Resolver {
	return &Resolver{reader: r}
}

// Enabled reports whether an adjustments source is configured.
func (r *Resolver) Enabled() bool {
	return r != nil && r.reader != nil
}

// InRange schedules the adjustments for sid over days, writing into column
// col. Every event on or before the last day counts; events after it are
// not yet known. Mergers and dividends do not apply to volume.
//
// Each adjustment scales rows [key, len(days)-1] of col, where key is the
// row the event takes effect on: one row before the event for mergers and
// splits, the event row itself for dividends. Events on or before days[0]
// key at row 0 and so cover every row, which keeps the values for a date
// independent of where the range starts.
func (r *Resolver) InRange(ctx context.Context, sid int64, days []time.Time, field domain.Field, col int) (Schedule, error) {
	sched := make(Schedule)
	if !r.Enabled() || len(days) == 0 {
		return sched, nil
	}
	end := days[len(days)-1]
	last := len(days) - 1

	for _, kind := range domain.AdjustmentKinds {
		if field.IsVolume() && kind != domain.Splits {
			continue
		}
		events, err := r.reader.AdjustmentsForSID(ctx, kind, sid)
		if err != nil {
			return nil, fmt.Errorf("reading %s for sid %d: %w", kind, sid, err)
		}
		for _, ev := range events {
			if ev.Date.After(end) {
				continue
			}
			row := searchDays(days, ev.Date)
			key := row
			if kind != domain.Dividends {
				key = max(row-1, 0)
			}
			// Volume uses the split ratio unchanged.
			a, err := NewMultiply(key, last, col, col, ev.Ratio)
			if err != nil {
				return nil, err
			}
			sched.Add(key, a)
		}
	}
	return sched, nil
}

// Load builds one schedule per field covering every asset column: column i
// of each schedule belongs to assets[i].
func (r *Resolver) Load(ctx context.Context, fields []domain.Field, days []time.Time, assets []domain.Asset) (map[domain.Field]Schedule, error) {
	out := make(map[domain.Field]Schedule, len(fields))
	for _, f := range fields {
		merged := make(Schedule)
		for col, asset := range assets {
			s, err := r.InRange(ctx, asset.SID, days, f, col)
			if err != nil {
				return nil, err
			}
			for _, row := range s.Rows() {
				for _, a := range s[row] {
					merged.Add(row, a)
				}
			}
		}
		out[f] = merged
	}
	return out, nil
}

// searchDays returns the index of the first day on or after t.
func searchDays(days []time.Time, t time.Time) int {
	return sort.Search(len(days), func(i int) bool { return !days[i].Before(t) })
}
