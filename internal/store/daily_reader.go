package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/domain"
	"factorlab/internal/util"
)

// Compile-time interface check.
var _ RawReader = (*DailyBarReader)(nil)

// DailyBarReader aligns bars from a BarStore onto a trading calendar.
type DailyBarReader struct {
	bars     BarStore
	market   string
	calendar *util.TradingCalendar
}

// NewDailyBarReader creates a reader over bars of market aligned to cal.
func NewDailyBarReader(bars BarStore, market domain.Market, cal *util.TradingCalendar) *DailyBarReader {
	return &DailyBarReader{bars: bars, market: string(market), calendar: cal}
}

// Calendar returns the sessions the arrays are aligned to.
func (r *DailyBarReader) Calendar() *util.TradingCalendar { return r.calendar }

// LoadRawArrays implements RawReader. Bars falling on non-session dates are
// ignored.
func (r *DailyBarReader) LoadRawArrays(ctx context.Context, fields []domain.Field, start, end time.Time, assets []domain.Asset) ([]*mat.Dense, error) {
	sessions := r.calendar.Slice(start, end)
	if len(sessions) == 0 {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoSessions, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	if len(fields) == 0 || len(assets) == 0 {
		return nil, errors.New("load raw arrays: no fields or assets requested")
	}

	rowOf := make(map[time.Time]int, len(sessions))
	for i, s := range sessions {
		rowOf[s] = i
	}

	out := make([]*mat.Dense, len(fields))
	for i, f := range fields {
		fill := math.NaN()
		if f.IsVolume() {
			fill = 0
		}
		data := make([]float64, len(sessions)*len(assets))
		for j := range data {
			data[j] = fill
		}
		out[i] = mat.NewDense(len(sessions), len(assets), data)
	}

	// Bars are stamped at midnight UTC of their session; read through the
	// end of the last day.
	last := sessions[len(sessions)-1].Add(24*time.Hour - time.Millisecond)
	for col, asset := range assets {
		bars, err := r.bars.ReadBars(ctx, asset.Symbol, r.market, sessions[0], last)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s: %w", asset, err)
		}
		for _, b := range bars {
			row, ok := rowOf[util.NormalizeDate(b.Timestamp)]
			if !ok {
				continue
			}
			for i, f := range fields {
				out[i].Set(row, col, f.Value(b))
			}
		}
	}
	return out, nil
}
