package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"factorlab/internal/domain"
	"factorlab/internal/observability"
	"factorlab/internal/util"
	"factorlab/internal/window"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeLoader serves columns generated per (session row, asset column) over
// the whole calendar.
type fakeLoader struct {
	cal      *util.TradingCalendar
	values   map[string]func(row, col int) float64
	sessions [][]time.Time
}

func (f *fakeLoader) Load(_ context.Context, columns []Column, sessions []time.Time, assets []domain.Asset) (map[string]*window.AdjustedArray, error) {
	f.sessions = append(f.sessions, sessions)
	first, err := f.cal.Position(sessions[0])
	if err != nil {
		return nil, err
	}
	out := make(map[string]*window.AdjustedArray, len(columns))
	for _, c := range columns {
		gen, ok := f.values[c.Key()]
		if !ok {
			return nil, errors.New("unknown column " + c.Key())
		}
		m := mat.NewDense(len(sessions), len(assets), nil)
		for r := range sessions {
			for j := range assets {
				m.Set(r, j, gen(first+r, j))
			}
		}
		out[c.Key()] = window.NewAdjustedArray(m, c.DType, nil)
	}
	return out, nil
}

var testAssets = []domain.Asset{
	{SID: 1, Symbol: "AAA"},
	{SID: 2, Symbol: "BBB"},
	{SID: 3, Symbol: "CCC"},
}

// newTestEngine builds an engine over the weekdays of January 2024 where
// asset j closes at 10*(j+1) + row and trades 100 shares a day.
func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *fakeLoader) {
	t.Helper()
	cal := util.WeekdayCalendar(domain.MarketUS,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	loader := &fakeLoader{
		cal: cal,
		values: map[string]func(int, int) float64{
			EquityPricing.Close.Key():  func(r, j int) float64 { return float64(10*(j+1) + r) },
			EquityPricing.Volume.Key(): func(int, int) float64 { return 100 },
		},
	}
	opts = append([]EngineOption{WithLoader(EquityPricingDataset, loader)}, opts...)
	return NewEngine(cal, testAssets, opts...), loader
}

func runAt(t *testing.T, e *Engine, p *Pipeline, first, last int) *Result {
	t.Helper()
	res, err := e.Run(context.Background(), p, e.cal.At(first), e.cal.At(last))
	require.NoError(t, err)
	return res
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunLatestExpressionAndScreen(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGraph()
	p := New(g)

	c := latestClose(t, g)
	cheap := Must(g.Lt(c, 25))
	require.NoError(t, p.Add("close", c))
	require.NoError(t, p.Add("double", Must(g.Mul(c, 2))))
	require.NoError(t, p.SetScreen(cheap))

	res := runAt(t, e, p, 2, 4)
	require.Len(t, res.Dates, 3)
	assert.Equal(t, e.cal.At(2), res.Dates[0])
	assert.Equal(t, []string{"close", "double"}, res.Names)

	assert.Equal(t, 12.0, res.Columns["close"].At(0, 0))
	assert.Equal(t, 22.0, res.Columns["close"].At(0, 1))
	assert.Equal(t, 34.0, res.Columns["close"].At(2, 2))
	assert.Equal(t, 68.0, res.Columns["double"].At(2, 2))

	assert.Equal(t, []float64{1, 1, 0}, res.Screen.RawRowView(0))

	rows := res.Rows()
	require.Len(t, rows, 6)
	assert.Equal(t, "AAA", rows[0].Asset.Symbol)
	assert.Equal(t, 12.0, rows[0].Values["close"])
	assert.Equal(t, "BBB", rows[1].Asset.Symbol)
	assert.Equal(t, 44.0, rows[1].Values["double"])
}

func TestRunWindowedFactorReadsHistory(t *testing.T) {
	e, loader := newTestEngine(t)
	g := NewGraph()
	p := New(g)
	require.NoError(t, p.Add("sma", Must(g.SimpleMovingAverage(EquityPricing.Close, 3))))

	res := runAt(t, e, p, 5, 6)
	// Mean of rows 3..5 and 4..6.
	assert.Equal(t, []float64{14, 24, 34}, res.Columns["sma"].RawRowView(0))
	assert.Equal(t, []float64{15, 25, 35}, res.Columns["sma"].RawRowView(1))

	require.Len(t, loader.sessions, 1)
	assert.Len(t, loader.sessions[0], 4)
	assert.Equal(t, e.cal.At(3), loader.sessions[0][0])
}

func TestRunNestedWindowsAccumulateHistory(t *testing.T) {
	e, loader := newTestEngine(t)
	g := NewGraph()
	p := New(g)

	sma := Must(g.SimpleMovingAverage(EquityPricing.Close, 3))
	def := &CustomDef{
		Name:         "Oldest",
		Kind:         KindFactor,
		WindowLength: 2,
		Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
			copy(out, inputs[0].RawRowView(0))
			return nil
		},
	}
	require.NoError(t, p.Add("lagged", Must(g.Custom(def, WithInputs(sma)))))

	res := runAt(t, e, p, 5, 5)
	// SMA as of row 4 covers rows 2..4.
	assert.Equal(t, []float64{13, 23, 33}, res.Columns["lagged"].RawRowView(0))
	assert.Len(t, loader.sessions[0], 4)
}

func TestRunInsufficientHistory(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGraph()
	p := New(g)
	require.NoError(t, p.Add("sma", Must(g.SimpleMovingAverage(EquityPricing.Close, 3))))

	_, err := e.Run(context.Background(), p, e.cal.At(1), e.cal.At(3))
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	res := runAt(t, e, p, 2, 2)
	assert.Equal(t, []float64{11, 21, 31}, res.Columns["sma"].RawRowView(0))
}

func TestRunEmptyRange(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGraph()
	p := New(g)
	require.NoError(t, p.Add("close", latestClose(t, g)))

	sat := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	_, err := e.Run(context.Background(), p, sat, sat.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrEmptyRange)
}

func TestRunAppliesMask(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGraph()
	p := New(g)

	c := latestClose(t, g)
	big := Must(g.Gt(c, 20))
	require.NoError(t, p.Add("sma", Must(g.SimpleMovingAverage(EquityPricing.Close, 2, WithMask(big)))))
	require.NoError(t, p.Add("latest", Must(g.LatestOf(EquityPricing.Close, WithMask(big)))))
	require.NoError(t, p.Add("band", Must(g.PercentileBetween(c, 0, 50))))
	require.NoError(t, p.Add("maskedBand", Must(g.PercentileBetween(c, 0, 50, WithMask(big)))))

	res := runAt(t, e, p, 5, 5)

	sma := res.Columns["sma"].RawRowView(0)
	assert.True(t, math.IsNaN(sma[0]))
	assert.Equal(t, []float64{24.5, 34.5}, sma[1:])

	latest := res.Columns["latest"].RawRowView(0)
	assert.True(t, math.IsNaN(latest[0]))
	assert.Equal(t, 25.0, latest[1])

	// [15 25 35]: the 0-50 band is [15, 25].
	assert.Equal(t, []float64{1, 1, 0}, res.Columns["band"].RawRowView(0))
	// Masked: [NaN 25 35] gives the band [25, 30].
	assert.Equal(t, []float64{0, 1, 0}, res.Columns["maskedBand"].RawRowView(0))
}

func TestRunIsNull(t *testing.T) {
	e, loader := newTestEngine(t)
	loader.values[EquityPricing.Close.Key()] = func(r, j int) float64 {
		if j == 2 && r == 5 {
			return math.NaN()
		}
		return float64(r)
	}
	g := NewGraph()
	p := New(g)
	c := latestClose(t, g)
	require.NoError(t, p.Add("null", Must(g.IsNull(c))))
	require.NoError(t, p.Add("present", Must(g.NotNull(c))))

	res := runAt(t, e, p, 4, 5)
	assert.Equal(t, []float64{0, 0, 0}, res.Columns["null"].RawRowView(0))
	assert.Equal(t, []float64{0, 0, 1}, res.Columns["null"].RawRowView(1))
	assert.Equal(t, []float64{1, 1, 0}, res.Columns["present"].RawRowView(1))
}

func TestRunQuantiles(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGraph()
	p := New(g)
	q := Must(g.Quartiles(latestClose(t, g)))
	require.NoError(t, p.Add("quartile", q))
	require.NoError(t, p.Add("top", Must(g.EqCode(q, 3))))

	res := runAt(t, e, p, 5, 5)
	// Edges of [15 25 35] are [15 20 25 30 35].
	assert.Equal(t, []float64{0, 1, 3}, res.Columns["quartile"].RawRowView(0))
	assert.Equal(t, []float64{0, 0, 1}, res.Columns["top"].RawRowView(0))
}

func TestRunQuantilesEdgesFollowMask(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGraph()
	p := New(g)
	c := latestClose(t, g)
	big := Must(g.Gt(c, 20))
	require.NoError(t, p.Add("quartile", Must(g.Quartiles(c, WithMask(big)))))

	res := runAt(t, e, p, 5, 5)
	// Edges of the kept [25 35] are [25 27.5 30 32.5 35].
	assert.Equal(t, []float64{-1, 0, 3}, res.Columns["quartile"].RawRowView(0))
}

func TestRunCustomSeesDatesAndSids(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGraph()
	p := New(g)

	var days []time.Time
	var gotSids []int64
	def := &CustomDef{
		Name:         "Recorder",
		Kind:         KindFactor,
		Inputs:       []Column{EquityPricing.Close},
		WindowLength: 2,
		Compute: func(today time.Time, sids []int64, out []float64, inputs ...*mat.Dense) error {
			days = append(days, today)
			gotSids = sids
			rows, _ := inputs[0].Dims()
			for j := range out {
				out[j] = float64(rows)
			}
			return nil
		},
	}
	require.NoError(t, p.Add("rec", Must(g.Custom(def))))

	res := runAt(t, e, p, 3, 5)
	assert.Equal(t, []time.Time{e.cal.At(3), e.cal.At(4), e.cal.At(5)}, days)
	assert.Equal(t, []int64{1, 2, 3}, gotSids)
	assert.Equal(t, []float64{2, 2, 2}, res.Columns["rec"].RawRowView(2))
}

func TestRunCustomError(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGraph()
	p := New(g)

	boom := errors.New("boom")
	def := &CustomDef{
		Name:         "Broken",
		Kind:         KindFactor,
		Inputs:       []Column{EquityPricing.Close},
		WindowLength: 1,
		Compute: func(time.Time, []int64, []float64, ...*mat.Dense) error {
			return boom
		},
	}
	require.NoError(t, p.Add("broken", Must(g.Custom(def))))

	_, err := e.Run(context.Background(), p, e.cal.At(0), e.cal.At(1))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "Broken")
	assert.Contains(t, err.Error(), "2024-01-01")
}

func TestRunEventFactor(t *testing.T) {
	e, loader := newTestEngine(t)
	events := EventDataset("earnings")
	announced := float64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	loader.values[events.PreviousDate.Key()] = func(_, j int) float64 {
		if j == 1 {
			return math.NaN()
		}
		return announced
	}
	e = NewEngine(e.cal, testAssets, WithLoader(EquityPricingDataset, loader), WithLoader("earnings", loader))

	g := NewGraph()
	p := New(g)
	require.NoError(t, p.Add("since", Must(g.BusinessDaysSincePreviousEvent(events.PreviousDate))))

	// Row 5 is Monday 2024-01-08.
	res := runAt(t, e, p, 5, 5)
	since := res.Columns["since"].RawRowView(0)
	assert.Equal(t, 5.0, since[0])
	assert.True(t, math.IsNaN(since[1]))
}

func TestRunMissingLoader(t *testing.T) {
	e, _ := newTestEngine(t)
	g := NewGraph()
	p := New(g)
	require.NoError(t, p.Add("x", Must(g.LatestOf(EventDataset("buybacks").PreviousValue))))

	_, err := e.Run(context.Background(), p, e.cal.At(0), e.cal.At(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"buybacks"`)
}

func TestRunRecordsMetrics(t *testing.T) {
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	e, _ := newTestEngine(t, WithMetrics(m))
	g := NewGraph()
	p := New(g)
	require.NoError(t, p.Add("sma", Must(g.SimpleMovingAverage(EquityPricing.Close, 3))))

	runAt(t, e, p, 5, 6)
	_, err := e.Run(context.Background(), p, e.cal.At(0), e.cal.At(1))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("error")))
	// Two sessions plus two of history.
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RowsLoaded.WithLabelValues(EquityPricingDataset)))
	// AssetExists and the moving average.
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TermsComputed.WithLabelValues("factor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TermsComputed.WithLabelValues("filter")))
}

func TestPipelineAdd(t *testing.T) {
	g := NewGraph()
	p := New(g)
	c := latestClose(t, g)

	require.NoError(t, p.Add("close", c))
	assert.Error(t, p.Add("close", c))
	assert.Error(t, p.Add("raw", g.Column(EquityPricing.Close)))
	assert.Error(t, p.Add("foreign", latestClose(t, NewGraph())))
	assert.Error(t, p.SetScreen(c))

	got, ok := p.Term("close")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Nil(t, p.Screen())
}

func TestRunWithoutColumns(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Run(context.Background(), New(NewGraph()), e.cal.At(0), e.cal.At(1))
	assert.Error(t, err)
}
