package pipeline

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"factorlab/internal/domain"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// eachColumn calls fn with a copy of every asset column of m, writing the
// result into out.
func eachColumn(m *mat.Dense, out []float64, fn func(col []float64) float64) {
	rows, _ := m.Dims()
	buf := make([]float64, rows)
	for j := range out {
		out[j] = fn(mat.Col(buf, j, m))
	}
}

// finite returns the non-NaN values of xs.
func finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

func nanMean(xs []float64) float64 {
	vals := finite(xs)
	if len(vals) == 0 {
		return math.NaN()
	}
	return stat.Mean(vals, nil)
}

// exponentialWeights returns decay^(n-1-i): the newest row weighs 1.
func exponentialWeights(n int, decay float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = math.Pow(decay, float64(n-1-i))
	}
	return w
}

// busdayCount counts Monday-Friday dates in [from, to); negative when to
// is before from.
func busdayCount(from, to time.Time) float64 {
	from, to = dateOf(from), dateOf(to)
	sign := 1.0
	if to.Before(from) {
		from, to, sign = to, from, -1
	}
	days := int(to.Sub(from).Hours() / 24)
	weeks, rest := days/7, days%7
	n := weeks * 5
	for d := 0; d < rest; d++ {
		if wd := from.AddDate(0, 0, weeks*7+d).Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return sign * float64(n)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func windowAtLeast(name string, window, least int) error {
	if window < least {
		return &WindowLengthError{Term: name, WindowLength: window}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Price factors
// ---------------------------------------------------------------------------

var smaDef = &CustomDef{
	Name: "SimpleMovingAverage",
	Kind: KindFactor,
	Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
		eachColumn(inputs[0], out, nanMean)
		return nil
	},
}

// SimpleMovingAverage is the mean of input over the trailing window,
// ignoring NaN.
func (g *Graph) SimpleMovingAverage(input Column, window int, opts ...TermOption) (*Term, error) {
	return g.Custom(smaDef, append([]TermOption{WithInputs(g.Column(input)), WithWindowLength(window)}, opts...)...)
}

var returnsDef = &CustomDef{
	Name:   "Returns",
	Kind:   KindFactor,
	Inputs: []Column{EquityPricing.Close},
	Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
		eachColumn(inputs[0], out, func(col []float64) float64 {
			return (col[len(col)-1] - col[0]) / col[0]
		})
		return nil
	},
}

// Returns is the fractional change in close over window sessions.
func (g *Graph) Returns(window int, opts ...TermOption) (*Term, error) {
	if err := windowAtLeast("Returns", window, 2); err != nil {
		return nil, err
	}
	return g.Custom(returnsDef, append([]TermOption{WithWindowLength(window)}, opts...)...)
}

var advDef = &CustomDef{
	Name:   "AverageDollarVolume",
	Kind:   KindFactor,
	Inputs: []Column{EquityPricing.Close, EquityPricing.Volume},
	Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
		closes, volumes := inputs[0], inputs[1]
		rows, _ := closes.Dims()
		c, v, dv := make([]float64, rows), make([]float64, rows), make([]float64, rows)
		for j := range out {
			mat.Col(c, j, closes)
			mat.Col(v, j, volumes)
			floats.MulTo(dv, c, v)
			out[j] = nanMean(dv)
		}
		return nil
	},
}

// AverageDollarVolume is the mean of close times volume over the window.
func (g *Graph) AverageDollarVolume(window int, opts ...TermOption) (*Term, error) {
	return g.Custom(advDef, append([]TermOption{WithWindowLength(window)}, opts...)...)
}

var vwapDef = &CustomDef{
	Name:   "VWAP",
	Kind:   KindFactor,
	Inputs: []Column{EquityPricing.Close, EquityPricing.Volume},
	Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
		closes, volumes := inputs[0], inputs[1]
		rows, _ := closes.Dims()
		for j := range out {
			var px, vol []float64
			for i := 0; i < rows; i++ {
				c, v := closes.At(i, j), volumes.At(i, j)
				if math.IsNaN(c) || math.IsNaN(v) {
					continue
				}
				px, vol = append(px, c), append(vol, v)
			}
			if floats.Sum(vol) == 0 {
				out[j] = math.NaN()
				continue
			}
			out[j] = floats.Dot(px, vol) / floats.Sum(vol)
		}
		return nil
	},
}

// VWAP is the volume-weighted average close over the window.
func (g *Graph) VWAP(window int, opts ...TermOption) (*Term, error) {
	return g.Custom(vwapDef, append([]TermOption{WithWindowLength(window)}, opts...)...)
}

var maxDrawdownDef = &CustomDef{
	Name: "MaxDrawdown",
	Kind: KindFactor,
	Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
		eachColumn(inputs[0], out, func(col []float64) float64 {
			vals := finite(col)
			if len(vals) == 0 {
				return math.NaN()
			}
			peak, worst := vals[0], 0.0
			for _, v := range vals {
				peak = math.Max(peak, v)
				if peak != 0 {
					worst = math.Max(worst, (peak-v)/peak)
				}
			}
			return worst
		})
		return nil
	},
}

// MaxDrawdown is the largest peak-to-trough decline of input within the
// window, as a positive fraction of the peak.
func (g *Graph) MaxDrawdown(input Column, window int, opts ...TermOption) (*Term, error) {
	return g.Custom(maxDrawdownDef, append([]TermOption{WithInputs(g.Column(input)), WithWindowLength(window)}, opts...)...)
}

var rsiDef = &CustomDef{
	Name:         "RSI",
	Kind:         KindFactor,
	Inputs:       []Column{EquityPricing.Close},
	WindowLength: 15,
	Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
		eachColumn(inputs[0], out, func(col []float64) float64 {
			if len(col) < 2 {
				return math.NaN()
			}
			ups := make([]float64, 0, len(col)-1)
			downs := make([]float64, 0, len(col)-1)
			for i := 1; i < len(col); i++ {
				d := col[i] - col[i-1]
				ups = append(ups, math.Max(d, 0))
				downs = append(downs, -math.Min(d, 0))
			}
			up, down := nanMean(ups), nanMean(downs)
			return 100 - 100/(1+up/down)
		})
		return nil
	},
}

// RSI is the relative strength index of close over the window, 15 sessions
// by default.
func (g *Graph) RSI(opts ...TermOption) (*Term, error) {
	return g.Custom(rsiDef, opts...)
}

func checkDecay(name string, decay float64) error {
	if !(decay > 0 && decay <= 1) {
		return &InputsError{Term: name, Reason: fmt.Sprintf("decay must be in (0, 1], got %g", decay)}
	}
	return nil
}

// EWMA is the exponentially weighted mean of input over the window; the
// newest row has weight 1 and each older row decay times the next.
func (g *Graph) EWMA(input Column, window int, decay float64, opts ...TermOption) (*Term, error) {
	if err := checkDecay("EWMA", decay); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("EWMA(decay=%g)", decay)
	def := g.definition(name, func() *CustomDef {
		return &CustomDef{
			Name: name,
			Kind: KindFactor,
			Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
				rows, _ := inputs[0].Dims()
				weights := exponentialWeights(rows, decay)
				eachColumn(inputs[0], out, func(col []float64) float64 {
					return stat.Mean(col, weights)
				})
				return nil
			},
		}
	})
	return g.Custom(def, append([]TermOption{WithInputs(g.Column(input)), WithWindowLength(window)}, opts...)...)
}

// EWMSTD is the exponentially weighted standard deviation of input over the
// window, with EWMA's weighting.
func (g *Graph) EWMSTD(input Column, window int, decay float64, opts ...TermOption) (*Term, error) {
	if err := checkDecay("EWMSTD", decay); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("EWMSTD(decay=%g)", decay)
	def := g.definition(name, func() *CustomDef {
		return &CustomDef{
			Name: name,
			Kind: KindFactor,
			Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
				rows, _ := inputs[0].Dims()
				weights := exponentialWeights(rows, decay)
				dev := make([]float64, rows)
				eachColumn(inputs[0], out, func(col []float64) float64 {
					mean := stat.Mean(col, weights)
					for i, x := range col {
						dev[i] = (x - mean) * (x - mean)
					}
					return math.Sqrt(stat.Mean(dev, weights))
				})
				return nil
			},
		}
	})
	return g.Custom(def, append([]TermOption{WithInputs(g.Column(input)), WithWindowLength(window)}, opts...)...)
}

// ---------------------------------------------------------------------------
// Event factors
// ---------------------------------------------------------------------------

func datetimeInput(name string, c Column) error {
	if c.DType != domain.Datetime {
		return &UnsupportedDataTypeError{Term: name, DType: c.DType}
	}
	return nil
}

var daysSinceDef = &CustomDef{
	Name:         "BusinessDaysSincePreviousEvent",
	Kind:         KindFactor,
	WindowLength: 1,
	Compute: func(today time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
		row := inputs[0].RawRowView(0)
		for j, v := range row {
			if math.IsNaN(v) {
				out[j] = math.NaN()
				continue
			}
			out[j] = busdayCount(time.Unix(int64(v), 0), today)
		}
		return nil
	},
}

// BusinessDaysSincePreviousEvent counts weekdays from the date in a
// previous-event datetime column up to today. NaN where no event is known.
func (g *Graph) BusinessDaysSincePreviousEvent(c Column, opts ...TermOption) (*Term, error) {
	if err := datetimeInput(daysSinceDef.Name, c); err != nil {
		return nil, err
	}
	return g.Custom(daysSinceDef, append([]TermOption{WithInputs(g.Column(c))}, opts...)...)
}

var daysUntilDef = &CustomDef{
	Name:         "BusinessDaysUntilNextEvent",
	Kind:         KindFactor,
	WindowLength: 1,
	Compute: func(today time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
		row := inputs[0].RawRowView(0)
		for j, v := range row {
			if math.IsNaN(v) {
				out[j] = math.NaN()
				continue
			}
			out[j] = busdayCount(today, time.Unix(int64(v), 0))
		}
		return nil
	},
}

// BusinessDaysUntilNextEvent counts weekdays from today up to the date in a
// next-event datetime column. NaN where no event is known.
func (g *Graph) BusinessDaysUntilNextEvent(c Column, opts ...TermOption) (*Term, error) {
	if err := datetimeInput(daysUntilDef.Name, c); err != nil {
		return nil, err
	}
	return g.Custom(daysUntilDef, append([]TermOption{WithInputs(g.Column(c))}, opts...)...)
}
