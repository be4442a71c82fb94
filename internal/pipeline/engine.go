package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/domain"
	"factorlab/internal/observability"
	"factorlab/internal/util"
	"factorlab/internal/window"
)

// DataLoader supplies the columns of one dataset. The returned arrays are
// keyed by Column.Key and have a row per session and a column per asset.
type DataLoader interface {
	Load(ctx context.Context, columns []Column, sessions []time.Time, assets []domain.Asset) (map[string]*window.AdjustedArray, error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLoader registers the loader serving dataset.
func WithLoader(dataset string, l DataLoader) EngineOption {
	return func(e *Engine) { e.loaders[dataset] = l }
}

// WithMetrics records run, term and load counts on m.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// Engine evaluates pipelines over a fixed asset universe and calendar.
type Engine struct {
	cal     *util.TradingCalendar
	assets  []domain.Asset
	loaders map[string]DataLoader
	metrics *observability.Metrics
	log     *slog.Logger
}

// NewEngine creates an Engine computing terms for assets on cal's sessions.
func NewEngine(cal *util.TradingCalendar, assets []domain.Asset, opts ...EngineOption) *Engine {
	e := &Engine{
		cal:     cal,
		assets:  append([]domain.Asset(nil), assets...),
		loaders: make(map[string]DataLoader),
		log:     slog.Default().With("component", "pipeline"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// entry is a computed or loaded term: its values and the position of its
// first row in the run's session index.
type entry struct {
	array *window.AdjustedArray
	start int
}

// Run computes p for every session in [start, end]. Windowed terms read
// the sessions before start as well; ErrInsufficientHistory is returned
// when the calendar does not reach back far enough.
func (e *Engine) Run(ctx context.Context, p *Pipeline, start, end time.Time) (res *Result, err error) {
	began := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordPipelineRun(status, time.Since(began).Seconds())
	}()

	if len(e.assets) == 0 {
		return nil, errors.New("pipeline: engine has no assets")
	}
	roots := p.roots()
	if len(roots) == 0 {
		return nil, errors.New("pipeline: nothing to compute")
	}

	order := topoSort(roots)
	extra := extraRows(order)
	maxExtra := 0
	for _, n := range extra {
		maxExtra = max(maxExtra, n)
	}

	first, last := e.cal.Bounds(start, end)
	if last < first {
		return nil, fmt.Errorf("%w: %s to %s", ErrEmptyRange, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	if first < maxExtra {
		return nil, fmt.Errorf("%w: need %d sessions before %s, calendar has %d",
			ErrInsufficientHistory, maxExtra, e.cal.At(first).Format("2006-01-02"), first)
	}
	sessions := e.cal.Range(first-maxExtra, last)
	n := last - first + 1
	e.log.Debug("pipeline run", "terms", len(order), "sessions", n, "extra_rows", maxExtra)

	ws := make(map[*Term]*entry, len(order))
	if err := e.load(ctx, order, sessions, ws); err != nil {
		return nil, err
	}

	for _, t := range order {
		if t.op == opColumn {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := maxExtra - extra[t]
		out, err := e.compute(t, base, n+extra[t], sessions, ws)
		if err != nil {
			return nil, err
		}
		ws[t] = &entry{array: window.NewAdjustedArray(out, t.dtype, nil), start: base}
		e.metrics.RecordTerm(t.kind.String())
	}

	res = &Result{
		Dates:   sessions[maxExtra:],
		Assets:  append([]domain.Asset(nil), e.assets...),
		Names:   p.Names(),
		Columns: make(map[string]*mat.Dense, len(p.names)),
	}
	tail := func(t *Term) *mat.Dense {
		data := ws[t].array.Data
		_, cols := data.Dims()
		return mat.DenseCopyOf(data.Slice(extra[t], extra[t]+n, 0, cols))
	}
	for _, name := range p.names {
		res.Columns[name] = tail(p.columns[name])
	}
	if p.screen != nil {
		res.Screen = tail(p.screen)
	}
	return res, nil
}

// topoSort orders the terms reachable from roots so every term follows its
// inputs and mask.
func topoSort(roots []*Term) []*Term {
	seen := make(map[*Term]bool)
	var out []*Term
	var visit func(t *Term)
	visit = func(t *Term) {
		if seen[t] {
			return
		}
		seen[t] = true
		for _, in := range t.inputs {
			visit(in)
		}
		if t.mask != nil {
			visit(t.mask)
		}
		out = append(out, t)
	}
	for _, r := range roots {
		visit(r)
	}
	return out
}

// extraRows computes how many sessions before the first output date each
// term must be computed for: an input needs its consumer's extra rows plus
// the consumer's window, a mask needs its consumer's extra rows.
func extraRows(order []*Term) map[*Term]int {
	extra := make(map[*Term]int, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]
		need := extra[t] + max(t.window, 1) - 1
		for _, in := range t.inputs {
			extra[in] = max(extra[in], need)
		}
		if t.mask != nil {
			extra[t.mask] = max(extra[t.mask], extra[t])
		}
	}
	return extra
}

// load fetches every column term over sessions, one loader call per dataset.
func (e *Engine) load(ctx context.Context, order []*Term, sessions []time.Time, ws map[*Term]*entry) error {
	var datasets []string
	byDataset := make(map[string][]*Term)
	for _, t := range order {
		if t.op != opColumn {
			continue
		}
		ds := t.column.Dataset
		if _, ok := byDataset[ds]; !ok {
			datasets = append(datasets, ds)
		}
		byDataset[ds] = append(byDataset[ds], t)
	}

	for _, ds := range datasets {
		loader, ok := e.loaders[ds]
		if !ok {
			return fmt.Errorf("pipeline: no loader for dataset %q", ds)
		}
		terms := byDataset[ds]
		cols := make([]Column, len(terms))
		for i, t := range terms {
			cols[i] = t.column
		}
		arrays, err := loader.Load(ctx, cols, sessions, e.assets)
		if err != nil {
			return fmt.Errorf("loading %s: %w", ds, err)
		}
		for _, t := range terms {
			arr, ok := arrays[t.column.Key()]
			if !ok {
				return fmt.Errorf("loading %s: loader returned no data for %s", ds, t.column)
			}
			if r, c := arr.Dims(); r != len(sessions) || c != len(e.assets) {
				return fmt.Errorf("loading %s: %s is %dx%d, want %dx%d", ds, t.column, r, c, len(sessions), len(e.assets))
			}
			ws[t] = &entry{array: arr, start: 0}
		}
		e.metrics.RecordLoad(ds, len(sessions))
	}
	return nil
}

// traverse returns a window of length w over in, positioned so its first
// slice ends at session base.
func traverse(in *entry, base, w int) (*window.Window, error) {
	return in.array.Traverse(w, base-w+1-in.start)
}

// aligned returns rows of in starting at session base.
func aligned(in *entry, base, rows int) (*mat.Dense, error) {
	return in.array.Aligned(base-in.start, rows)
}

// compute evaluates t for rows sessions starting at session base.
func (e *Engine) compute(t *Term, base, rows int, sessions []time.Time, ws map[*Term]*entry) (*mat.Dense, error) {
	cols := len(e.assets)
	out := mat.NewDense(rows, cols, nil)

	var mask *mat.Dense
	if t.mask != nil {
		m, err := aligned(ws[t.mask], base, rows)
		if err != nil {
			return nil, fmt.Errorf("mask of %s: %w", t, err)
		}
		mask = m
	}
	masked := func(r, c int) bool { return mask != nil && mask.At(r, c) == 0 }

	switch t.op {
	case opAssetExists:
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				out.Set(r, c, 1)
			}
		}

	case opLatest:
		w, err := traverse(ws[t.inputs[0]], base, 1)
		if err != nil {
			return nil, fmt.Errorf("computing %s: %w", t, err)
		}
		for r := 0; r < rows; r++ {
			if r > 0 {
				if _, err := w.Advance(); err != nil {
					return nil, fmt.Errorf("computing %s: %w", t, err)
				}
			}
			cur := w.Current()
			for c := 0; c < cols; c++ {
				v := cur.At(0, c)
				if masked(r, c) {
					v = t.missing
				}
				out.Set(r, c, v)
			}
		}

	case opExpression:
		ins := make([]*mat.Dense, len(t.inputs))
		for i, in := range t.inputs {
			m, err := aligned(ws[in], base, rows)
			if err != nil {
				return nil, fmt.Errorf("computing %s: %w", t, err)
			}
			ins[i] = m
		}
		vals := make([]float64, len(ins))
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				for i, m := range ins {
					vals[i] = m.At(r, c)
				}
				v := t.eval(vals)
				switch {
				case t.kind == KindFilter:
					v = b2f(truthy(v) && !masked(r, c))
				case masked(r, c):
					v = t.missing
				}
				out.Set(r, c, v)
			}
		}

	case opIsNull:
		in := t.inputs[0]
		m, err := aligned(ws[in], base, rows)
		if err != nil {
			return nil, fmt.Errorf("computing %s: %w", t, err)
		}
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				out.Set(r, c, b2f(isMissing(m.At(r, c), in.missing) && !masked(r, c)))
			}
		}

	case opPercentile:
		m, err := aligned(ws[t.inputs[0]], base, rows)
		if err != nil {
			return nil, fmt.Errorf("computing %s: %w", t, err)
		}
		row := make([]float64, cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				row[c] = m.At(r, c)
				if masked(r, c) {
					row[c] = math.NaN()
				}
			}
			bounds := nanPercentiles(row, t.minPct, t.maxPct)
			for c, v := range row {
				out.Set(r, c, b2f(!math.IsNaN(v) && bounds[0] <= v && v <= bounds[1]))
			}
		}

	case opCustom:
		if err := e.computeCustom(t, base, rows, sessions, ws, out, masked); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("computing %s: unsupported term", t)
	}
	return out, nil
}

func (e *Engine) computeCustom(t *Term, base, rows int, sessions []time.Time, ws map[*Term]*entry, out *mat.Dense, masked func(r, c int) bool) error {
	windows := make([]*window.Window, len(t.inputs))
	for i, in := range t.inputs {
		w, err := traverse(ws[in], base, t.window)
		if err != nil {
			return fmt.Errorf("computing %s: input %s: %w", t, in, err)
		}
		windows[i] = w
	}

	sids := domain.SIDs(e.assets)
	buf := make([]float64, len(e.assets))
	inputs := make([]*mat.Dense, len(windows))
	for r := 0; r < rows; r++ {
		for i, w := range windows {
			if r > 0 {
				if _, err := w.Advance(); err != nil {
					return fmt.Errorf("computing %s: %w", t, err)
				}
			}
			inputs[i] = w.Current()
		}
		for c := range buf {
			buf[c] = t.missing
		}
		today := sessions[base+r]
		if err := t.custom.Compute(today, sids, buf, inputs...); err != nil {
			return fmt.Errorf("computing %s on %s: %w", t, today.Format("2006-01-02"), err)
		}
		for c := range buf {
			if masked(r, c) {
				buf[c] = t.missing
			}
		}
		out.SetRow(r, buf)
	}
	return nil
}
