package pipeline

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/domain"
)

// Pipeline names the terms to compute and an optional screen restricting
// the output rows.
type Pipeline struct {
	graph   *Graph
	names   []string
	columns map[string]*Term
	screen  *Term
}

// New creates an empty pipeline over g.
func New(g *Graph) *Pipeline {
	return &Pipeline{graph: g, columns: make(map[string]*Term)}
}

// Graph returns the graph the pipeline's terms belong to.
func (p *Pipeline) Graph() *Graph { return p.graph }

// Add registers t under name. Names must be unique and t must be a
// computed term of the pipeline's graph.
func (p *Pipeline) Add(name string, t *Term) error {
	if _, dup := p.columns[name]; dup {
		return fmt.Errorf("pipeline column %q already defined", name)
	}
	if t == nil || !p.graph.owns(t) {
		return fmt.Errorf("pipeline column %q: term %v is not in the pipeline's graph", name, t)
	}
	if t.kind == KindColumn {
		return fmt.Errorf("pipeline column %q: %s is not computed; use Latest", name, t)
	}
	p.names = append(p.names, name)
	p.columns[name] = t
	return nil
}

// SetScreen restricts output rows to assets passing filter f.
func (p *Pipeline) SetScreen(f *Term) error {
	if f == nil || !p.graph.owns(f) || f.kind != KindFilter {
		return fmt.Errorf("pipeline screen %v must be a filter of the pipeline's graph", f)
	}
	p.screen = f
	return nil
}

// Names returns the column names in insertion order.
func (p *Pipeline) Names() []string { return append([]string(nil), p.names...) }

// Term returns the term registered under name.
func (p *Pipeline) Term(name string) (*Term, bool) {
	t, ok := p.columns[name]
	return t, ok
}

// Screen returns the screen filter, or nil.
func (p *Pipeline) Screen() *Term { return p.screen }

// roots are the terms the engine must materialise.
func (p *Pipeline) roots() []*Term {
	out := make([]*Term, 0, len(p.names)+1)
	for _, name := range p.names {
		out = append(out, p.columns[name])
	}
	if p.screen != nil {
		out = append(out, p.screen)
	}
	return out
}

// Result holds a pipeline's output: one dates x assets matrix per column.
type Result struct {
	Dates   []time.Time
	Assets  []domain.Asset
	Names   []string
	Columns map[string]*mat.Dense
	// Screen is nil when the pipeline has none; otherwise 1 marks kept cells.
	Screen *mat.Dense
}

// Row is one (date, asset) entry of a Result.
type Row struct {
	Date   time.Time
	Asset  domain.Asset
	Values map[string]float64
}

// Rows flattens the result into date-major rows, skipping cells the screen
// rejects.
func (r *Result) Rows() []Row {
	var out []Row
	for i, d := range r.Dates {
		for j, a := range r.Assets {
			if r.Screen != nil && r.Screen.At(i, j) == 0 {
				continue
			}
			vals := make(map[string]float64, len(r.Names))
			for _, name := range r.Names {
				vals[name] = r.Columns[name].At(i, j)
			}
			out = append(out, Row{Date: d, Asset: a, Values: vals})
		}
	}
	return out
}
