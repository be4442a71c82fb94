package pipeline

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/domain"
)

// Quantiles labels each asset with its quantile bucket, 0 to bins-1, of
// factor t within the row. Bucket edges are computed over the assets
// passing the mask; assets with NaN or outside the mask get -1.
func (g *Graph) Quantiles(t *Term, bins int, opts ...TermOption) (*Term, error) {
	if bins < 2 {
		return nil, &InputsError{Term: "Quantiles", Reason: fmt.Sprintf("bins must be at least 2, got %d", bins)}
	}
	if t == nil || t.kind != KindFactor {
		return nil, &InputsError{Term: "Quantiles", Reason: fmt.Sprintf("input %v is not a factor", t)}
	}
	mask, err := g.resolveMask("Quantiles", applyOptions(opts).mask)
	if err != nil {
		return nil, err
	}
	def := g.definition(fmt.Sprintf("Quantiles(%d)", bins), func() *CustomDef {
		return &CustomDef{
			Name:         fmt.Sprintf("Quantiles(%d)", bins),
			Kind:         KindClassifier,
			DType:        domain.Int64,
			WindowLength: 1,
			Compute: func(_ time.Time, _ []int64, out []float64, inputs ...*mat.Dense) error {
				quantileLabels(maskedRow(inputs[0].RawRowView(0), inputs[1].RawRowView(0)), bins, out)
				return nil
			},
		}
	})
	// The mask rides along as an input so the edges only see kept assets.
	return g.Custom(def, append([]TermOption{WithInputs(t, mask)}, opts...)...)
}

// maskedRow copies row with NaN wherever keep is zero.
func maskedRow(row, keep []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		if keep[j] == 0 {
			v = math.NaN()
		}
		out[j] = v
	}
	return out
}

// Quartiles is Quantiles with 4 bins.
func (g *Graph) Quartiles(t *Term, opts ...TermOption) (*Term, error) {
	return g.Quantiles(t, 4, opts...)
}

// EqCode is true where classifier c holds label code.
func (g *Graph) EqCode(c *Term, code int64) (*Term, error) {
	if c == nil || c.kind != KindClassifier {
		return nil, &BadBinaryOperatorError{Op: OpEq.String(), Left: fmt.Sprint(c), Right: fmt.Sprint(code)}
	}
	return g.Eq(c, code)
}

// quantileLabels writes into out the bucket of each value of row: the
// first bucket whose upper edge is >= the value. NaN values keep the
// existing entry.
func quantileLabels(row []float64, bins int, out []float64) {
	qs := make([]float64, bins+1)
	for i := range qs {
		qs[i] = 100 * float64(i) / float64(bins)
	}
	edges := nanPercentiles(row, qs...)
	if math.IsNaN(edges[0]) {
		return
	}
	for j, v := range row {
		if math.IsNaN(v) {
			continue
		}
		label := bins - 1
		for k := 1; k < bins; k++ {
			if v <= edges[k] {
				label = k - 1
				break
			}
		}
		out[j] = float64(label)
	}
}
