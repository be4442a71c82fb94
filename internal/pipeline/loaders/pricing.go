// Package loaders adapts the stores to the pipeline engine's DataLoader
// interface: daily pricing with corporate-action adjustments, and
// point-in-time event datasets.
package loaders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"factorlab/internal/adjustment"
	"factorlab/internal/domain"
	"factorlab/internal/observability"
	"factorlab/internal/pipeline"
	"factorlab/internal/store"
	"factorlab/internal/window"
)

var (
	_ pipeline.DataLoader = (*PricingLoader)(nil)
	_ pipeline.DataLoader = (*EventsLoader)(nil)
)

type options struct {
	metrics *observability.Metrics
	log     *slog.Logger
}

// Option configures a loader.
type Option func(*options)

// WithMetrics records loaded rows and scheduled adjustments on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the loader's logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

func applyOptions(component string, opts []Option) options {
	o := options{log: slog.Default().With("component", component)}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// PricingLoader serves the equity pricing dataset from a RawReader. Each
// column comes back with the split, merger and dividend adjustments that
// fall inside the requested sessions.
type PricingLoader struct {
	reader   store.RawReader
	resolver *adjustment.Resolver
	options
}

// NewPricingLoader creates a PricingLoader. A nil resolver loads raw,
// unadjusted prices.
func NewPricingLoader(reader store.RawReader, resolver *adjustment.Resolver, opts ...Option) *PricingLoader {
	return &PricingLoader{
		reader:   reader,
		resolver: resolver,
		options:  applyOptions("pricing-loader", opts),
	}
}

// Load implements pipeline.DataLoader.
func (l *PricingLoader) Load(ctx context.Context, columns []pipeline.Column, sessions []time.Time, assets []domain.Asset) (map[string]*window.AdjustedArray, error) {
	if len(sessions) == 0 {
		return nil, store.ErrNoSessions
	}
	fields := make([]domain.Field, len(columns))
	for i, c := range columns {
		if c.Dataset != pipeline.EquityPricingDataset {
			return nil, fmt.Errorf("pricing loader cannot serve %s", c)
		}
		f, err := domain.ParseField(c.Name)
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}

	start, end := sessions[0], sessions[len(sessions)-1]
	raw, err := l.reader.LoadRawArrays(ctx, fields, start, end, assets)
	if err != nil {
		return nil, fmt.Errorf("loading pricing %s to %s: %w", start.Format("2006-01-02"), end.Format("2006-01-02"), err)
	}
	if len(raw) != len(fields) {
		return nil, fmt.Errorf("raw reader returned %d arrays for %d fields", len(raw), len(fields))
	}
	if rows, _ := raw[0].Dims(); rows != len(sessions) {
		return nil, fmt.Errorf("raw reader returned %d sessions, want %d: calendars differ", rows, len(sessions))
	}

	scheds, err := l.resolver.Load(ctx, fields, sessions, assets)
	if err != nil {
		return nil, fmt.Errorf("scheduling adjustments: %w", err)
	}

	out := make(map[string]*window.AdjustedArray, len(columns))
	for i, c := range columns {
		sched := scheds[fields[i]]
		l.metrics.RecordAdjustments("pipeline", sched.Len())
		out[c.Key()] = window.NewAdjustedArray(raw[i], c.DType, sched)
	}
	l.log.Debug("loaded pricing", "fields", len(fields), "sessions", len(sessions), "assets", len(assets))
	return out, nil
}
