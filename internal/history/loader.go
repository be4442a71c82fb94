// Package history serves adjusted trailing price and volume series for single
// assets, caching prefetched blocks so that requests walking forward in time
// only fetch raw data when they run past the cached range.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"factorlab/internal/adjustment"
	"factorlab/internal/domain"
	"factorlab/internal/observability"
	"factorlab/internal/store"
	"factorlab/internal/window"
)

// DefaultPrefetch is the number of sessions fetched past the requested end
// when a block is rebuilt.
const DefaultPrefetch = 40

type key struct {
	sid   int64
	field domain.Field
	size  int
}

// Block is the cached data for one (asset, field, window size): a Window
// over the raw values at calendar positions [CalStart, CalEnd] with its
// pending adjustments. A stale block is replaced, never extended.
type Block struct {
	CalStart int
	CalEnd   int
	window   *window.Window
}

// Anchor is the calendar position of the window's current last row.
func (b *Block) Anchor() int { return b.CalStart + b.window.Anchor() }

// Pending counts the adjustments the block has not yet applied.
func (b *Block) Pending() int { return b.window.Pending() }

// Option configures a Loader.
type Option func(*Loader)

// WithPrefetch sets how many sessions past the requested end a rebuild
// fetches. Negative values are treated as zero.
func WithPrefetch(n int) Option {
	return func(l *Loader) { l.prefetch = max(n, 0) }
}

// WithMetrics records cache activity on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithLogger sets the loader's logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// Loader answers history requests from a RawReader. It is not safe for
// concurrent use and expects each key to be queried with non-decreasing end
// dates; moving backwards forces a rebuild.
type Loader struct {
	reader   store.RawReader
	resolver *adjustment.Resolver
	prefetch int
	metrics  *observability.Metrics
	log      *slog.Logger
	blocks   map[key]*Block
}

// NewLoader creates a Loader. A nil resolver disables adjustments.
func NewLoader(reader store.RawReader, resolver *adjustment.Resolver, opts ...Option) *Loader {
	l := &Loader{
		reader:   reader,
		resolver: resolver,
		prefetch: DefaultPrefetch,
		log:      slog.Default().With("component", "history"),
		blocks:   make(map[key]*Block),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Len is the number of cached blocks.
func (l *Loader) Len() int { return len(l.blocks) }

// Block returns the cached block for the key, or nil.
func (l *Loader) Block(sid int64, field domain.Field, size int) *Block {
	return l.blocks[key{sid: sid, field: field, size: size}]
}

// History returns one value of field for asset per session in [start, end],
// adjusted as of the last of them, keeping at most the size most recent
// sessions. A size <= 0 keeps every session in the range. A range holding
// no sessions yields an empty result.
//
// The returned slice is a copy. Volume values are whole numbers.
func (l *Loader) History(ctx context.Context, asset domain.Asset, start, end time.Time, size int, field domain.Field) ([]float64, error) {
	cal := l.reader.Calendar()
	first, last := cal.Bounds(start, end)
	if last < first {
		return []float64{}, nil
	}
	if size <= 0 {
		size = last - first + 1
	}
	winStart := max(last-size+1, first)
	length := last - winStart + 1

	k := key{sid: asset.SID, field: field, size: size}
	b := l.blocks[k]
	if reason := staleReason(b, winStart, last, length); reason != "" {
		nb, err := l.rebuild(ctx, asset, field, winStart, last, length)
		if err != nil {
			return nil, err
		}
		l.blocks[k] = nb
		l.metrics.RecordHistoryRebuild(reason, len(l.blocks))
		l.log.Debug("history block rebuilt",
			"asset", asset.String(), "field", string(field), "size", size,
			"reason", reason, "cal_start", nb.CalStart, "cal_end", nb.CalEnd)
		b = nb
	} else {
		l.metrics.RecordHistoryHit()
	}

	if _, err := b.window.Seek(last - b.CalStart); err != nil {
		return nil, fmt.Errorf("history %s %s: %w", asset, field, err)
	}
	return b.window.Values(0), nil
}

// staleReason reports why b cannot serve a window of length rows ending at
// calendar position last, or "" when it can.
func staleReason(b *Block, winStart, last, length int) string {
	switch {
	case b == nil:
		return "miss"
	case winStart < b.CalStart:
		return "start"
	case last > b.CalEnd:
		return "extend"
	case last < b.Anchor():
		return "rewind"
	case b.window.Length() != length:
		return "length"
	}
	return ""
}

func (l *Loader) rebuild(ctx context.Context, asset domain.Asset, field domain.Field, winStart, last, length int) (*Block, error) {
	cal := l.reader.Calendar()
	calEnd := min(last+l.prefetch, cal.Len()-1)
	days := cal.Range(winStart, calEnd)

	arrays, err := l.reader.LoadRawArrays(ctx, []domain.Field{field}, days[0], days[len(days)-1], []domain.Asset{asset})
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", asset, field, err)
	}
	if rows, _ := arrays[0].Dims(); rows != len(days) {
		return nil, fmt.Errorf("loading %s %s: reader returned %d rows for %d sessions", asset, field, rows, len(days))
	}

	sched, err := l.resolver.InRange(ctx, asset.SID, days, field, 0)
	if err != nil {
		return nil, fmt.Errorf("adjustments for %s: %w", asset, err)
	}
	l.metrics.RecordAdjustments("history", sched.Len())

	w, err := window.New(arrays[0], field.DType(), sched, length-1, length)
	if err != nil {
		return nil, fmt.Errorf("window for %s %s: %w", asset, field, err)
	}
	return &Block{CalStart: winStart, CalEnd: calEnd, window: w}, nil
}
