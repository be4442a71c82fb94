// Package store defines storage interfaces for the raw data the engine
// consumes (daily bars, corporate actions, point-in-time events, assets) and
// their Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/domain"
	"factorlab/internal/util"
)

// ErrNoSessions is returned when a requested date range holds no trading
// sessions.
var ErrNoSessions = errors.New("no trading sessions in range")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RawReader serves unadjusted daily values as 2D arrays aligned to a
// trading calendar.
type RawReader interface {
	// LoadRawArrays returns one array per field with a row per session in
	// [start, end] and a column per asset. Missing prices are NaN and
	// missing volume is zero.
	LoadRawArrays(ctx context.Context, fields []domain.Field, start, end time.Time, assets []domain.Asset) ([]*mat.Dense, error)

	// Calendar returns the sessions the arrays are aligned to.
	Calendar() *util.TradingCalendar
}

// EventReader returns point-in-time events of a named dataset.
type EventReader interface {
	// ReadEvents returns the events of dataset for the given sids, keyed by
	// sid and ordered by knowledge date.
	ReadEvents(ctx context.Context, dataset string, sids []int64) (map[int64][]domain.Event, error)
}

// AssetReader lists the securities known to the system.
type AssetReader interface {
	ListAssets(ctx context.Context) ([]domain.Asset, error)
}
