package loaders

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"factorlab/internal/domain"
	"factorlab/internal/events"
	"factorlab/internal/pipeline"
	"factorlab/internal/store"
	"factorlab/internal/window"
)

// EventsLoader serves one point-in-time event dataset: the next known
// event date, the previous event date and the previous event value.
type EventsLoader struct {
	reader    store.EventReader
	dataset   string
	queryTime *events.QueryTime
	options
}

// NewEventsLoader creates a loader for dataset. With a non-nil query time,
// knowledge timestamps at or after it roll to the next session.
func NewEventsLoader(reader store.EventReader, dataset string, qt *events.QueryTime, opts ...Option) *EventsLoader {
	return &EventsLoader{
		reader:    reader,
		dataset:   dataset,
		queryTime: qt,
		options:   applyOptions("events-loader", opts),
	}
}

// Columns returns the columns the loader serves.
func (l *EventsLoader) Columns() pipeline.EventColumns { return pipeline.EventDataset(l.dataset) }

// Load implements pipeline.DataLoader.
func (l *EventsLoader) Load(ctx context.Context, columns []pipeline.Column, sessions []time.Time, assets []domain.Asset) (map[string]*window.AdjustedArray, error) {
	if len(sessions) == 0 {
		return nil, store.ErrNoSessions
	}
	for _, c := range columns {
		if c.Dataset != l.dataset {
			return nil, fmt.Errorf("events loader for %q cannot serve %s", l.dataset, c)
		}
	}

	sids := domain.SIDs(assets)
	bySID, err := l.reader.ReadEvents(ctx, l.dataset, sids)
	if err != nil {
		return nil, fmt.Errorf("reading %s events: %w", l.dataset, err)
	}
	bySID = l.normalize(bySID, sessions)

	out := make(map[string]*window.AdjustedArray, len(columns))
	for _, c := range columns {
		var frame *mat.Dense
		switch c.Name {
		case pipeline.NextEventDate:
			frame = events.NextDateFrame(sessions, sids, bySID)
		case pipeline.PreviousEventDate:
			frame = events.PreviousEventFrame(sessions, sids, bySID, events.NullDate, events.EventDateValue)
		case pipeline.PreviousValue:
			frame = events.PreviousEventFrame(sessions, sids, bySID, c.Missing, events.EventValue)
		default:
			return nil, fmt.Errorf("events loader for %q has no column %q", l.dataset, c.Name)
		}
		out[c.Key()] = window.NewAdjustedArray(frame, c.DType, nil)
	}
	l.log.Debug("loaded events", "dataset", l.dataset, "columns", len(columns), "sessions", len(sessions))
	return out, nil
}

// normalize drops events learned after the last session's query bound and,
// with a query time, moves knowledge timestamps onto the session they are
// usable from.
func (l *EventsLoader) normalize(bySID map[int64][]domain.Event, sessions []time.Time) map[int64][]domain.Event {
	_, upper := events.NormalizeQueryBounds(sessions[0], sessions[len(sessions)-1], l.queryTime)
	out := make(map[int64][]domain.Event, len(bySID))
	for sid, evs := range bySID {
		kept := make([]domain.Event, 0, len(evs))
		for _, e := range evs {
			if !e.KnowledgeDate.After(upper) {
				kept = append(kept, e)
			}
		}
		if l.queryTime != nil {
			kept = events.NormalizeTimestamps(kept, *l.queryTime)
		}
		out[sid] = kept
	}
	return out
}
