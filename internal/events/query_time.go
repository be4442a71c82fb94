package events

import (
	"errors"
	"fmt"
	"time"

	"factorlab/internal/domain"
)

// ErrQueryArgs is returned when only one of a data query time and time zone
// is configured.
var ErrQueryArgs = errors.New("data query time and time zone must both be set or both be empty")

// QueryTime is the local time of day after which newly learned data only
// becomes usable on the following session.
type QueryTime struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// ParseQueryTime builds a QueryTime from "HH:MM" and an IANA zone name. Both
// empty yields nil; exactly one empty is ErrQueryArgs.
func ParseQueryTime(clock, zone string) (*QueryTime, error) {
	if err := CheckQueryArgs(clock != "", zone != ""); err != nil {
		return nil, fmt.Errorf("%w (got %q, %q)", err, clock, zone)
	}
	if clock == "" {
		return nil, nil
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return nil, fmt.Errorf("parsing data query time %q: %w", clock, err)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("loading data query time zone %q: %w", zone, err)
	}
	return &QueryTime{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

// CheckQueryArgs enforces that a query time and zone are given together.
func CheckQueryArgs(hasTime, hasZone bool) error {
	if hasTime != hasZone {
		return ErrQueryArgs
	}
	return nil
}

// NormalizeQueryTime returns the instant, in UTC, at which the query time
// falls on dt's calendar date.
func NormalizeQueryTime(dt time.Time, qt QueryTime) time.Time {
	y, m, d := dt.Date()
	return time.Date(y, m, d, qt.Hour, qt.Minute, 0, 0, qt.Location).UTC()
}

// NormalizeQueryBounds widens [lower, upper] for a data query: lower moves
// back one day to capture events learned on the first requested date, and
// both bounds are pinned to the query time when qt is non-nil.
func NormalizeQueryBounds(lower, upper time.Time, qt *QueryTime) (time.Time, time.Time) {
	lower = lower.AddDate(0, 0, -1)
	if qt == nil {
		return lower, upper
	}
	return NormalizeQueryTime(lower, *qt), NormalizeQueryTime(upper, *qt)
}

// NormalizeTimestamp maps a knowledge timestamp to the session date it is
// usable from: timestamps at or after the query time in qt's zone roll to
// the next local date; earlier ones keep their UTC date.
func NormalizeTimestamp(ts time.Time, qt QueryTime) time.Time {
	local := ts.In(qt.Location)
	if local.Hour() > qt.Hour || (local.Hour() == qt.Hour && local.Minute() >= qt.Minute) {
		y, m, d := local.AddDate(0, 0, 1).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeTimestamps returns a copy of evs with every knowledge date passed
// through NormalizeTimestamp.
func NormalizeTimestamps(evs []domain.Event, qt QueryTime) []domain.Event {
	out := make([]domain.Event, len(evs))
	for i, e := range evs {
		e.KnowledgeDate = NormalizeTimestamp(e.KnowledgeDate, qt)
		out[i] = e
	}
	return out
}
