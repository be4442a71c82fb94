package util

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"factorlab/internal/domain"
)

// ErrNotASession is returned when a date is not one of the calendar's
// trading sessions.
var ErrNotASession = errors.New("not a trading session")

// TradingCalendar is the ordered list of trading sessions for a market.
// Sessions are midnight UTC dates.
type TradingCalendar struct {
	market   domain.Market
	sessions []time.Time
}

// NewTradingCalendar creates a TradingCalendar from the given sessions. The
// sessions are normalised to UTC dates, sorted and de-duplicated.
func NewTradingCalendar(market domain.Market, sessions []time.Time) *TradingCalendar {
	norm := make([]time.Time, 0, len(sessions))
	for _, s := range sessions {
		norm = append(norm, NormalizeDate(s))
	}
	sort.Slice(norm, func(i, j int) bool { return norm[i].Before(norm[j]) })

	uniq := norm[:0]
	for _, s := range norm {
		if len(uniq) > 0 && s.Equal(uniq[len(uniq)-1]) {
			continue
		}
		uniq = append(uniq, s)
	}
	return &TradingCalendar{market: market, sessions: uniq}
}

// WeekdayCalendar builds a calendar of every Monday-Friday between start and
// end inclusive. It ignores exchange holidays.
func WeekdayCalendar(market domain.Market, start, end time.Time) *TradingCalendar {
	var sessions []time.Time
	for d := NormalizeDate(start); !d.After(NormalizeDate(end)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			sessions = append(sessions, d)
		}
	}
	return NewTradingCalendar(market, sessions)
}

// NormalizeDate truncates t to midnight UTC of its calendar date.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Market returns the market the calendar belongs to.
func (tc *TradingCalendar) Market() domain.Market { return tc.market }

// Len is the number of sessions.
func (tc *TradingCalendar) Len() int { return len(tc.sessions) }

// At returns the session at position i.
func (tc *TradingCalendar) At(i int) time.Time { return tc.sessions[i] }

// Sessions returns a copy of all sessions.
func (tc *TradingCalendar) Sessions() []time.Time {
	return append([]time.Time(nil), tc.sessions...)
}

// SearchSorted returns the position of the first session on or after t.
func (tc *TradingCalendar) SearchSorted(t time.Time) int {
	t = NormalizeDate(t)
	return sort.Search(len(tc.sessions), func(i int) bool { return !tc.sessions[i].Before(t) })
}

// Position returns the index of session t.
func (tc *TradingCalendar) Position(t time.Time) (int, error) {
	i := tc.SearchSorted(t)
	if i == len(tc.sessions) || !tc.sessions[i].Equal(NormalizeDate(t)) {
		return -1, fmt.Errorf("%w: %s", ErrNotASession, t.Format("2006-01-02"))
	}
	return i, nil
}

// Bounds returns the positions of the first session on or after start and
// the last session on or before end. last < first when no session falls in
// the range.
func (tc *TradingCalendar) Bounds(start, end time.Time) (first, last int) {
	first = tc.SearchSorted(start)
	end = NormalizeDate(end)
	last = sort.Search(len(tc.sessions), func(i int) bool { return tc.sessions[i].After(end) }) - 1
	return first, last
}

// Slice returns the sessions within [start, end].
func (tc *TradingCalendar) Slice(start, end time.Time) []time.Time {
	first, last := tc.Bounds(start, end)
	if last < first {
		return nil
	}
	return append([]time.Time(nil), tc.sessions[first:last+1]...)
}

// Range returns sessions [first, last] by position, clamped to the calendar.
func (tc *TradingCalendar) Range(first, last int) []time.Time {
	first = max(first, 0)
	last = min(last, len(tc.sessions)-1)
	if last < first {
		return nil
	}
	return append([]time.Time(nil), tc.sessions[first:last+1]...)
}
