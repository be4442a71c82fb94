package events

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorlab/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func days(from, to int) []time.Time {
	var out []time.Time
	for d := from; d <= to; d++ {
		out = append(out, day(d))
	}
	return out
}

func TestNextDateFrameSoonerEventSupersedes(t *testing.T) {
	dates := days(1, 6)
	evs := map[int64][]domain.Event{
		1: {
			{SID: 1, KnowledgeDate: day(3), EventDate: day(4)},
			{SID: 1, KnowledgeDate: day(1), EventDate: day(5)},
		},
	}

	f := NextDateFrame(dates, []int64{1, 2}, evs)

	want := []float64{
		DateValue(day(5)), // day 1: only the day-5 event is known
		DateValue(day(5)), // day 2
		DateValue(day(4)), // day 3: the sooner day-4 event is now known
		DateValue(day(4)), // day 4
		DateValue(day(5)), // day 5: day-4 event has passed
		NullDate,          // day 6: nothing upcoming
	}
	for row, w := range want {
		got := f.At(row, 0)
		if math.IsNaN(w) {
			assert.True(t, math.IsNaN(got), "row %d = %v, want null", row, got)
			continue
		}
		assert.Equal(t, w, got, "row %d", row)
	}
	for row := range dates {
		assert.True(t, math.IsNaN(f.At(row, 1)), "sid 2 has no events")
	}
}

func TestPreviousEventFrameKnowledgeAfterEvent(t *testing.T) {
	dates := days(1, 8)
	evs := map[int64][]domain.Event{
		// Happened on day 2 but only learned on day 5.
		1: {{SID: 1, KnowledgeDate: day(5), EventDate: day(2), Value: 7}},
	}

	f := PreviousEventFrame(dates, []int64{1}, evs, math.NaN(), EventValue)

	for row := 0; row < 4; row++ {
		assert.True(t, math.IsNaN(f.At(row, 0)), "row %d should be missing", row)
	}
	for row := 4; row < len(dates); row++ {
		assert.Equal(t, 7.0, f.At(row, 0), "row %d", row)
	}
}

func TestPreviousEventFrameForwardFill(t *testing.T) {
	dates := days(1, 10)
	evs := map[int64][]domain.Event{
		1: {
			{SID: 1, KnowledgeDate: day(1), EventDate: day(3), Value: 1},
			{SID: 1, KnowledgeDate: day(2), EventDate: day(6), Value: 0}, // a zero value must still fill
			{SID: 1, KnowledgeDate: day(8), EventDate: day(9), Value: 3},
			{SID: 1, KnowledgeDate: day(8), EventDate: day(20), Value: 99}, // after the last date
		},
	}

	f := PreviousEventFrame(dates, []int64{1}, evs, -1, EventValue)

	want := []float64{-1, -1, 1, 1, 1, 0, 0, 0, 3, 3}
	for row, w := range want {
		assert.Equal(t, w, f.At(row, 0), "row %d", row)
	}
}

func TestPreviousEventFrameDates(t *testing.T) {
	dates := days(1, 4)
	evs := map[int64][]domain.Event{
		1: {{SID: 1, KnowledgeDate: day(1), EventDate: day(2)}},
	}

	f := PreviousEventFrame(dates, []int64{1}, evs, NullDate, EventDateValue)

	assert.True(t, math.IsNaN(f.At(0, 0)))
	got, ok := ValueDate(f.At(3, 0))
	require.True(t, ok)
	assert.True(t, got.Equal(day(2)))
}

func TestFramesEmpty(t *testing.T) {
	f := NextDateFrame(nil, []int64{1}, nil)
	assert.True(t, f.IsEmpty())
	f = PreviousEventFrame(days(1, 3), nil, nil, 0, EventValue)
	assert.True(t, f.IsEmpty())
}

func TestCheckQueryArgs(t *testing.T) {
	assert.NoError(t, CheckQueryArgs(false, false))
	assert.NoError(t, CheckQueryArgs(true, true))
	assert.ErrorIs(t, CheckQueryArgs(true, false), ErrQueryArgs)
	assert.ErrorIs(t, CheckQueryArgs(false, true), ErrQueryArgs)

	qt, err := ParseQueryTime("", "")
	require.NoError(t, err)
	assert.Nil(t, qt)

	_, err = ParseQueryTime("08:45", "")
	assert.True(t, errors.Is(err, ErrQueryArgs))
}

func TestNormalizeQueryTime(t *testing.T) {
	qt, err := ParseQueryTime("08:45", "America/New_York")
	require.NoError(t, err)

	// EST is UTC-5 in January.
	got := NormalizeQueryTime(day(15), *qt)
	assert.True(t, got.Equal(time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC)), "got %v", got)

	lower, upper := NormalizeQueryBounds(day(15), day(20), qt)
	assert.True(t, lower.Equal(time.Date(2024, 1, 14, 13, 45, 0, 0, time.UTC)), "lower %v", lower)
	assert.True(t, upper.Equal(time.Date(2024, 1, 20, 13, 45, 0, 0, time.UTC)), "upper %v", upper)

	lower, upper = NormalizeQueryBounds(day(15), day(20), nil)
	assert.True(t, lower.Equal(day(14)))
	assert.True(t, upper.Equal(day(20)))
}

func TestNormalizeTimestamps(t *testing.T) {
	qt, err := ParseQueryTime("08:45", "America/New_York")
	require.NoError(t, err)

	evs := []domain.Event{
		// 08:44 New York: before the cutoff, keeps its date.
		{SID: 1, KnowledgeDate: time.Date(2024, 1, 15, 13, 44, 0, 0, time.UTC)},
		// 08:45 New York: rolls to the next day.
		{SID: 1, KnowledgeDate: time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC)},
		// 23:00 New York on the 15th is already the 16th in UTC; rolls to the 16th.
		{SID: 1, KnowledgeDate: time.Date(2024, 1, 16, 4, 0, 0, 0, time.UTC)},
	}
	got := NormalizeTimestamps(evs, *qt)

	assert.True(t, got[0].KnowledgeDate.Equal(day(15)), "got %v", got[0].KnowledgeDate)
	assert.True(t, got[1].KnowledgeDate.Equal(day(16)), "got %v", got[1].KnowledgeDate)
	assert.True(t, got[2].KnowledgeDate.Equal(day(16)), "got %v", got[2].KnowledgeDate)
	// Input untouched.
	assert.Equal(t, 13, evs[0].KnowledgeDate.Hour())
}
