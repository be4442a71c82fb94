package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"factorlab/internal/domain"
)

// AlpacaCalendarOpts holds the credentials for the Alpaca trading API and
// the request budget for calendar calls.
type AlpacaCalendarOpts struct {
	APIKey          string
	APISecret       string
	BaseURL         string
	RateLimitPerMin int
}

// calendarChunk bounds the span of a single calendar request.
const calendarChunk = 1 // years

// FetchAlpacaCalendar builds a US TradingCalendar from the Alpaca calendar
// endpoint. The range is fetched a year at a time, rate limited, with
// server errors and rate-limit responses retried.
func FetchAlpacaCalendar(ctx context.Context, opts AlpacaCalendarOpts, start, end time.Time) (*TradingCalendar, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
		BaseURL:   opts.BaseURL,
	})
	limiter := NewRateLimiter(opts.RateLimitPerMin)

	var sessions []time.Time
	for _, span := range splitYears(start, end) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var days []alpaca.CalendarDay
		err := Retry(ctx, 3, time.Second, func() error {
			var err error
			days, err = client.GetCalendar(alpaca.GetCalendarRequest{
				Start: span[0],
				End:   span[1],
			})
			return classifyAlpacaError(err)
		})
		if err != nil {
			return nil, fmt.Errorf("GetCalendar %s to %s: %w",
				span[0].Format("2006-01-02"), span[1].Format("2006-01-02"), err)
		}
		for _, d := range days {
			t, err := time.Parse("2006-01-02", d.Date)
			if err != nil {
				continue
			}
			sessions = append(sessions, t)
		}
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no trading days returned from calendar between %s and %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return NewTradingCalendar(domain.MarketUS, sessions), nil
}

// classifyAlpacaError marks client errors other than rate limiting as
// permanent.
func classifyAlpacaError(err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}

// splitYears cuts [start, end] into consecutive closed spans of at most
// calendarChunk years.
func splitYears(start, end time.Time) [][2]time.Time {
	start, end = NormalizeDate(start), NormalizeDate(end)
	var spans [][2]time.Time
	for !start.After(end) {
		next := start.AddDate(calendarChunk, 0, 0)
		last := next.AddDate(0, 0, -1)
		if last.After(end) {
			last = end
		}
		spans = append(spans, [2]time.Time{start, last})
		start = next
	}
	return spans
}

// BuildCalendar returns market's sessions in [start, end] from source:
// "weekdays" for every Monday-Friday, or "alpaca" for the US exchange
// calendar.
func BuildCalendar(ctx context.Context, source string, market domain.Market, start, end time.Time, opts AlpacaCalendarOpts) (*TradingCalendar, error) {
	switch source {
	case "", "weekdays":
		return WeekdayCalendar(market, start, end), nil
	case "alpaca":
		if market != domain.MarketUS {
			return nil, fmt.Errorf("alpaca calendar only covers the %s market, not %s", domain.MarketUS, market)
		}
		return FetchAlpacaCalendar(ctx, opts, start, end)
	}
	return nil, fmt.Errorf("unknown calendar source %q", source)
}
