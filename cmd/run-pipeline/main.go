// run-pipeline computes a demo factor pipeline over stored daily bars and
// prints one line per screened (date, asset) row.
//
// Usage:
//
//	go run ./cmd/run-pipeline -start 2024-01-02 -end 2024-03-28 -symbols AAPL,MSFT
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"factorlab/internal/adjustment"
	"factorlab/internal/config"
	"factorlab/internal/domain"
	"factorlab/internal/events"
	"factorlab/internal/observability"
	"factorlab/internal/pipeline"
	"factorlab/internal/pipeline/loaders"
	"factorlab/internal/store"
	"factorlab/internal/util"
)

// historyYears is how far before the run the calendar reaches when the
// configuration leaves calendar.start empty.
const historyYears = 1

func main() {
	start := flag.String("start", "", "first session (YYYY-MM-DD), overrides pipeline.start_date")
	end := flag.String("end", "", "last session (YYYY-MM-DD), overrides pipeline.end_date")
	symbols := flag.String("symbols", "", "comma-separated symbols, overrides pipeline.symbols")
	flag.Parse()

	cfgPath := "config/factorlab.yaml"
	if p := os.Getenv("FACTORLAB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *start != "" {
		cfg.Pipeline.StartDate = *start
	}
	if *end != "" {
		cfg.Pipeline.EndDate = *end
	}
	if *symbols != "" {
		cfg.Pipeline.Symbols = strings.Split(*symbols, ",")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("pipeline run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, nil)
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				slog.Warn("metrics listener stopped", "addr", cfg.Metrics.ListenAddr, "error", err)
			}
		}()
	}

	runStart, runEnd, err := runDates(cfg)
	if err != nil {
		return err
	}
	calStart, calEnd, err := calendarDates(cfg, runStart, runEnd)
	if err != nil {
		return err
	}

	market := domain.Market(cfg.Market)
	cal, err := util.BuildCalendar(ctx, cfg.Calendar.Source, market, calStart, calEnd, util.AlpacaCalendarOpts{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		BaseURL:         cfg.Alpaca.BaseURL,
		RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
	})
	if err != nil {
		return fmt.Errorf("building calendar: %w", err)
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening sqlite: %w", err)
	}
	defer db.Close()

	assets, err := store.ResolveAssets(ctx, db, bars, cfg.Market, cfg.Pipeline.Symbols)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		return fmt.Errorf("no assets in %s", cfg.Storage.DataDir)
	}

	reader := store.NewDailyBarReader(bars, market, cal)
	engineOpts := []pipeline.EngineOption{
		pipeline.WithLoader(pipeline.EquityPricingDataset, loaders.NewPricingLoader(
			reader, adjustment.NewResolver(db),
			loaders.WithMetrics(metrics), loaders.WithLogger(logger.With("component", "pricing-loader")))),
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(logger.With("component", "pipeline")),
	}

	var evCols *pipeline.EventColumns
	if ds := cfg.Pipeline.EventsDataset; ds != "" {
		qt, err := events.ParseQueryTime(cfg.Pipeline.DataQueryTime, cfg.Pipeline.DataQueryTZ)
		if err != nil {
			return err
		}
		el := loaders.NewEventsLoader(db, ds, qt,
			loaders.WithMetrics(metrics), loaders.WithLogger(logger.With("component", "events-loader")))
		cols := el.Columns()
		evCols = &cols
		engineOpts = append(engineOpts, pipeline.WithLoader(ds, el))
	}

	p, err := demoPipeline(evCols)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	slog.Info("running pipeline",
		"start", runStart.Format(config.DateLayout),
		"end", runEnd.Format(config.DateLayout),
		"assets", len(assets),
		"sessions", cal.Len(),
	)
	eng := pipeline.NewEngine(cal, assets, engineOpts...)
	res, err := eng.Run(ctx, p, runStart, runEnd)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

// demoPipeline builds the default research pipeline: pricing factors, a
// returns quartile and, when ev is set, event timing factors. The screen
// keeps assets with a return whose dollar volume is in the top 80%.
func demoPipeline(ev *pipeline.EventColumns) (*pipeline.Pipeline, error) {
	g := pipeline.NewGraph()
	p := pipeline.New(g)

	latest, err := g.LatestOf(pipeline.EquityPricing.Close)
	if err != nil {
		return nil, err
	}
	sma, err := g.SimpleMovingAverage(pipeline.EquityPricing.Close, 10)
	if err != nil {
		return nil, err
	}
	returns, err := g.Returns(20)
	if err != nil {
		return nil, err
	}
	adv, err := g.AverageDollarVolume(20)
	if err != nil {
		return nil, err
	}
	rsi, err := g.RSI()
	if err != nil {
		return nil, err
	}
	quartile, err := g.Quartiles(returns)
	if err != nil {
		return nil, err
	}

	for _, c := range []struct {
		name string
		term *pipeline.Term
	}{
		{"close", latest},
		{"sma_10", sma},
		{"returns_20", returns},
		{"adv_20", adv},
		{"rsi", rsi},
		{"returns_quartile", quartile},
	} {
		if err := p.Add(c.name, c.term); err != nil {
			return nil, err
		}
	}

	if ev != nil {
		since, err := g.BusinessDaysSincePreviousEvent(ev.PreviousDate)
		if err != nil {
			return nil, err
		}
		until, err := g.BusinessDaysUntilNextEvent(ev.NextDate)
		if err != nil {
			return nil, err
		}
		last, err := g.LatestOf(ev.PreviousValue)
		if err != nil {
			return nil, err
		}
		if err := p.Add("days_since_event", since); err != nil {
			return nil, err
		}
		if err := p.Add("days_until_event", until); err != nil {
			return nil, err
		}
		if err := p.Add("last_event_value", last); err != nil {
			return nil, err
		}
	}

	hasReturn, err := g.NotNull(returns)
	if err != nil {
		return nil, err
	}
	liquid, err := g.PercentileBetween(adv, 20, 100)
	if err != nil {
		return nil, err
	}
	screen, err := g.And(hasReturn, liquid)
	if err != nil {
		return nil, err
	}
	if err := p.SetScreen(screen); err != nil {
		return nil, err
	}
	return p, nil
}

func printResult(res *pipeline.Result) {
	fmt.Printf("%-10s  %-8s", "date", "symbol")
	for _, name := range res.Names {
		fmt.Printf("  %16s", name)
	}
	fmt.Println()
	for _, row := range res.Rows() {
		fmt.Printf("%-10s  %-8s", row.Date.Format(config.DateLayout), row.Asset.Symbol)
		for _, name := range res.Names {
			v := row.Values[name]
			if math.IsNaN(v) {
				fmt.Printf("  %16s", "-")
				continue
			}
			fmt.Printf("  %16.4f", v)
		}
		fmt.Println()
	}
}

// runDates returns the configured run range. A missing end is today and a
// missing start is thirty days before the end.
func runDates(cfg *config.Config) (time.Time, time.Time, error) {
	end, err := config.Date(cfg.Pipeline.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.IsZero() {
		end = util.NormalizeDate(time.Now())
	}
	start, err := config.Date(cfg.Pipeline.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is after end %s",
			start.Format(config.DateLayout), end.Format(config.DateLayout))
	}
	return start, end, nil
}

// calendarDates returns the calendar bounds, reaching historyYears before
// the run when calendar.start is empty.
func calendarDates(cfg *config.Config, runStart, runEnd time.Time) (time.Time, time.Time, error) {
	start, err := config.Date(cfg.Calendar.Start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start.IsZero() {
		start = runStart.AddDate(-historyYears, 0, 0)
	}
	end, err := config.Date(cfg.Calendar.End)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.IsZero() || end.Before(runEnd) {
		end = runEnd
	}
	return start, end, nil
}
