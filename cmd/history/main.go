// history prints an adjusted trailing window of one pricing field for a
// symbol, as the history loader serves it to a simulation.
//
// Usage:
//
//	go run ./cmd/history -symbol AAPL -field close -end 2024-03-28 -size 20
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"factorlab/internal/adjustment"
	"factorlab/internal/config"
	"factorlab/internal/domain"
	"factorlab/internal/history"
	"factorlab/internal/observability"
	"factorlab/internal/store"
	"factorlab/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "symbol to load (required)")
	fieldName := flag.String("field", "close", "pricing field: open, high, low, close or volume")
	start := flag.String("start", "", "first date (YYYY-MM-DD), defaults to a year before -end")
	end := flag.String("end", "", "last date (YYYY-MM-DD), defaults to today")
	size := flag.Int("size", 20, "number of sessions ending at -end; 0 loads from -start")
	flag.Parse()

	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "usage: history -symbol SYMBOL [-field close] [-start DATE] [-end DATE] [-size N]")
		os.Exit(2)
	}
	field, err := domain.ParseField(*fieldName)
	if err != nil {
		log.Fatal(err)
	}

	cfgPath := "config/factorlab.yaml"
	if p := os.Getenv("FACTORLAB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	endDate, err := config.Date(*end)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}
	if endDate.IsZero() {
		endDate = util.NormalizeDate(time.Now())
	}
	startDate, err := config.Date(*start)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	if startDate.IsZero() {
		startDate = endDate.AddDate(-1, 0, 0)
	}

	if err := run(ctx, cfg, logger, *symbol, field, startDate, endDate, *size); err != nil {
		slog.Error("history failed", "symbol", *symbol, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, symbol string, field domain.Field, start, end time.Time, size int) error {
	calStart, err := config.Date(cfg.Calendar.Start)
	if err != nil {
		return err
	}
	if calStart.IsZero() {
		calStart = start.AddDate(-1, 0, 0)
	}
	market := domain.Market(cfg.Market)
	cal, err := util.BuildCalendar(ctx, cfg.Calendar.Source, market, calStart, end, util.AlpacaCalendarOpts{
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

	assets, err := store.ResolveAssets(ctx, db, bars, cfg.Market, []string{symbol})
	if err != nil {
		return err
	}

	loader := history.NewLoader(
		store.NewDailyBarReader(bars, market, cal),
		adjustment.NewResolver(db),
		history.WithPrefetch(cfg.Loader.PrefetchSessions),
		history.WithMetrics(observability.NewMetrics(cfg.Metrics.Namespace, nil)),
		history.WithLogger(logger.With("component", "history")),
	)
	values, err := loader.History(ctx, assets[0], start, end, size, field)
	if err != nil {
		return err
	}

	_, last := cal.Bounds(start, end)
	dates := cal.Range(last-len(values)+1, last)
	for i, v := range values {
		fmt.Printf("%s  %s  %s=%.4f\n", dates[i].Format(config.DateLayout), assets[0].Symbol, field, v)
	}
	return nil
}
