package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"factorlab/internal/domain"
	"factorlab/internal/util"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.barPath("aapl", "us", 2024)
	want := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: day(2023, 12, 29), Open: 193.9, High: 194.4, Low: 191.7, Close: 192.5, Volume: 42000000},
		{Symbol: "AAPL", Timestamp: day(2024, 1, 2), Open: 185.0, High: 186.5, Low: 184.0, Close: 185.5, Volume: 50000000},
		{Symbol: "AAPL", Timestamp: day(2024, 1, 3), Open: 185.5, High: 187.0, Low: 185.0, Close: 186.0, Volume: 45000000},
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	// Spans both year files.
	got, err := ps.ReadBars(ctx, "AAPL", "us", day(2023, 12, 1), day(2024, 1, 2))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 192.5 || got[1].Close != 185.5 {
		t.Errorf("closes = %v, %v; want 192.5, 185.5", got[0].Close, got[1].Close)
	}
	if !got[1].Timestamp.Equal(day(2024, 1, 2)) {
		t.Errorf("timestamp = %v, want 2024-01-02", got[1].Timestamp)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	first := []domain.Bar{
		{Symbol: "MSFT", Timestamp: day(2024, 3, 1), Close: 403.0, Volume: 30000000},
		{Symbol: "MSFT", Timestamp: day(2024, 3, 4), Close: 405.0, Volume: 31000000},
	}
	if err := ps.WriteBars(ctx, first); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}
	// Replaces 03-04 and adds 03-05.
	second := []domain.Bar{
		{Symbol: "MSFT", Timestamp: day(2024, 3, 4), Close: 408.0, Volume: 35000000},
		{Symbol: "MSFT", Timestamp: day(2024, 3, 5), Close: 410.0, Volume: 36000000},
	}
	if err := ps.WriteBars(ctx, second); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "MSFT", "us", day(2024, 1, 1), day(2024, 12, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadBars returned %d bars after merge, want 3", len(got))
	}
	if got[1].Close != 408.0 {
		t.Errorf("merged bar Close = %v, want 408 (incoming wins)", got[1].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if symbols, err := ps.ListSymbols(ctx, "us"); err != nil || len(symbols) != 0 {
		t.Fatalf("ListSymbols on empty store = %v, %v; want empty, nil", symbols, err)
	}

	bars := []domain.Bar{
		{Symbol: "GOOGL", Timestamp: day(2024, 1, 2), Close: 140.5},
		{Symbol: "AAPL", Timestamp: day(2024, 1, 2), Close: 185.5},
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "us")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}
}

func TestDailyBarReaderAlignsToCalendar(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	// 2024-01-01 (Mon) .. 2024-01-05 (Fri); BBB has no bar on 01-03.
	bars := []domain.Bar{
		{Symbol: "AAA", Timestamp: day(2024, 1, 2), Close: 10, Volume: 100},
		{Symbol: "AAA", Timestamp: day(2024, 1, 3), Close: 11, Volume: 110},
		{Symbol: "AAA", Timestamp: day(2024, 1, 6), Close: 99, Volume: 999}, // Saturday
		{Symbol: "BBB", Timestamp: day(2024, 1, 2), Close: 20, Volume: 200},
		{Symbol: "BBB", Timestamp: day(2024, 1, 4), Close: 22, Volume: 220},
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	cal := util.WeekdayCalendar(domain.MarketUS, day(2024, 1, 1), day(2024, 1, 12))
	r := NewDailyBarReader(ps, domain.MarketUS, cal)
	assets := []domain.Asset{{SID: 1, Symbol: "AAA"}, {SID: 2, Symbol: "BBB"}}

	arrays, err := r.LoadRawArrays(ctx, []domain.Field{domain.FieldClose, domain.FieldVolume},
		day(2024, 1, 2), day(2024, 1, 7), assets)
	if err != nil {
		t.Fatalf("LoadRawArrays: %v", err)
	}
	closes, volumes := arrays[0], arrays[1]
	if rows, cols := closes.Dims(); rows != 4 || cols != 2 {
		t.Fatalf("close dims = %dx%d, want 4x2", rows, cols)
	}
	if got := closes.At(1, 0); got != 11 {
		t.Errorf("AAA close on 01-03 = %v, want 11", got)
	}
	if got := closes.At(1, 1); !math.IsNaN(got) {
		t.Errorf("BBB close on 01-03 = %v, want NaN", got)
	}
	if got := volumes.At(1, 1); got != 0 {
		t.Errorf("BBB volume on 01-03 = %v, want 0", got)
	}
	if got := volumes.At(2, 1); got != 220 {
		t.Errorf("BBB volume on 01-04 = %v, want 220", got)
	}
}

func TestDailyBarReaderNoSessions(t *testing.T) {
	cal := util.WeekdayCalendar(domain.MarketUS, day(2024, 1, 1), day(2024, 1, 12))
	r := NewDailyBarReader(NewParquetStore(t.TempDir()), domain.MarketUS, cal)

	_, err := r.LoadRawArrays(context.Background(), []domain.Field{domain.FieldClose},
		day(2024, 1, 6), day(2024, 1, 7), []domain.Asset{{SID: 1, Symbol: "AAA"}})
	if !errors.Is(err, ErrNoSessions) {
		t.Fatalf("LoadRawArrays over a weekend error = %v, want ErrNoSessions", err)
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openSQLite(t)

	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("reading user_version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("user_version = %d, want %d", version, len(migrations))
	}
	// Migrating again is a no-op.
	if err := s.migrate(context.Background()); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}

func TestSQLiteStoreAdjustments(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	splits := []domain.AdjustmentEvent{
		{SID: 1, Date: day(2024, 6, 10), Ratio: 0.1},
		{SID: 1, Date: day(2020, 8, 31), Ratio: 0.25},
		{SID: 2, Date: day(2022, 7, 18), Ratio: 0.05},
	}
	if err := s.WriteAdjustments(ctx, domain.Splits, splits); err != nil {
		t.Fatalf("WriteAdjustments: %v", err)
	}

	got, err := s.AdjustmentsForSID(ctx, domain.Splits, 1)
	if err != nil {
		t.Fatalf("AdjustmentsForSID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d splits for sid 1, want 2", len(got))
	}
	if !got[0].Date.Equal(day(2020, 8, 31)) || got[0].Ratio != 0.25 {
		t.Errorf("first split = %+v, want 2020-08-31 x0.25", got[0])
	}

	if divs, err := s.AdjustmentsForSID(ctx, domain.Dividends, 1); err != nil || len(divs) != 0 {
		t.Errorf("dividends for sid 1 = %v, %v; want empty, nil", divs, err)
	}
	if _, err := s.AdjustmentsForSID(ctx, domain.AdjustmentKind("spinoffs"), 1); err == nil {
		t.Error("unknown adjustment kind should fail")
	}
}

func TestSQLiteStoreEvents(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	events := []domain.Event{
		{SID: 1, KnowledgeDate: day(2024, 2, 1), EventDate: day(2024, 2, 10), Value: 1.5},
		{SID: 1, KnowledgeDate: day(2024, 1, 1), EventDate: day(2024, 1, 15), Value: 1.2},
		{SID: 2, KnowledgeDate: day(2024, 1, 5), EventDate: day(2024, 1, 20), Value: 0.7},
	}
	if err := s.WriteEvents(ctx, "earnings", events); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	if err := s.WriteEvents(ctx, "buybacks", events[:1]); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}

	got, err := s.ReadEvents(ctx, "earnings", []int64{1, 3})
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 1 || len(got[1]) != 2 {
		t.Fatalf("ReadEvents = %v, want two events for sid 1 only", got)
	}
	if !got[1][0].KnowledgeDate.Equal(day(2024, 1, 1)) {
		t.Errorf("events not ordered by knowledge date: %+v", got[1])
	}
	if got[1][1].Value != 1.5 {
		t.Errorf("second event value = %v, want 1.5", got[1][1].Value)
	}
}

func TestSQLiteStoreAssets(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	if err := s.WriteAssets(ctx, []domain.Asset{{SID: 24, Symbol: "AAPL"}, {SID: 8, Symbol: "MSFT"}}); err != nil {
		t.Fatalf("WriteAssets: %v", err)
	}
	if err := s.WriteAssets(ctx, []domain.Asset{{SID: 8, Symbol: "MSFT.O"}}); err != nil {
		t.Fatalf("WriteAssets (replace): %v", err)
	}

	got, err := s.ListAssets(ctx)
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	want := []domain.Asset{{SID: 8, Symbol: "MSFT.O"}, {SID: 24, Symbol: "AAPL"}}
	if len(got) != len(want) {
		t.Fatalf("ListAssets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("asset %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResolveAssets(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	ps := NewParquetStore(t.TempDir())
	bars := []domain.Bar{
		{Symbol: "MSFT", Timestamp: day(2024, 1, 2), Close: 370},
		{Symbol: "AAPL", Timestamp: day(2024, 1, 2), Close: 185.5},
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	// No asset table: symbols with bars, numbered in order.
	got, err := ResolveAssets(ctx, s, ps, "us", nil)
	if err != nil {
		t.Fatalf("ResolveAssets: %v", err)
	}
	if len(got) != 2 || got[0] != (domain.Asset{SID: 1, Symbol: "AAPL"}) || got[1] != (domain.Asset{SID: 2, Symbol: "MSFT"}) {
		t.Errorf("ResolveAssets from bars = %v, want [AAPL(1) MSFT(2)]", got)
	}

	if err := s.WriteAssets(ctx, []domain.Asset{{SID: 24, Symbol: "AAPL"}, {SID: 8, Symbol: "MSFT"}}); err != nil {
		t.Fatalf("WriteAssets: %v", err)
	}
	got, err = ResolveAssets(ctx, s, ps, "us", []string{"aapl"})
	if err != nil {
		t.Fatalf("ResolveAssets: %v", err)
	}
	if len(got) != 1 || got[0].SID != 24 {
		t.Errorf("ResolveAssets(aapl) = %v, want [AAPL(24)]", got)
	}

	if _, err := ResolveAssets(ctx, s, ps, "us", []string{"TSLA"}); err == nil {
		t.Error("ResolveAssets accepted an unknown symbol")
	}
}
