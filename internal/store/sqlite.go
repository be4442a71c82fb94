package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"factorlab/internal/adjustment"
	"factorlab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ adjustment.Reader = (*SQLiteStore)(nil)
var _ EventReader = (*SQLiteStore)(nil)
var _ AssetReader = (*SQLiteStore)(nil)

// SQLiteStore holds corporate actions, point-in-time events and the asset
// list in a SQLite database. Dates are stored as unix seconds.
type SQLiteStore struct {
	db *sql.DB
}

// migrations are applied in order; PRAGMA user_version records how many
// have run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		sid    INTEGER PRIMARY KEY,
		symbol TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS splits (
		sid            INTEGER NOT NULL,
		effective_date INTEGER NOT NULL,
		ratio          REAL    NOT NULL,
		PRIMARY KEY (sid, effective_date)
	)`,
	`CREATE TABLE IF NOT EXISTS mergers (
		sid            INTEGER NOT NULL,
		effective_date INTEGER NOT NULL,
		ratio          REAL    NOT NULL,
		PRIMARY KEY (sid, effective_date)
	)`,
	`CREATE TABLE IF NOT EXISTS dividends (
		sid            INTEGER NOT NULL,
		effective_date INTEGER NOT NULL,
		ratio          REAL    NOT NULL,
		PRIMARY KEY (sid, effective_date)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		dataset        TEXT    NOT NULL,
		sid            INTEGER NOT NULL,
		knowledge_date INTEGER NOT NULL,
		event_date     INTEGER NOT NULL,
		value          REAL    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_dataset_sid ON events (dataset, sid, knowledge_date)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// pending migrations and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return err
		}
	}
	return nil
}

func adjustmentTable(kind domain.AdjustmentKind) (string, error) {
	switch kind {
	case domain.Mergers, domain.Dividends, domain.Splits:
		return string(kind), nil
	}
	return "", fmt.Errorf("unknown adjustment kind %q", kind)
}

// ---------------------------------------------------------------------------
// Adjustments
// ---------------------------------------------------------------------------

// AdjustmentsForSID returns the corporate actions of one kind for sid,
// ordered by effective date.
func (s *SQLiteStore) AdjustmentsForSID(ctx context.Context, kind domain.AdjustmentKind, sid int64) ([]domain.AdjustmentEvent, error) {
	table, err := adjustmentTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT effective_date, ratio FROM "+table+" WHERE sid = ? ORDER BY effective_date", sid)
	if err != nil {
		return nil, fmt.Errorf("querying %s for sid %d: %w", table, sid, err)
	}
	defer rows.Close()

	var out []domain.AdjustmentEvent
	for rows.Next() {
		var (
			secs  int64
			ratio float64
		)
		if err := rows.Scan(&secs, &ratio); err != nil {
			return nil, err
		}
		out = append(out, domain.AdjustmentEvent{SID: sid, Date: time.Unix(secs, 0).UTC(), Ratio: ratio})
	}
	return out, rows.Err()
}

// WriteAdjustments inserts or replaces corporate actions of one kind.
func (s *SQLiteStore) WriteAdjustments(ctx context.Context, kind domain.AdjustmentKind, events []domain.AdjustmentEvent) error {
	table, err := adjustmentTable(kind)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR REPLACE INTO "+table+" (sid, effective_date, ratio) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, e.SID, e.Date.Unix(), e.Ratio); err != nil {
				return fmt.Errorf("inserting %s for sid %d: %w", table, e.SID, err)
			}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// ReadEvents returns the events of dataset for sids, ordered by knowledge
// date. Sids without events are absent from the result.
func (s *SQLiteStore) ReadEvents(ctx context.Context, dataset string, sids []int64) (map[int64][]domain.Event, error) {
	stmt, err := s.db.PrepareContext(ctx,
		`SELECT knowledge_date, event_date, value FROM events
		 WHERE dataset = ? AND sid = ? ORDER BY knowledge_date, event_date`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	out := make(map[int64][]domain.Event)
	for _, sid := range sids {
		rows, err := stmt.QueryContext(ctx, dataset, sid)
		if err != nil {
			return nil, fmt.Errorf("querying %s events for sid %d: %w", dataset, sid, err)
		}
		for rows.Next() {
			var kd, ed int64
			var v float64
			if err := rows.Scan(&kd, &ed, &v); err != nil {
				rows.Close()
				return nil, err
			}
			out[sid] = append(out[sid], domain.Event{
				SID:           sid,
				KnowledgeDate: time.Unix(kd, 0).UTC(),
				EventDate:     time.Unix(ed, 0).UTC(),
				Value:         v,
			})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteEvents appends events to dataset.
func (s *SQLiteStore) WriteEvents(ctx context.Context, dataset string, events []domain.Event) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO events (dataset, sid, knowledge_date, event_date, value) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, dataset, e.SID, e.KnowledgeDate.Unix(), e.EventDate.Unix(), e.Value); err != nil {
				return fmt.Errorf("inserting %s event for sid %d: %w", dataset, e.SID, err)
			}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Assets
// ---------------------------------------------------------------------------

// ListAssets returns every known asset ordered by sid.
func (s *SQLiteStore) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT sid, symbol FROM assets ORDER BY sid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.SID, &a.Symbol); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// WriteAssets inserts or replaces assets.
func (s *SQLiteStore) WriteAssets(ctx context.Context, assets []domain.Asset) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, a := range assets {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO assets (sid, symbol) VALUES (?, ?)", a.SID, a.Symbol); err != nil {
				return fmt.Errorf("inserting asset %s: %w", a, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
