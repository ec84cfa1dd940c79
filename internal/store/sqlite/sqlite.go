package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/mindmate-chat/internal/store"
)

const schema = `
	CREATE TABLE IF NOT EXISTS reports (
		reporter  TEXT    NOT NULL,
		reported  TEXT    NOT NULL,
		room      TEXT    NOT NULL,
		issued_at INTEGER NOT NULL,
		PRIMARY KEY (reporter, reported, room)
	);
	CREATE INDEX IF NOT EXISTS idx_reports_issued_at ON reports (issued_at);
`

// Ledger implements store.ReportLedger on SQLite so cooldowns survive restarts.
type Ledger struct {
	db *sql.DB
}

var _ store.ReportLedger = (*Ledger)(nil)

// New opens (creating if needed) the ledger at dbPath and applies the schema.
// Use ":memory:" for a throwaway ledger.
func New(dbPath string) (*Ledger, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup opens the ledger and runs setup instead of the built-in schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*Ledger, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = dbPath
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; ":memory:" needs it to keep the schema.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// LastReport returns the most recent successful report for key.
func (l *Ledger) LastReport(ctx context.Context, key store.ReportKey) (time.Time, bool, error) {
	query := `
		SELECT issued_at
		FROM reports
		WHERE reporter = ? AND reported = ? AND room = ?
	`
	var issuedAt int64
	err := l.db.QueryRowContext(ctx, query, key.Reporter, key.Reported, key.Room).Scan(&issuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("query report: %w", err)
	}
	return time.UnixMilli(issuedAt).UTC(), true, nil
}

// RecordReport upserts the report, keeping the newest issue time.
func (l *Ledger) RecordReport(ctx context.Context, report store.Report) error {
	query := `
		INSERT INTO reports (reporter, reported, room, issued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (reporter, reported, room)
		DO UPDATE SET issued_at = MAX(issued_at, excluded.issued_at)
	`
	_, err := l.db.ExecContext(ctx, query,
		report.Reporter,
		report.Reported,
		report.Room,
		report.IssuedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// PruneBefore deletes reports issued before cutoff.
func (l *Ledger) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM reports WHERE issued_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
