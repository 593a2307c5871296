package storage

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"sync"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteJournal appends every run and its intents to a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteJournal opens (or creates) the database and runs migrations.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set WAL mode")
	}

	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	log.Printf("[INFO] sqlite journal opened: %s", dbPath)
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id                TEXT PRIMARY KEY,
			started_at            INTEGER NOT NULL,
			finished_at           INTEGER,
			weekday               TEXT,
			dry_run               INTEGER,
			ticker                TEXT,
			data_source           TEXT,
			rally_guard_triggered INTEGER,
			percent_change        TEXT,
			close                 TEXT,
			sma                   TEXT,
			market_green          INTEGER,
			weight                TEXT,
			lines                 TEXT,
			errors                TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS intents (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id          TEXT NOT NULL REFERENCES runs(run_id),
			action          TEXT,
			notional        TEXT,
			reason          TEXT,
			client_order_id TEXT,
			order_id        TEXT,
			status          TEXT,
			error           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_run ON intents(run_id)`,
	}

	for _, s := range stmts {
		if _, err := j.db.Exec(s); err != nil {
			return errors.Wrapf(err, "exec %q", s[:40])
		}
	}
	return nil
}

// Record inserts the run and its intents in one transaction. Amounts are stored as
// decimal strings so nothing is lost to float rounding.
func (j *SQLiteJournal) Record(ctx context.Context, r *Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(run_id, started_at, finished_at, weekday, dry_run, ticker, data_source,
		 rally_guard_triggered, percent_change, close, sma, market_green, weight, lines, errors)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.StartedAt.Unix(), r.FinishedAt.Unix(), r.Weekday, r.DryRun, r.Ticker, r.DataSource,
		r.RallyGuardTriggered, r.PercentChange.String(), r.Close.String(), r.SMA.String(),
		r.MarketGreen, r.Weight.String(),
		strings.Join(r.Lines, "\n"), strings.Join(r.Errors, "\n"),
	)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}

	for _, in := range r.Intents {
		_, err = tx.ExecContext(ctx, `INSERT INTO intents
			(run_id, action, notional, reason, client_order_id, order_id, status, error)
			VALUES (?,?,?,?,?,?,?,?)`,
			r.RunID, in.Action, in.Notional.String(), in.Reason,
			in.ClientOrderID, in.OrderID, in.Status, in.Error,
		)
		if err != nil {
			return errors.Wrap(err, "insert intent")
		}
	}

	return errors.Wrap(tx.Commit(), "commit")
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
