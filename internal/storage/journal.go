package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// IntentRecord is one trade intent and what happened when it was acted on.
type IntentRecord struct {
	Action        string          `json:"action"`
	Notional      decimal.Decimal `json:"notional"`
	Reason        string          `json:"reason"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`
	Status        string          `json:"status"` // submitted, failed, dry_run
	Error         string          `json:"error,omitempty"`
}

// Report is the audit record of a single run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Weekday    string    `json:"weekday"`
	DryRun     bool      `json:"dry_run"`
	Ticker     string    `json:"ticker"`
	DataSource string    `json:"data_source"`

	RallyGuardTriggered bool            `json:"rally_guard_triggered"`
	PercentChange       decimal.Decimal `json:"percent_change"`
	Close               decimal.Decimal `json:"close"`
	SMA                 decimal.Decimal `json:"sma"`
	MarketGreen         bool            `json:"market_green"`
	Weight              decimal.Decimal `json:"weight"`

	Intents []IntentRecord `json:"intents"`
	Lines   []string       `json:"lines"`
	Errors  []string       `json:"errors,omitempty"`

	NextRun *time.Time `json:"next_run,omitempty"`
}

// Journal persists run reports. It is write-only: nothing reads it back to make decisions.
type Journal interface {
	Record(ctx context.Context, r *Report) error
	Close() error
}

// NoopJournal discards reports.
type NoopJournal struct{}

func (NoopJournal) Record(context.Context, *Report) error { return nil }
func (NoopJournal) Close() error                          { return nil }

// MultiJournal fans a report out to several journals, attempting all of them.
type MultiJournal []Journal

func (m MultiJournal) Record(ctx context.Context, r *Report) error {
	var first error
	for _, j := range m {
		if err := j.Record(ctx, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiJournal) Close() error {
	var first error
	for _, j := range m {
		if err := j.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "close journal")
		}
	}
	return first
}
