// Package strategy is the decision engine for the leveraged-ETF DCA strategy.
//
// Evaluate is a pure function of its Input: it never fetches data, never reads the
// clock and never places orders. Callers take the snapshots, pass the effective
// weekday in, and act on the returned intents and alerts.
package strategy

import (
	"fmt"

	"dca_bot/internal/models"

	"github.com/shopspring/decimal"
)

// Input is the point-in-time view a single run reasons about. A non-nil *Err field
// means the matching snapshot could not be fetched; only the rules that need it are affected.
type Input struct {
	Weekday models.Weekday

	// Asset is the long daily history used for the moving average.
	Asset    models.PriceSeries
	AssetErr error

	// Recent is the short trailing window whose last bar decides "market green".
	Recent    models.PriceSeries
	RecentErr error

	// ReferencePrice is the reference ticker's current price.
	ReferencePrice decimal.Decimal
	ReferenceErr   error

	LastBuy    *models.LastBuyRecord
	LastBuyErr error

	Portfolio    *models.PortfolioSnapshot
	PortfolioErr error
}

// RallyGuardResult describes the rally guard outcome.
type RallyGuardResult struct {
	Applicable    bool
	Triggered     bool
	PercentChange decimal.Decimal
}

// Evaluation is everything one run decided.
type Evaluation struct {
	Weekday    models.Weekday
	RallyGuard RallyGuardResult

	Close       decimal.Decimal
	SMA         decimal.Decimal
	MarketGreen bool
	Weight      decimal.Decimal

	Intents []models.TradeIntent
	Alerts  []models.AlertMessage
	// Lines holds one human-readable status line per decision path, alerts included.
	Lines  []string
	Errors []BlockError
}

// Err returns the failure recorded for a block, if any.
func (e *Evaluation) Err(block Block) error {
	for _, be := range e.Errors {
		if be.Block == block {
			return be
		}
	}
	return nil
}

// Intent returns the first intent with the given action.
func (e *Evaluation) Intent(action models.Action) (models.TradeIntent, bool) {
	for _, in := range e.Intents {
		if in.Action == action {
			return in, true
		}
	}
	return models.TradeIntent{}, false
}

func (e *Evaluation) note(format string, args ...interface{}) {
	e.Lines = append(e.Lines, fmt.Sprintf(format, args...))
}

func (e *Evaluation) alert(sev models.Severity, format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	e.Alerts = append(e.Alerts, models.AlertMessage{Severity: sev, Text: text})
	e.Lines = append(e.Lines, text)
}

func (e *Evaluation) fail(block Block, err error) {
	be := BlockError{Block: block, Err: err}
	e.Errors = append(e.Errors, be)
	e.Lines = append(e.Lines, "❌ "+be.Error())
}

// Engine applies the rule blocks with a fixed configuration.
type Engine struct {
	cfg Config
}

// New validates cfg and returns an engine bound to it.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate runs rally guard, the Tuesday buy and the Friday harvest in that order.
// Failures stay inside the block that hit them.
func (e *Engine) Evaluate(in Input) Evaluation {
	ev := Evaluation{Weekday: in.Weekday}

	ev.RallyGuard = e.evaluateRallyGuard(in, &ev)
	e.evaluateTuesday(in, &ev)
	e.evaluateFriday(in, &ev)

	return ev
}
