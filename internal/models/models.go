package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LastBuyRecord is the date of the most recent filled buy of the strategy asset,
// together with the reference ticker's close on that day.
type LastBuyRecord struct {
	Date           time.Time       `json:"date"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
}

// PortfolioSnapshot is the account state the harvest rule reasons about.
type PortfolioSnapshot struct {
	TotalValue    decimal.Decimal `json:"total_value"`
	PositionValue decimal.Decimal `json:"position_value"`
}

// Weight returns the asset's share of the portfolio. A zero total yields zero.
func (p PortfolioSnapshot) Weight() decimal.Decimal {
	if !p.TotalValue.IsPositive() {
		return decimal.Zero
	}
	return p.PositionValue.Div(p.TotalValue)
}

// Action is the side of a trade intent.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Side returns the lower-case brokerage side ("buy" / "sell").
func (a Action) Side() string {
	return strings.ToLower(string(a))
}

// TradeIntent is an order the engine wants placed. Notional is in account currency.
type TradeIntent struct {
	Action   Action          `json:"action"`
	Notional decimal.Decimal `json:"notional"`
	Reason   string          `json:"reason"`
}

func (t TradeIntent) String() string {
	return fmt.Sprintf("%s $%s (%s)", t.Action, t.Notional.StringFixed(2), t.Reason)
}

// Severity tags an alert for the notification channel.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
)

// AlertMessage is a free-text notification.
type AlertMessage struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// Order is a brokerage order as returned after submission.
type Order struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"client_order_id"`
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	Status        string           `json:"status"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	FilledAt      *time.Time       `json:"filled_at,omitempty"`
}

// Clock represents the market status.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}
