package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a daily candlestick for one ticker.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Green reports whether the bar closed above its open.
func (b Bar) Green() bool {
	return b.Close.GreaterThan(b.Open)
}

// PriceSeries is a chronological run of daily bars for one ticker.
// It is fetched once per run and never mutated afterwards.
type PriceSeries struct {
	Symbol string
	Bars   []Bar
}

// Len returns the number of bars in the series.
func (s PriceSeries) Len() int {
	return len(s.Bars)
}

// Last returns the most recent bar. ok is false when the series is empty.
func (s PriceSeries) Last() (bar Bar, ok bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Closes extracts the closing prices in chronological order.
func (s PriceSeries) Closes() []decimal.Decimal {
	closes := make([]decimal.Decimal, len(s.Bars))
	for i, b := range s.Bars {
		closes[i] = b.Close
	}
	return closes
}

// CloseOn returns the close of the bar dated on the given calendar day (UTC date of the bar).
func (s PriceSeries) CloseOn(day time.Time) (decimal.Decimal, bool) {
	y, m, d := day.Date()
	for _, b := range s.Bars {
		by, bm, bd := b.Time.UTC().Date()
		if by == y && bm == m && bd == d {
			return b.Close, true
		}
	}
	return decimal.Zero, false
}
