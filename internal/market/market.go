package market

import (
	"context"
	"time"

	"dca_bot/internal/models"

	"github.com/shopspring/decimal"
)

// DataProvider is the market-data collaborator. An empty series is a valid
// "no data yet" answer, not an error.
type DataProvider interface {
	// GetDailySeries returns up to lookback daily bars ending at the latest session, oldest first.
	GetDailySeries(ctx context.Context, ticker string, lookback int) (models.PriceSeries, error)
	// GetDailyRange returns the daily bars between start and end inclusive, oldest first.
	GetDailyRange(ctx context.Context, ticker string, start, end time.Time) (models.PriceSeries, error)
	Name() string
}

// OrderRequest is the only order shape the bot submits: market, notional, day.
type OrderRequest struct {
	Symbol        string
	Side          string // buy, sell
	Notional      decimal.Decimal
	ClientOrderID string
}

// Brokerage is the trading collaborator.
type Brokerage interface {
	// GetLastFilledBuy returns the fill time of the latest filled buy for ticker, or nil when there is none.
	GetLastFilledBuy(ctx context.Context, ticker string) (*time.Time, error)
	// GetAccountSnapshot returns the portfolio value and the market value held in ticker.
	GetAccountSnapshot(ctx context.Context, ticker string) (models.PortfolioSnapshot, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*models.Order, error)
	GetClock(ctx context.Context) (*models.Clock, error)
}
