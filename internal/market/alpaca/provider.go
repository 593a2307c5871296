package alpaca

import (
	"context"
	"log"
	"net/http"
	"time"

	"dca_bot/internal/market"
	"dca_bot/internal/models"
	"dca_bot/internal/retry"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Options are the credentials and endpoints for both Alpaca clients.
type Options struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API, paper or live
	DataURL   string // market data API, empty for the SDK default
	Feed      string // market data feed, "iex" on free plans
}

// Provider implements market.Brokerage and market.DataProvider on top of Alpaca.
type Provider struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
	feed        string
	now         func() time.Time
}

// Ensure Provider implements both collaborator interfaces
var (
	_ market.Brokerage    = (*Provider)(nil)
	_ market.DataProvider = (*Provider)(nil)
)

// NewProvider returns a new Alpaca provider.
func NewProvider(opts Options) *Provider {
	feed := opts.Feed
	if feed == "" {
		feed = marketdata.IEX
	}
	return &Provider{
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.DataURL,
		}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		feed: feed,
		now:  time.Now,
	}
}

func (p *Provider) Name() string { return "alpaca" }

// --- Market Data ---

// calendarDays is how far back to ask for bars so that weekends and up to a year of
// exchange holidays still leave lookback sessions (200 sessions -> 320 days).
func calendarDays(lookback int) int {
	return lookback*3/2 + 20
}

// GetDailySeries returns the last lookback sessions, trimmed from a wider calendar window.
func (p *Provider) GetDailySeries(ctx context.Context, ticker string, lookback int) (models.PriceSeries, error) {
	end := p.now()
	start := end.AddDate(0, 0, -calendarDays(lookback))

	series, err := p.GetDailyRange(ctx, ticker, start, end)
	if err != nil {
		return series, err
	}
	if len(series.Bars) > lookback {
		series.Bars = series.Bars[len(series.Bars)-lookback:]
	}
	return series, nil
}

func (p *Provider) GetDailyRange(ctx context.Context, ticker string, start, end time.Time) (models.PriceSeries, error) {
	series := models.PriceSeries{Symbol: ticker}
	if err := ctx.Err(); err != nil {
		return series, err
	}

	bars, err := p.mdClient.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.Split,
		Start:      start,
		End:        end,
		Feed:       p.feed,
	})
	if err != nil {
		return series, errors.Wrapf(err, "alpaca bars for %s", ticker)
	}

	series.Bars = make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		series.Bars = append(series.Bars, models.Bar{
			Time:   b.Timestamp,
			Open:   decimal.NewFromFloat(b.Open),
			High:   decimal.NewFromFloat(b.High),
			Low:    decimal.NewFromFloat(b.Low),
			Close:  decimal.NewFromFloat(b.Close),
			Volume: int64(b.Volume),
		})
	}
	return series, nil
}

// --- Trading ---

func (p *Provider) GetLastFilledBuy(ctx context.Context, ticker string) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	orders, err := p.tradeClient.GetOrders(alpaca.GetOrdersRequest{
		Status:    "closed",
		Limit:     100,
		Direction: "desc",
		Symbols:   []string{ticker},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "alpaca orders for %s", ticker)
	}

	var last *time.Time
	for _, o := range orders {
		if o.Symbol != ticker || o.Side != alpaca.Buy || o.FilledAt == nil {
			continue
		}
		if last == nil || o.FilledAt.After(*last) {
			filled := *o.FilledAt
			last = &filled
		}
	}
	return last, nil
}

// GetAccountSnapshot treats a missing position as a zero-value holding.
func (p *Provider) GetAccountSnapshot(ctx context.Context, ticker string) (models.PortfolioSnapshot, error) {
	var snap models.PortfolioSnapshot
	if err := ctx.Err(); err != nil {
		return snap, err
	}

	acct, err := p.tradeClient.GetAccount()
	if err != nil {
		return snap, errors.Wrap(err, "alpaca account")
	}
	snap.TotalValue = acct.PortfolioValue

	pos, err := p.tradeClient.GetPosition(ticker)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			snap.PositionValue = decimal.Zero
			return snap, nil
		}
		return snap, errors.Wrapf(err, "alpaca position %s", ticker)
	}
	if pos.MarketValue != nil {
		snap.PositionValue = *pos.MarketValue
	}
	return snap, nil
}

func (p *Provider) SubmitOrder(ctx context.Context, req market.OrderRequest) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	notional := req.Notional.Round(2)
	o, err := p.tradeClient.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Notional:      &notional,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientOrderID,
	})
	if err == nil {
		return mapOrder(o), nil
	}

	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity && req.ClientOrderID != "" {
		// An earlier attempt may have been accepted with its response lost.
		if existing, lookupErr := p.tradeClient.GetOrderByClientOrderID(req.ClientOrderID); lookupErr == nil &&
			existing.Symbol == req.Symbol && string(existing.Side) == req.Side {
			log.Printf("Order %s already accepted as %s, not resubmitting", req.ClientOrderID, existing.ID)
			return mapOrder(existing), nil
		}
	}

	err = errors.Wrapf(err, "alpaca %s %s $%s", req.Side, req.Symbol, notional.StringFixed(2))
	if apiErr != nil && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
		return nil, retry.Permanent(err)
	}
	return nil, err
}

func (p *Provider) GetClock(ctx context.Context) (*models.Clock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := p.tradeClient.GetClock()
	if err != nil {
		return nil, errors.Wrap(err, "alpaca clock")
	}
	return &models.Clock{
		Timestamp: c.Timestamp,
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen,
		NextClose: c.NextClose,
	}, nil
}

// Helpers

func mapOrder(o *alpaca.Order) *models.Order {
	if o == nil {
		return nil
	}
	return &models.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Status:        o.Status,
		Notional:      o.Notional,
		CreatedAt:     o.CreatedAt,
		FilledAt:      o.FilledAt,
	}
}
