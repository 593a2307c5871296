// Package yahoo reads daily bars from the public Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"dca_bot/internal/market"
	"dca_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Fetcher implements market.DataProvider using Yahoo Finance.
type Fetcher struct {
	Client  *http.Client
	BaseURL string
}

var _ market.DataProvider = (*Fetcher)(nil)

// NewFetcher creates a Yahoo fetcher with optional proxy support.
func NewFetcher(proxyURL string) *Fetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Fetcher{
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		BaseURL: defaultBaseURL,
	}
}

func (f *Fetcher) Name() string { return "yahoo" }

// chart is the subset of the chart API response we read.
type chart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

func (f *Fetcher) fetchChart(ctx context.Context, symbol string, query url.Values) (models.PriceSeries, error) {
	series := models.PriceSeries{Symbol: symbol}
	query.Set("interval", "1d")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", f.BaseURL, url.PathEscape(symbol), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return series, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return series, errors.Wrap(err, "yahoo fetch")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return series, errors.Wrap(err, "yahoo read body")
	}
	if resp.StatusCode != http.StatusOK {
		return series, errors.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}

	var c chart
	if err := json.Unmarshal(body, &c); err != nil {
		return series, errors.Wrap(err, "yahoo decode")
	}
	if c.Chart.Error != nil {
		return series, errors.Errorf("yahoo api error: %s", c.Chart.Error.Description)
	}
	// no result is "no data yet", not a failure
	if len(c.Chart.Result) == 0 || len(c.Chart.Result[0].Indicators.Quote) == 0 {
		return series, nil
	}

	result := c.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	for i, ts := range result.Timestamp {
		o, h, l, cl := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if cl == 0 {
			continue // null bar (holiday or not yet published)
		}
		series.Bars = append(series.Bars, models.Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   decimal.NewFromFloat(o),
			High:   decimal.NewFromFloat(h),
			Low:    decimal.NewFromFloat(l),
			Close:  decimal.NewFromFloat(cl),
			Volume: int64(at(quote.Volume, i)),
		})
	}

	sort.Slice(series.Bars, func(i, j int) bool { return series.Bars[i].Time.Before(series.Bars[j].Time) })
	return series, nil
}

// GetDailySeries picks the smallest chart range that covers lookback sessions, then trims.
func (f *Fetcher) GetDailySeries(ctx context.Context, ticker string, lookback int) (models.PriceSeries, error) {
	rng := "2y"
	switch {
	case lookback <= 5:
		rng = "5d"
	case lookback <= 20:
		rng = "1mo"
	case lookback <= 60:
		rng = "3mo"
	case lookback <= 120:
		rng = "6mo"
	case lookback <= 250:
		rng = "1y"
	}

	series, err := f.fetchChart(ctx, ticker, url.Values{"range": {rng}})
	if err != nil {
		return series, err
	}
	if len(series.Bars) > lookback {
		series.Bars = series.Bars[len(series.Bars)-lookback:]
	}
	return series, nil
}

func (f *Fetcher) GetDailyRange(ctx context.Context, ticker string, start, end time.Time) (models.PriceSeries, error) {
	return f.fetchChart(ctx, ticker, url.Values{
		"period1": {strconv.FormatInt(start.Unix(), 10)},
		"period2": {strconv.FormatInt(end.Unix(), 10)},
	})
}
