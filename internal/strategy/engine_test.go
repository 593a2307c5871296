package strategy

import (
	"strings"
	"testing"
	"time"

	"dca_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2025, 1, 2, 5, 0, 0, 0, time.UTC)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// seriesWithSMA builds n bars whose last close is last and whose trailing n-bar mean is sma.
func seriesWithSMA(n int, last, sma float64) models.PriceSeries {
	filler := (float64(n)*sma - last) / float64(n-1)
	bars := make([]models.Bar, n)
	for i := range bars {
		c := filler
		if i == n-1 {
			c = last
		}
		bars[i] = models.Bar{Time: day0.AddDate(0, 0, i), Open: dec(c), Close: dec(c)}
	}
	return models.PriceSeries{Symbol: "TQQQ", Bars: bars}
}

func flatSeries(n int, price float64) models.PriceSeries {
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{Time: day0.AddDate(0, 0, i), Open: dec(price), Close: dec(price)}
	}
	return models.PriceSeries{Symbol: "TQQQ", Bars: bars}
}

func greenWindow() models.PriceSeries {
	return models.PriceSeries{Symbol: "TQQQ", Bars: []models.Bar{
		{Time: day0, Open: dec(50), Close: dec(49)},
		{Time: day0.AddDate(0, 0, 1), Open: dec(49), Close: dec(51)},
	}}
}

func redWindow() models.PriceSeries {
	return models.PriceSeries{Symbol: "TQQQ", Bars: []models.Bar{
		{Time: day0, Open: dec(49), Close: dec(51)},
		{Time: day0.AddDate(0, 0, 1), Open: dec(51), Close: dec(50)},
	}}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	return e
}

func TestScenarioA_DipBuy(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{Weekday: models.Tuesday, Asset: seriesWithSMA(200, 90, 100)})

	require.Len(t, ev.Intents, 1)
	assert.Equal(t, models.Buy, ev.Intents[0].Action)
	assert.True(t, ev.Intents[0].Notional.Equal(decimal.NewFromInt(2500)))
	assert.InDelta(t, 100.0, ev.SMA.InexactFloat64(), 1e-6)
	require.Len(t, ev.Alerts, 1)
	assert.Equal(t, models.SeveritySuccess, ev.Alerts[0].Severity)
	assert.Contains(t, ev.Alerts[0].Text, "DIP BUY")
	assert.Empty(t, ev.Errors)
}

func TestScenarioB_RegularDCA(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{Weekday: models.Tuesday, Asset: seriesWithSMA(250, 110, 100)})

	in, ok := ev.Intent(models.Buy)
	require.True(t, ok)
	assert.True(t, in.Notional.Equal(decimal.NewFromInt(1250)))
	require.Len(t, ev.Alerts, 1)
	assert.Contains(t, ev.Alerts[0].Text, "TUESDAY DCA")
}

func TestTuesday_PriceEqualToSMAIsRegular(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{Weekday: models.Tuesday, Asset: flatSeries(200, 100)})

	in, ok := ev.Intent(models.Buy)
	require.True(t, ok)
	assert.True(t, in.Notional.Equal(decimal.NewFromInt(1250)))
}

func TestTuesday_FractionalPriceEqualToSMAIsRegular(t *testing.T) {
	e := newEngine(t)
	for _, price := range []float64{0.1, 55.37, 61.13} {
		ev := e.Evaluate(Input{Weekday: models.Tuesday, Asset: flatSeries(200, price)})

		in, ok := ev.Intent(models.Buy)
		require.True(t, ok)
		assert.True(t, in.Notional.Equal(decimal.NewFromInt(1250)), "flat %v bought %s", price, in.Notional)
		assert.True(t, ev.SMA.Equal(ev.Close), "flat %v: sma %s close %s", price, ev.SMA, ev.Close)
	}
}

func TestScenarioC_RallyGuardTriggers(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{
		Weekday:        models.Tuesday,
		Asset:          seriesWithSMA(200, 90, 100),
		ReferencePrice: dec(120),
		LastBuy:        &models.LastBuyRecord{Date: day0, ReferencePrice: dec(100)},
	})

	assert.True(t, ev.RallyGuard.Applicable)
	assert.True(t, ev.RallyGuard.Triggered)
	assert.True(t, ev.RallyGuard.PercentChange.Equal(dec(0.2)))
	assert.Empty(t, ev.Intents)
	require.Len(t, ev.Alerts, 1)
	assert.Equal(t, models.SeverityWarning, ev.Alerts[0].Severity)
	assert.Contains(t, ev.Alerts[0].Text, "20.0%")
}

func TestRallyGuard_Threshold(t *testing.T) {
	e := newEngine(t)
	cases := []struct {
		current   float64
		triggered bool
	}{
		{100, false},
		{110, false},
		{115, false}, // exactly 15% does not trigger
		{115.01, true},
		{150, true},
		{80, false},
	}
	for _, tc := range cases {
		ev := e.Evaluate(Input{
			Weekday:        models.Tuesday,
			Asset:          flatSeries(200, 50),
			ReferencePrice: dec(tc.current),
			LastBuy:        &models.LastBuyRecord{Date: day0, ReferencePrice: dec(100)},
		})
		assert.Equal(t, tc.triggered, ev.RallyGuard.Triggered, "current=%v", tc.current)
		_, bought := ev.Intent(models.Buy)
		assert.Equal(t, !tc.triggered, bought, "current=%v", tc.current)
	}
}

func TestRallyGuard_NoLastBuyNeverTriggers(t *testing.T) {
	e := newEngine(t)
	for _, price := range []float64{0, 1, 100, 1e6} {
		ev := e.Evaluate(Input{Weekday: models.Tuesday, Asset: flatSeries(200, 50), ReferencePrice: dec(price)})
		assert.False(t, ev.RallyGuard.Triggered)
		assert.False(t, ev.RallyGuard.Applicable)
		_, bought := ev.Intent(models.Buy)
		assert.True(t, bought)
	}
}

func TestRallyGuard_InvalidReferencePrice(t *testing.T) {
	e := newEngine(t)
	for _, ref := range []float64{0, -5} {
		ev := e.Evaluate(Input{
			Weekday:        models.Tuesday,
			Asset:          flatSeries(200, 50),
			ReferencePrice: dec(120),
			LastBuy:        &models.LastBuyRecord{Date: day0, ReferencePrice: dec(ref)},
		})
		err := ev.Err(BlockRallyGuard)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidReferencePrice))
		assert.False(t, ev.RallyGuard.Triggered)
		for _, line := range ev.Lines {
			assert.NotContains(t, line, "NaN")
			assert.NotContains(t, line, "Inf")
		}
	}
}

func TestRallyGuard_CurrentReferenceUnavailable(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{
		Weekday:      models.Tuesday,
		Asset:        flatSeries(200, 50),
		ReferenceErr: errors.New("timeout"),
		LastBuy:      &models.LastBuyRecord{Date: day0, ReferencePrice: dec(100)},
	})
	assert.True(t, errors.Is(ev.Err(BlockRallyGuard), ErrCollaboratorUnavailable))
	_, bought := ev.Intent(models.Buy)
	assert.True(t, bought)
}

func TestPercentChange(t *testing.T) {
	got, err := PercentChange(dec(120), dec(100))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec(0.2)))

	_, err = PercentChange(dec(120), decimal.Zero)
	assert.True(t, errors.Is(err, ErrInvalidReferencePrice))
}

func TestTuesday_InsufficientHistory(t *testing.T) {
	e := newEngine(t)
	for _, n := range []int{0, 1, 50, 199} {
		ev := e.Evaluate(Input{Weekday: models.Tuesday, Asset: flatSeries(n, 50)})
		assert.Empty(t, ev.Intents, "n=%d", n)
		err := ev.Err(BlockTuesday)
		require.Error(t, err, "n=%d", n)
		assert.True(t, errors.Is(err, ErrInsufficientHistory), "n=%d", n)
	}
}

func TestTuesday_AssetUnavailableDoesNotBlockFriday(t *testing.T) {
	e := newEngine(t)
	portfolio := &models.PortfolioSnapshot{TotalValue: dec(10000), PositionValue: dec(9500)}
	in := Input{
		Weekday:   models.Tuesday,
		AssetErr:  errors.New("feed down"),
		Recent:    greenWindow(),
		Portfolio: portfolio,
	}

	ev := e.Evaluate(in)
	assert.True(t, errors.Is(ev.Err(BlockTuesday), ErrCollaboratorUnavailable))
	assert.Empty(t, ev.Intents)

	in.Weekday = models.Friday
	ev = e.Evaluate(in)
	assert.NoError(t, ev.Err(BlockFriday))
	_, sold := ev.Intent(models.Sell)
	assert.True(t, sold)
}

func TestNotTuesday_NoBuy(t *testing.T) {
	e := newEngine(t)
	for _, d := range []models.Weekday{models.Monday, models.Wednesday, models.Thursday, models.Friday, models.Sunday} {
		ev := e.Evaluate(Input{Weekday: d, Asset: seriesWithSMA(200, 90, 100), Recent: redWindow()})
		_, bought := ev.Intent(models.Buy)
		assert.False(t, bought, "weekday=%s", d)
	}
}

func TestScenarioD_Harvest(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{
		Weekday:   models.Friday,
		Recent:    greenWindow(),
		Portfolio: &models.PortfolioSnapshot{TotalValue: dec(10000), PositionValue: dec(9500)},
	})

	assert.True(t, ev.MarketGreen)
	assert.True(t, ev.Weight.Equal(dec(0.95)))
	in, ok := ev.Intent(models.Sell)
	require.True(t, ok)
	assert.Equal(t, "500.00", in.Notional.StringFixed(2))
	require.Len(t, ev.Alerts, 1)
	assert.Equal(t, models.SeveritySuccess, ev.Alerts[0].Severity)
	assert.Contains(t, ev.Alerts[0].Text, "$500.00")
}

func TestHarvest_WithinCap(t *testing.T) {
	e := newEngine(t)
	for _, pos := range []float64{0, 5000, 9000, 9200} {
		ev := e.Evaluate(Input{
			Weekday:   models.Friday,
			Recent:    greenWindow(),
			Portfolio: &models.PortfolioSnapshot{TotalValue: dec(10000), PositionValue: dec(pos)},
		})
		assert.Empty(t, ev.Intents, "position=%v", pos)
		assert.Empty(t, ev.Alerts, "position=%v", pos)
		assert.NotEmpty(t, ev.Lines)
	}
}

func TestScenarioE_MarketRed(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{
		Weekday:   models.Friday,
		Recent:    redWindow(),
		Portfolio: &models.PortfolioSnapshot{TotalValue: dec(10000), PositionValue: dec(9900)},
	})

	assert.False(t, ev.MarketGreen)
	assert.Empty(t, ev.Intents)
	require.Len(t, ev.Alerts, 1)
	assert.Equal(t, models.SeverityInfo, ev.Alerts[0].Severity)
	assert.Contains(t, strings.ToLower(ev.Alerts[0].Text), "skipping harvest")
}

func TestHarvest_EmptyWindowIsNotGreen(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{
		Weekday:   models.Friday,
		Recent:    models.PriceSeries{Symbol: "TQQQ"},
		Portfolio: &models.PortfolioSnapshot{TotalValue: dec(10000), PositionValue: dec(9900)},
	})
	assert.False(t, ev.MarketGreen)
	assert.Empty(t, ev.Intents)
	assert.Empty(t, ev.Errors)
}

func TestScenarioF_ZeroPortfolio(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{
		Weekday:   models.Friday,
		Recent:    greenWindow(),
		Portfolio: &models.PortfolioSnapshot{TotalValue: decimal.Zero, PositionValue: decimal.Zero},
	})
	assert.True(t, ev.Weight.IsZero())
	assert.Empty(t, ev.Intents)
	assert.Empty(t, ev.Errors)
}

func TestHarvest_PortfolioUnavailable(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{
		Weekday:      models.Friday,
		Recent:       greenWindow(),
		PortfolioErr: errors.New("account endpoint down"),
	})
	assert.Empty(t, ev.Intents)
	assert.Empty(t, ev.Errors)
	require.NotEmpty(t, ev.Lines)
	assert.Contains(t, ev.Lines[len(ev.Lines)-1], "could not run")
}

func TestHarvest_RecentBarsUnavailable(t *testing.T) {
	e := newEngine(t)
	ev := e.Evaluate(Input{Weekday: models.Friday, RecentErr: errors.New("boom")})
	assert.True(t, errors.Is(ev.Err(BlockFriday), ErrCollaboratorUnavailable))
	assert.Empty(t, ev.Intents)
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := newEngine(t)
	in := Input{
		Weekday:        models.Tuesday,
		Asset:          seriesWithSMA(220, 90, 100),
		Recent:         greenWindow(),
		ReferencePrice: dec(105),
		LastBuy:        &models.LastBuyRecord{Date: day0, ReferencePrice: dec(100)},
		Portfolio:      &models.PortfolioSnapshot{TotalValue: dec(10000), PositionValue: dec(9500)},
	}

	first := e.Evaluate(in)
	second := e.Evaluate(in)
	assert.Equal(t, first, second)

	in.Weekday = models.Friday
	assert.Equal(t, e.Evaluate(in), e.Evaluate(in))
}

func TestEvaluate_EveryPathHasStatusLine(t *testing.T) {
	e := newEngine(t)
	for d := models.Monday; d <= models.Sunday; d++ {
		ev := e.Evaluate(Input{Weekday: d})
		// one line each for rally guard, Tuesday and Friday
		assert.Len(t, ev.Lines, 3, "weekday=%s", d)
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.HarvestCapWeight = dec(0.85)
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BaseDCAAmount = decimal.Zero
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.LookbackWindow = 0
	_, err := New(cfg)
	assert.Error(t, err)
}
