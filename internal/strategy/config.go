package strategy

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Config holds every threshold and amount the rules use.
type Config struct {
	Ticker          string
	ReferenceTicker string

	// RallyThreshold is the fractional rise of the reference ticker since the last buy
	// above which the Tuesday buy is skipped (0.15 = 15%).
	RallyThreshold decimal.Decimal

	BaseDCAAmount decimal.Decimal
	DipBuyAmount  decimal.Decimal

	// Harvest sells down to HarvestTargetWeight once the position exceeds HarvestCapWeight.
	HarvestCapWeight    decimal.Decimal
	HarvestTargetWeight decimal.Decimal

	// LookbackWindow is the moving-average period in trading days.
	LookbackWindow int
}

// DefaultConfig returns the 15% rally guard, $1250/$2500 buys, 92%/90% harvest, SMA200 setup on TQQQ/QQQ.
func DefaultConfig() Config {
	return Config{
		Ticker:              "TQQQ",
		ReferenceTicker:     "QQQ",
		RallyThreshold:      decimal.NewFromFloat(0.15),
		BaseDCAAmount:       decimal.NewFromInt(1250),
		DipBuyAmount:        decimal.NewFromInt(2500),
		HarvestCapWeight:    decimal.NewFromFloat(0.92),
		HarvestTargetWeight: decimal.NewFromFloat(0.90),
		LookbackWindow:      200,
	}
}

// Validate rejects configurations the rules cannot evaluate meaningfully.
func (c Config) Validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case c.Ticker == "":
		return errors.New("ticker is required")
	case c.ReferenceTicker == "":
		return errors.New("reference ticker is required")
	case !c.RallyThreshold.IsPositive():
		return errors.Errorf("rally threshold must be positive, got %s", c.RallyThreshold)
	case !c.BaseDCAAmount.IsPositive():
		return errors.Errorf("base DCA amount must be positive, got %s", c.BaseDCAAmount)
	case !c.DipBuyAmount.IsPositive():
		return errors.Errorf("dip buy amount must be positive, got %s", c.DipBuyAmount)
	case !c.HarvestTargetWeight.IsPositive() || c.HarvestTargetWeight.GreaterThan(one):
		return errors.Errorf("harvest target weight must be in (0,1], got %s", c.HarvestTargetWeight)
	case !c.HarvestCapWeight.IsPositive() || c.HarvestCapWeight.GreaterThan(one):
		return errors.Errorf("harvest cap weight must be in (0,1], got %s", c.HarvestCapWeight)
	case c.HarvestCapWeight.LessThan(c.HarvestTargetWeight):
		return errors.Errorf("harvest cap weight %s is below target weight %s", c.HarvestCapWeight, c.HarvestTargetWeight)
	case c.LookbackWindow < 1:
		return errors.Errorf("lookback window must be at least 1, got %d", c.LookbackWindow)
	}
	return nil
}
