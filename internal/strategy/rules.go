package strategy

import (
	"dca_bot/internal/indicators"
	"dca_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func pct(d decimal.Decimal) string {
	return d.Mul(hundred).StringFixed(1) + "%"
}

// PercentChange returns (current - reference) / reference.
func PercentChange(current, reference decimal.Decimal) (decimal.Decimal, error) {
	if !reference.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrInvalidReferencePrice, "reference price %s", reference)
	}
	return current.Sub(reference).Div(reference), nil
}

// evaluateRallyGuard fails open: without a usable last-buy reference the guard never triggers.
func (e *Engine) evaluateRallyGuard(in Input, ev *Evaluation) RallyGuardResult {
	ref := e.cfg.ReferenceTicker

	if in.LastBuyErr != nil {
		ev.note("🛡️ Rally guard: order history unavailable (%v), guard not applied.", in.LastBuyErr)
		return RallyGuardResult{}
	}
	if in.LastBuy == nil {
		ev.note("🛡️ Rally guard: no prior %s buy with a %s reference price, guard not applied.", e.cfg.Ticker, ref)
		return RallyGuardResult{}
	}
	if in.ReferenceErr != nil {
		ev.fail(BlockRallyGuard, unavailable("current "+ref+" price", in.ReferenceErr))
		return RallyGuardResult{}
	}

	change, err := PercentChange(in.ReferencePrice, in.LastBuy.ReferencePrice)
	if err != nil {
		ev.fail(BlockRallyGuard, err)
		return RallyGuardResult{}
	}

	res := RallyGuardResult{Applicable: true, PercentChange: change}
	if change.GreaterThan(e.cfg.RallyThreshold) {
		res.Triggered = true
		ev.alert(models.SeverityWarning, "⚠️ RALLY GUARD: %s is %s higher since last buy. Skipping DCA.", ref, pct(change))
		return res
	}

	ev.note("🛡️ Rally guard: %s %s since last buy on %s (limit %s), buying allowed.",
		ref, pct(change), in.LastBuy.Date.Format("2006-01-02"), pct(e.cfg.RallyThreshold))
	return res
}

func (e *Engine) evaluateTuesday(in Input, ev *Evaluation) {
	if in.Weekday != models.Tuesday {
		ev.note("📆 Tuesday DCA: today is %s, nothing to buy.", in.Weekday)
		return
	}
	if ev.RallyGuard.Triggered {
		ev.note("📆 Tuesday DCA: skipped by rally guard.")
		return
	}
	if in.AssetErr != nil {
		ev.fail(BlockTuesday, unavailable(e.cfg.Ticker+" history", in.AssetErr))
		return
	}

	n := in.Asset.Len()
	if n < e.cfg.LookbackWindow {
		ev.fail(BlockTuesday, errors.Wrapf(ErrInsufficientHistory,
			"%s has %d closes, SMA%d needs %d", e.cfg.Ticker, n, e.cfg.LookbackWindow, e.cfg.LookbackWindow))
		return
	}

	sma, err := indicators.SMA(in.Asset.Closes(), e.cfg.LookbackWindow)
	if err != nil {
		ev.fail(BlockTuesday, errors.Wrap(ErrInsufficientHistory, err.Error()))
		return
	}
	last, _ := in.Asset.Last()
	ev.Close = last.Close
	ev.SMA = sma

	if last.Close.LessThan(sma) {
		amount := e.cfg.DipBuyAmount
		ev.Intents = append(ev.Intents, models.TradeIntent{Action: models.Buy, Notional: amount, Reason: "dip buy"})
		ev.alert(models.SeveritySuccess, "🔥 DIP BUY: %s $%s below SMA%d $%s. Buying $%s.",
			e.cfg.Ticker, last.Close.StringFixed(2), e.cfg.LookbackWindow, sma.StringFixed(2), amount.String())
		return
	}

	amount := e.cfg.BaseDCAAmount
	ev.Intents = append(ev.Intents, models.TradeIntent{Action: models.Buy, Notional: amount, Reason: "regular DCA"})
	ev.alert(models.SeveritySuccess, "✅ TUESDAY DCA: Buying $%s %s (regular DCA, $%s vs SMA%d $%s).",
		amount.String(), e.cfg.Ticker, last.Close.StringFixed(2), e.cfg.LookbackWindow, sma.StringFixed(2))
}

func (e *Engine) evaluateFriday(in Input, ev *Evaluation) {
	if in.Weekday != models.Friday {
		ev.note("📆 Friday harvest: today is %s, no rebalance.", in.Weekday)
		return
	}
	if in.RecentErr != nil {
		ev.fail(BlockFriday, unavailable(e.cfg.Ticker+" recent bars", in.RecentErr))
		return
	}

	// The last bar may belong to the previous session when today's has not been published yet.
	bar, ok := in.Recent.Last()
	ev.MarketGreen = ok && bar.Green()

	if !ev.MarketGreen {
		ev.alert(models.SeverityInfo, "📅 FRIDAY: Market red, skipping harvest. Will try next Friday.")
		return
	}

	if in.Portfolio == nil {
		reason := "no snapshot"
		if in.PortfolioErr != nil {
			reason = in.PortfolioErr.Error()
		}
		ev.note("ℹ️ Friday harvest: market green but portfolio unavailable (%s), check could not run.", reason)
		return
	}

	p := *in.Portfolio
	ev.Weight = p.Weight()
	if !ev.Weight.GreaterThan(e.cfg.HarvestCapWeight) {
		ev.note("ℹ️ Friday harvest: %s weight %s within %s cap, no sale.",
			e.cfg.Ticker, pct(ev.Weight), pct(e.cfg.HarvestCapWeight))
		return
	}

	sell := p.PositionValue.Sub(p.TotalValue.Mul(e.cfg.HarvestTargetWeight)).Round(2)
	if !sell.IsPositive() {
		ev.note("ℹ️ Friday harvest: computed sale $%s is not positive, no sale.", sell.StringFixed(2))
		return
	}

	ev.Intents = append(ev.Intents, models.TradeIntent{Action: models.Sell, Notional: sell, Reason: "harvest"})
	ev.alert(models.SeveritySuccess, "💰 HARVEST: Selling $%s to refill cash (Friday, green day, weight %s).",
		sell.StringFixed(2), pct(ev.Weight))
}
