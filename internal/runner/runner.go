// Package runner performs one scheduled evaluation: take snapshots, evaluate, act, record.
package runner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"dca_bot/internal/config"
	"dca_bot/internal/logger"
	"dca_bot/internal/market"
	"dca_bot/internal/models"
	"dca_bot/internal/retry"
	"dca_bot/internal/storage"
	"dca_bot/internal/strategy"
	"dca_bot/internal/telegram"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Notifier delivers alerts to the operator.
type Notifier interface {
	Send(ctx context.Context, msg models.AlertMessage) error
}

// Options are the per-run switches. DryRun and Weekday are independent.
type Options struct {
	DryRun bool
	// Weekday forces the effective weekday. Nil means today in the market time zone.
	Weekday *models.Weekday
}

type Runner struct {
	cfg      *config.Config
	engine   *strategy.Engine
	data     market.DataProvider
	broker   market.Brokerage // nil when no credentials are configured
	notifier Notifier
	journal  storage.Journal
	retrier  *retry.Retrier

	now   func() time.Time
	newID func() string
}

// New wires a Runner. broker may be nil; notifier and journal default to log-only and no-op.
func New(cfg *config.Config, data market.DataProvider, broker market.Brokerage, notifier Notifier, journal storage.Journal, r *retry.Retrier) (*Runner, error) {
	engine, err := strategy.New(cfg.StrategyConfig())
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.New("runner: data provider is required")
	}
	if notifier == nil {
		notifier = telegram.LogNotifier{}
	}
	if journal == nil {
		journal = storage.NoopJournal{}
	}
	if r == nil {
		r = retry.New(retry.WithAttempts(1))
	}
	return &Runner{
		cfg:      cfg,
		engine:   engine,
		data:     data,
		broker:   broker,
		notifier: notifier,
		journal:  journal,
		retrier:  r,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// errNoBroker explains why brokerage-backed snapshots are missing.
func (r *Runner) errNoBroker() error {
	if err := r.cfg.RequireBroker(); err != nil {
		return err
	}
	return errors.Wrap(config.ErrMissingCredentials, "brokerage not configured")
}

// Run performs a single evaluation. Live runs need a brokerage; dry runs work without one
// and never submit orders or send alerts.
func (r *Runner) Run(ctx context.Context, opts Options) (*strategy.Evaluation, error) {
	if !opts.DryRun && r.broker == nil {
		return nil, r.errNoBroker()
	}

	started := r.now()
	weekday := models.WeekdayOf(started.In(config.MarketLoc).Weekday())
	if opts.Weekday != nil {
		weekday = *opts.Weekday
	}

	sc := r.engine.Config()
	mode := "LIVE"
	if opts.DryRun {
		mode = "DRY RUN"
	}
	log.Printf("🚀 Run started [%s] %s, weekday=%s, data=%s", mode, sc.Ticker, weekday, r.data.Name())

	in := r.snapshot(ctx, weekday)
	ev := r.engine.Evaluate(in)

	for _, line := range ev.Lines {
		log.Printf("%s", line)
	}

	report := &storage.Report{
		RunID:               r.newID(),
		StartedAt:           started,
		Weekday:             weekday.String(),
		DryRun:              opts.DryRun,
		Ticker:              sc.Ticker,
		DataSource:          r.data.Name(),
		RallyGuardTriggered: ev.RallyGuard.Triggered,
		PercentChange:       ev.RallyGuard.PercentChange,
		Close:               ev.Close,
		SMA:                 ev.SMA,
		MarketGreen:         ev.MarketGreen,
		Weight:              ev.Weight,
		Lines:               ev.Lines,
	}
	for _, be := range ev.Errors {
		report.Errors = append(report.Errors, be.Error())
	}

	alerts := append([]models.AlertMessage(nil), ev.Alerts...)
	for _, intent := range ev.Intents {
		rec, failure := r.execute(ctx, sc.Ticker, intent, opts.DryRun)
		report.Intents = append(report.Intents, rec)
		if failure != nil {
			alerts = append(alerts, *failure)
		}
	}

	r.deliver(ctx, alerts, opts.DryRun)

	if next, err := r.cfg.NextRun(started); err == nil {
		report.NextRun = &next
		log.Printf("⏭️ Next scheduled run: %s", next.Format("Mon 2006-01-02 15:04 MST"))
	}

	report.FinishedAt = r.now()
	if err := r.journal.Record(ctx, report); err != nil {
		log.Printf("ERROR: Failed to record run %s: %v", report.RunID, err)
	}

	log.Printf("🏁 Run %s finished: %d intent(s), %d alert(s), %d block error(s)",
		report.RunID, len(ev.Intents), len(alerts), len(ev.Errors))
	return &ev, nil
}

// snapshot fetches every input once. A failed fetch is carried as an error on its
// field so only the rules that need it are affected.
func (r *Runner) snapshot(ctx context.Context, weekday models.Weekday) strategy.Input {
	sc := r.engine.Config()
	in := strategy.Input{Weekday: weekday}

	in.Asset, in.AssetErr = retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (models.PriceSeries, error) {
		return r.data.GetDailySeries(ctx, sc.Ticker, sc.LookbackWindow)
	})
	if in.AssetErr != nil {
		log.Printf("ERROR: %s history: %v", sc.Ticker, in.AssetErr)
	}

	in.Recent, in.RecentErr = retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (models.PriceSeries, error) {
		return r.data.GetDailySeries(ctx, sc.Ticker, r.cfg.Strategy.RecentWindow)
	})
	if in.RecentErr != nil {
		log.Printf("ERROR: %s recent bars: %v", sc.Ticker, in.RecentErr)
	}

	in.ReferencePrice, in.ReferenceErr = r.currentReference(ctx)
	if in.ReferenceErr != nil {
		log.Printf("ERROR: %s current price: %v", sc.ReferenceTicker, in.ReferenceErr)
	}

	in.LastBuy, in.LastBuyErr = r.lastBuy(ctx)
	if in.LastBuyErr != nil {
		log.Printf("WARN: last buy unavailable: %v", in.LastBuyErr)
	}

	in.Portfolio, in.PortfolioErr = r.portfolio(ctx)
	if in.PortfolioErr != nil {
		log.Printf("WARN: portfolio unavailable: %v", in.PortfolioErr)
	}

	logger.Debugf("snapshot: asset=%d bars, recent=%d bars, ref=%s, lastBuy=%v",
		in.Asset.Len(), in.Recent.Len(), in.ReferencePrice, in.LastBuy)
	return in
}

func (r *Runner) currentReference(ctx context.Context) (decimal.Decimal, error) {
	ticker := r.engine.Config().ReferenceTicker
	series, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (models.PriceSeries, error) {
		return r.data.GetDailySeries(ctx, ticker, 1)
	})
	if err != nil {
		return decimal.Zero, err
	}
	bar, ok := series.Last()
	if !ok {
		return decimal.Zero, errors.Errorf("no bars for %s", ticker)
	}
	return bar.Close, nil
}

// lastBuy finds the latest filled buy and the reference close on its market date.
// A nil record with a nil error means there has never been a buy.
func (r *Runner) lastBuy(ctx context.Context) (*models.LastBuyRecord, error) {
	if r.broker == nil {
		return nil, r.errNoBroker()
	}
	sc := r.engine.Config()

	filled, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (*time.Time, error) {
		return r.broker.GetLastFilledBuy(ctx, sc.Ticker)
	})
	if err != nil {
		return nil, errors.Wrap(err, "order history")
	}
	if filled == nil {
		return nil, nil
	}

	y, m, d := filled.In(config.MarketLoc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	series, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (models.PriceSeries, error) {
		return r.data.GetDailyRange(ctx, sc.ReferenceTicker, day, day.AddDate(0, 0, 1))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s close on %s", sc.ReferenceTicker, day.Format("2006-01-02"))
	}
	refClose, ok := series.CloseOn(day)
	if !ok {
		return nil, errors.Errorf("no %s close on %s", sc.ReferenceTicker, day.Format("2006-01-02"))
	}
	return &models.LastBuyRecord{Date: day, ReferencePrice: refClose}, nil
}

func (r *Runner) portfolio(ctx context.Context) (*models.PortfolioSnapshot, error) {
	if r.broker == nil {
		return nil, r.errNoBroker()
	}
	ticker := r.engine.Config().Ticker
	snap, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (models.PortfolioSnapshot, error) {
		return r.broker.GetAccountSnapshot(ctx, ticker)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// execute submits one intent. Every attempt reuses the same client order id so a retry
// after a lost response cannot place a second order.
func (r *Runner) execute(ctx context.Context, ticker string, intent models.TradeIntent, dryRun bool) (storage.IntentRecord, *models.AlertMessage) {
	rec := storage.IntentRecord{
		Action:   string(intent.Action),
		Notional: intent.Notional,
		Reason:   intent.Reason,
	}

	if dryRun {
		rec.Status = "dry_run"
		log.Printf("[DRY RUN] Would submit %s", intent)
		return rec, nil
	}

	req := market.OrderRequest{
		Symbol:        ticker,
		Side:          intent.Action.Side(),
		Notional:      intent.Notional,
		ClientOrderID: r.newID(),
	}
	rec.ClientOrderID = req.ClientOrderID

	order, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (*models.Order, error) {
		return r.broker.SubmitOrder(ctx, req)
	})
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
		log.Printf("❌ Order failed: %s: %v", intent, err)
		return rec, &models.AlertMessage{
			Severity: models.SeverityWarning,
			Text:     fmt.Sprintf("❌ ORDER FAILED: %s $%s %s: %v", intent.Action, intent.Notional.StringFixed(2), ticker, err),
		}
	}

	rec.Status = "submitted"
	rec.OrderID = order.ID
	log.Printf("✅ Order submitted: %s id=%s status=%s", intent, order.ID, order.Status)
	return rec, nil
}

// deliver sends alerts best effort. In dry runs they are only logged.
func (r *Runner) deliver(ctx context.Context, alerts []models.AlertMessage, dryRun bool) {
	for _, a := range alerts {
		if dryRun {
			log.Printf("[DRY RUN] Would alert [%s] %s", a.Severity, a.Text)
			continue
		}
		if err := r.notifier.Send(ctx, a); err != nil {
			log.Printf("WARN: alert not delivered: %v", err)
		}
	}
}

// TestConnectivity exercises each collaborator without evaluating any rules.
func (r *Runner) TestConnectivity(ctx context.Context) error {
	sc := r.engine.Config()
	var failed []string

	if r.broker == nil {
		log.Printf("⚠️ Brokerage: %v", r.errNoBroker())
		failed = append(failed, "brokerage")
	} else {
		clock, err := r.broker.GetClock(ctx)
		if err != nil {
			log.Printf("❌ Brokerage clock: %v", err)
			failed = append(failed, "brokerage")
		} else {
			log.Printf("✅ Brokerage clock: open=%v next open %s", clock.IsOpen, clock.NextOpen.In(config.MarketLoc).Format(time.RFC3339))
			snap, err := r.broker.GetAccountSnapshot(ctx, sc.Ticker)
			if err != nil {
				log.Printf("❌ Brokerage account: %v", err)
				failed = append(failed, "account")
			} else {
				log.Printf("✅ Brokerage account: total $%s, %s $%s", snap.TotalValue.StringFixed(2), sc.Ticker, snap.PositionValue.StringFixed(2))
			}
		}
	}

	series, err := r.data.GetDailySeries(ctx, sc.Ticker, r.cfg.Strategy.RecentWindow)
	if err != nil {
		log.Printf("❌ Market data (%s): %v", r.data.Name(), err)
		failed = append(failed, "market data")
	} else if last, ok := series.Last(); ok {
		log.Printf("✅ Market data (%s): %d bars, last %s close %s", r.data.Name(), series.Len(), last.Time.Format("2006-01-02"), last.Close)
	} else {
		log.Printf("⚠️ Market data (%s): no bars for %s", r.data.Name(), sc.Ticker)
	}

	msg := models.AlertMessage{Severity: models.SeverityInfo, Text: "🔌 Connectivity test from DCA bot"}
	if err := r.notifier.Send(ctx, msg); err != nil {
		log.Printf("❌ Notification: %v", err)
		failed = append(failed, "notification")
	} else {
		log.Printf("✅ Notification sent")
	}

	if len(failed) > 0 {
		return errors.Errorf("connectivity test failed: %s", strings.Join(failed, ", "))
	}
	return nil
}
