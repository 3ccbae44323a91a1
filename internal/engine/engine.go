package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"crypto-alert-telegram-bot/internal/notifier"
	"crypto-alert-telegram-bot/internal/types"
	"crypto-alert-telegram-bot/lib/helpers"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// A stuck notification must not stall the whole cycle.
const sendTimeout = 10 * time.Second

// Store is the slice of the subscription store the engine needs.
type Store interface {
	ListAll() ([]types.UserSubscription, error)
	UpdateReferencePrice(chatID int64, coin, currency string, price float64) error
}

// Gateway fetches current prices for a batch of pairs.
type Gateway interface {
	FetchPrices(ctx context.Context, pairs []types.Pair) (map[types.Pair]types.PriceQuote, error)
}

type Metrics struct {
	CyclesRun      prometheus.Counter
	AlertsFired    prometheus.Counter
	NotifyFailures prometheus.Counter
	PairsSkipped   prometheus.Counter
}

func NewMetrics() *Metrics {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: "cryptoalert",
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		}
	}
	return &Metrics{
		CyclesRun:      prometheus.NewCounter(opts("cycles_run", "The total number of completed monitoring cycles")),
		AlertsFired:    prometheus.NewCounter(opts("alerts_fired", "The total number of alert notifications fired")),
		NotifyFailures: prometheus.NewCounter(opts("notify_failures", "The total number of failed notification deliveries")),
		PairsSkipped:   prometheus.NewCounter(opts("pairs_skipped", "The total number of pair evaluations skipped due to fetch failures")),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.CyclesRun, m.AlertsFired, m.NotifyFailures, m.PairsSkipped)
}

// Engine runs the monitoring loop: collect subscriptions, fetch the distinct
// pair set once, evaluate every subscription against its reference price,
// notify crossings and commit new baselines.
type Engine struct {
	store    Store
	gateway  Gateway
	notifier notifier.Notifier
	interval time.Duration
	metrics  *Metrics
}

func New(store Store, gateway Gateway, n notifier.Notifier, interval time.Duration, metrics *Metrics) *Engine {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Engine{
		store:    store,
		gateway:  gateway,
		notifier: n,
		interval: interval,
		metrics:  metrics,
	}
}

// Run executes cycles on a fixed interval until the context is cancelled.
// A failed cycle logs and waits for the next tick; it never stops the loop.
func (e *Engine) Run(ctx context.Context) error {
	log.Infof("alert engine started, checking every %s", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("alert engine stopped")
			return nil
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle performs one collect-fetch-evaluate-notify-commit pass.
func (e *Engine) RunCycle(ctx context.Context) {
	entries, err := e.store.ListAll()
	if err != nil {
		log.Errorf("failed to collect subscriptions: %v", err)
		return
	}
	if len(entries) == 0 {
		log.Debug("no subscriptions to monitor")
		return
	}

	pairSet := make(map[types.Pair]bool)
	for _, entry := range entries {
		pairSet[entry.Pair()] = true
	}
	pairs := make([]types.Pair, 0, len(pairSet))
	for p := range pairSet {
		pairs = append(pairs, p)
	}

	quotes, err := e.gateway.FetchPrices(ctx, pairs)
	if err != nil {
		// Reference prices stay untouched; everything is retried next cycle.
		log.Warnf("price fetch failed, skipping cycle: %v", err)
		return
	}

	fired := 0
	for _, entry := range entries {
		quote, ok := quotes[entry.Pair()]
		if !ok {
			e.metrics.PairsSkipped.Inc()
			continue
		}

		change := (quote.Price - entry.ReferencePrice) / entry.ReferencePrice
		if math.Abs(change) < entry.Threshold {
			continue
		}

		if !entry.Notifications {
			// Muted users keep their baseline so unmuting measures from the
			// same price they last saw.
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := e.notifier.Send(sendCtx, entry.ChatID, buildAlertMessage(entry, quote, change))
		cancel()
		if err != nil {
			e.metrics.NotifyFailures.Inc()
			log.Warnf("failed to notify chat %d about %s/%s: %v", entry.ChatID, entry.Coin, entry.Currency, err)
		}

		if err := e.store.UpdateReferencePrice(entry.ChatID, entry.Coin, entry.Currency, quote.Price); err != nil {
			log.Errorf("failed to commit reference price for chat %d %s/%s: %v", entry.ChatID, entry.Coin, entry.Currency, err)
			continue
		}

		fired++
		e.metrics.AlertsFired.Inc()
	}

	e.metrics.CyclesRun.Inc()
	log.Debugf("cycle complete: %d subscriptions, %d pairs, %d fired", len(entries), len(pairs), fired)
}

func buildAlertMessage(entry types.UserSubscription, quote types.PriceQuote, change float64) string {
	direction := "📈"
	if change < 0 {
		direction = "📉"
	}
	symbol := helpers.CurrencySymbol(entry.Currency)

	return fmt.Sprintf(
		"⚠️ *Price Alert* ⚠️\n\n"+
			"%s *%s* changed by *%s%%*\n"+
			"📊 Your threshold: %s%%\n\n"+
			"💰 Current: %s%s\n"+
			"🔙 Previous: %s%s",
		direction,
		helpers.EscapeMarkdownV2(entry.Coin),
		helpers.EscapeMarkdownV2(fmt.Sprintf("%.2f", math.Abs(change)*100)),
		helpers.EscapeMarkdownV2(fmt.Sprintf("%.1f", entry.Threshold*100)),
		helpers.EscapeMarkdownV2(symbol), helpers.FormatPriceUS(quote.Price, true),
		helpers.EscapeMarkdownV2(symbol), helpers.FormatPriceUS(entry.ReferencePrice, true),
	)
}
