// Package execution orchestrates the position lifecycle: sizing and
// submitting entry orders, recording positions in the ledger, placing
// tiered exit orders, and closing positions when an exit rule fires.
package execution

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"tradebotv1/internal/broker"
	"tradebotv1/internal/ledger"
	"tradebotv1/internal/marketstate"
	"tradebotv1/internal/metrics"
	"tradebotv1/internal/model"
	"tradebotv1/internal/notification"
	"tradebotv1/internal/signal"
)

// Config holds coordinator parameters.
type Config struct {
	RiskFraction    float64 // fraction of equity committed per entry
	FallbackCapital float64 // equity assumed when the account query fails
	Exit            ExitConfig
}

// Coordinator drives entries and exits. All position mutations go
// through the ledger; the coordinator never touches position fields
// directly. Callers must serialize invocations per symbol.
type Coordinator struct {
	cfg      Config
	orders   broker.OrderAPI
	ledger   *ledger.Ledger
	eval     *signal.Evaluator
	notifier notification.Notifier
	journal  *Journal // nil disables journaling
	mt       *metrics.Metrics
	halted   atomic.Bool
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(cfg Config, orders broker.OrderAPI, led *ledger.Ledger, eval *signal.Evaluator, notifier notification.Notifier, journal *Journal, mt *metrics.Metrics) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		orders:   orders,
		ledger:   led,
		eval:     eval,
		notifier: notifier,
		journal:  journal,
		mt:       mt,
	}
}

// Halt stops the coordinator from opening new positions. Exit handling
// keeps running so held positions can still be closed during shutdown.
func (c *Coordinator) Halt() {
	c.halted.Store(true)
}

// sizeOrder computes the share quantity for an entry at the given price.
// Risk capital is equity times the risk fraction, floored at one share.
func (c *Coordinator) sizeOrder(ctx context.Context, price float64) int64 {
	equity := c.cfg.FallbackCapital
	acct, err := c.orders.GetAccount(ctx)
	if err != nil {
		log.Printf("[coordinator] account query failed, using fallback capital %.2f: %v", equity, err)
	} else if acct.Equity > 0 {
		equity = acct.Equity
	}

	qty := int64(equity * c.cfg.RiskFraction / price)
	if qty < 1 {
		qty = 1
	}
	return qty
}

// OnEntrySignal handles a confirmed entry signal for symbol at price.
// Ordering is strict: submit the buy, confirm it, record the position,
// then place the exit tranches. A submission failure abandons the
// attempt; the next eligible event re-evaluates from current state.
func (c *Coordinator) OnEntrySignal(ctx context.Context, symbol string, price float64) {
	if c.halted.Load() || c.ledger.Has(symbol) {
		return
	}
	c.mt.EntrySignals.Inc()

	qty := c.sizeOrder(ctx, price)
	order, err := c.orders.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:      symbol,
		Qty:         qty,
		Side:        broker.SideBuy,
		Type:        broker.TypeMarket,
		TimeInForce: broker.TIFDay,
	})
	if err != nil {
		c.mt.OrderFailures.Inc()
		log.Printf("[coordinator] entry order failed for %s: %v", symbol, err)
		notification.SendAsync(c.notifier, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   fmt.Sprintf("Entry order failed: %s", symbol),
			Message: fmt.Sprintf("qty=%d price=%.2f err=%v", qty, price, err),
		})
		return
	}
	c.mt.OrdersSubmitted.WithLabelValues(string(broker.SideBuy)).Inc()

	entryPrice := price
	if order.FilledAvgPrice > 0 {
		entryPrice = order.FilledAvgPrice
	}

	pos, ok, err := c.ledger.TryOpen(symbol, entryPrice, qty)
	if err != nil {
		// The buy is live at the broker but the ledger could not record
		// it. Operator intervention is required.
		log.Printf("[coordinator] CRITICAL: ledger persist failed after entry %s order=%s: %v", symbol, order.ID, err)
		notification.SendAsync(c.notifier, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   fmt.Sprintf("Unrecorded position: %s", symbol),
			Message: fmt.Sprintf("order %s filled but ledger persist failed: %v", order.ID, err),
		})
		return
	}
	if !ok {
		// Lost a race with a concurrent entry. The order just submitted
		// is an orphan; it is reported for manual reconciliation, never
		// silently dropped.
		log.Printf("[coordinator] orphan order %s for %s: position already recorded", order.ID, symbol)
		notification.SendAsync(c.notifier, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   fmt.Sprintf("Orphan order: %s", symbol),
			Message: fmt.Sprintf("order %s qty=%d submitted but symbol already held; reconcile manually", order.ID, qty),
		})
		return
	}
	c.mt.OpenPositions.Set(float64(c.ledger.Count()))

	if c.journal != nil {
		if err := c.journal.RecordTrade(TradeEntry{
			OrderID:  order.ID,
			Symbol:   symbol,
			Side:     string(broker.SideBuy),
			Qty:      qty,
			Price:    entryPrice,
			Reason:   "entry",
			FilledAt: time.Now(),
		}); err != nil {
			log.Printf("[coordinator] journal write failed for %s: %v", symbol, err)
		}
	}

	plan := DeriveExitPlan(pos, c.cfg.Exit)
	c.placeExitOrders(ctx, plan)

	log.Printf("[coordinator] opened %s qty=%d entry=%.2f order=%s", symbol, qty, entryPrice, order.ID)
	notification.SendAsync(c.notifier, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   fmt.Sprintf("BUY %s", symbol),
		Message: fmt.Sprintf("qty=%d entry=%.2f exits: %s", qty, entryPrice, plan.Summary()),
	})
}

// placeExitOrders submits each tranche of the plan. A failed tranche is
// alerted and skipped; remaining tranches are still placed so partial
// protection survives a transient broker error.
func (c *Coordinator) placeExitOrders(ctx context.Context, plan ExitPlan) {
	for _, tr := range plan.Tranches {
		order, err := c.orders.SubmitOrder(ctx, tr.Order)
		if err != nil {
			c.mt.OrderFailures.Inc()
			log.Printf("[coordinator] exit tranche %s failed for %s: %v", tr.Label, plan.Symbol, err)
			notification.SendAsync(c.notifier, notification.Alert{
				Level:   notification.AlertWarning,
				Title:   fmt.Sprintf("Exit order failed: %s", plan.Symbol),
				Message: fmt.Sprintf("tranche=%s qty=%d err=%v", tr.Label, tr.Qty, err),
			})
			continue
		}
		c.mt.OrdersSubmitted.WithLabelValues(string(broker.SideSell)).Inc()
		log.Printf("[coordinator] placed exit %s for %s qty=%d order=%s", tr.Label, plan.Symbol, tr.Qty, order.ID)
	}
}

// OnPriceTick handles a price update for a potentially held symbol.
// The high-water mark advances first, then exit rules run against the
// refreshed position. When a rule fires the closing order is submitted
// and confirmed before the ledger forgets the position.
func (c *Coordinator) OnPriceTick(ctx context.Context, symbol string, price float64, now time.Time) {
	if !c.ledger.Has(symbol) {
		return
	}
	if err := c.ledger.UpdateHighWaterMark(symbol, price); err != nil {
		log.Printf("[coordinator] high-water mark persist failed for %s: %v", symbol, err)
	}

	pos, ok := c.ledger.Get(symbol)
	if !ok {
		return
	}
	reason, fired := c.eval.EvaluateExit(&pos, price, now)
	if !fired {
		return
	}

	order, err := c.orders.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:      symbol,
		Qty:         pos.Qty,
		Side:        broker.SideSell,
		Type:        broker.TypeMarket,
		TimeInForce: broker.TIFDay,
	})
	if err != nil {
		c.mt.OrderFailures.Inc()
		log.Printf("[coordinator] close order failed for %s (%s): %v", symbol, reason, err)
		notification.SendAsync(c.notifier, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   fmt.Sprintf("Close order failed: %s", symbol),
			Message: fmt.Sprintf("reason=%s qty=%d price=%.2f err=%v", reason, pos.Qty, price, err),
		})
		return
	}
	c.mt.OrdersSubmitted.WithLabelValues(string(broker.SideSell)).Inc()

	closed, err := c.ledger.Close(symbol)
	if err != nil {
		log.Printf("[coordinator] CRITICAL: ledger close persist failed for %s order=%s: %v", symbol, order.ID, err)
		notification.SendAsync(c.notifier, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   fmt.Sprintf("Stale position record: %s", symbol),
			Message: fmt.Sprintf("close order %s submitted but ledger removal failed: %v", order.ID, err),
		})
		return
	}
	if !closed {
		// Already closed by another path; the position is gone either way.
		log.Printf("[coordinator] %s already closed before %s exit", symbol, reason)
		return
	}
	c.mt.ExitsTotal.WithLabelValues(string(reason)).Inc()
	c.mt.OpenPositions.Set(float64(c.ledger.Count()))

	pnlPct := pos.UnrealizedPnLPct(price) * 100
	if c.journal != nil {
		if err := c.journal.RecordTrade(TradeEntry{
			OrderID:  order.ID,
			Symbol:   symbol,
			Side:     string(broker.SideSell),
			Qty:      pos.Qty,
			Price:    price,
			Reason:   string(reason),
			FilledAt: time.Now(),
		}); err != nil {
			log.Printf("[coordinator] journal write failed for %s: %v", symbol, err)
		}
	}

	log.Printf("[coordinator] closed %s qty=%d price=%.2f reason=%s pnl=%.2f%%", symbol, pos.Qty, price, reason, pnlPct)
	notification.SendAsync(c.notifier, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   fmt.Sprintf("SELL %s (%s)", symbol, reason),
		Message: fmt.Sprintf("qty=%d entry=%.2f exit=%.2f pnl=%.2f%%", pos.Qty, pos.EntryPrice, price, pnlPct),
	})
}

// HandleEvent applies one market event end to end for its symbol:
// ledger-aware entry evaluation on the market snapshot, then exit
// handling on the event's close price. The dispatcher guarantees
// per-symbol serialization before calling this.
func (c *Coordinator) HandleEvent(ctx context.Context, bar model.Bar, snap SnapshotSource) {
	held := c.ledger.Has(bar.Symbol)
	if !held {
		s, err := snap.Snapshot(bar.Symbol)
		if err == nil && c.eval.EvaluateEntry(s, held) {
			c.OnEntrySignal(ctx, bar.Symbol, bar.Close)
		}
		return
	}
	c.OnPriceTick(ctx, bar.Symbol, bar.Close, bar.TS)
}

// SnapshotSource supplies market snapshots for entry evaluation.
type SnapshotSource interface {
	Snapshot(symbol string) (*marketstate.Snapshot, error)
}
