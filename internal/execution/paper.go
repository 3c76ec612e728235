package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tradebotv1/internal/broker"
)

// PaperBroker simulates order execution without real broker calls.
// Market orders fill immediately at the last seen price (plus simulated
// slippage); resting orders are accepted and held, never filled, since
// the engine's own exit rules drive closes in paper mode.
type PaperBroker struct {
	mu       sync.RWMutex
	equity   float64
	cash     float64
	lastPx   map[string]float64
	holdings map[string]broker.Position
	orders   []broker.Order
	orderSeq int64

	slippageBps float64 // basis points applied against the taker
}

// NewPaperBroker creates a paper broker with the given starting equity.
func NewPaperBroker(startingEquity, slippageBps float64) *PaperBroker {
	return &PaperBroker{
		equity:      startingEquity,
		cash:        startingEquity,
		lastPx:      make(map[string]float64),
		holdings:    make(map[string]broker.Position),
		slippageBps: slippageBps,
	}
}

// MarkPrice records the latest price for a symbol so market orders can
// fill against it.
func (p *PaperBroker) MarkPrice(symbol string, price float64) {
	p.mu.Lock()
	p.lastPx[symbol] = price
	p.mu.Unlock()
}

// SubmitOrder simulates submission. Market orders fill against the last
// marked price; submitting a market order for an unmarked symbol fails.
func (p *PaperBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderSeq++
	order := broker.Order{
		ID:          fmt.Sprintf("PAPER-%d", p.orderSeq),
		Symbol:      req.Symbol,
		Qty:         req.Qty,
		Side:        req.Side,
		Type:        req.Type,
		Status:      "accepted",
		SubmittedAt: time.Now(),
	}

	if req.Type == broker.TypeMarket {
		px, ok := p.lastPx[req.Symbol]
		if !ok {
			return broker.Order{}, &broker.SubmissionError{
				Symbol: req.Symbol,
				Err:    fmt.Errorf("no market price for %s", req.Symbol),
			}
		}
		slip := px * p.slippageBps / 10000
		if req.Side == broker.SideBuy {
			px += slip
		} else {
			px -= slip
		}
		order.Status = "filled"
		order.FilledQty = req.Qty
		order.FilledAvgPrice = px
		p.applyFill(req, px)
	}

	p.orders = append(p.orders, order)
	log.Printf("[paper] %s %s qty=%d type=%s status=%s order=%s",
		req.Side, req.Symbol, req.Qty, req.Type, order.Status, order.ID)
	return order, nil
}

func (p *PaperBroker) applyFill(req broker.OrderRequest, px float64) {
	notional := px * float64(req.Qty)
	if req.Side == broker.SideBuy {
		p.cash -= notional
		h := p.holdings[req.Symbol]
		total := h.AvgEntryPrice*float64(h.Qty) + notional
		h.Symbol = req.Symbol
		h.Qty += req.Qty
		h.AvgEntryPrice = total / float64(h.Qty)
		p.holdings[req.Symbol] = h
		return
	}
	p.cash += notional
	h := p.holdings[req.Symbol]
	h.Qty -= req.Qty
	if h.Qty <= 0 {
		delete(p.holdings, req.Symbol)
	} else {
		p.holdings[req.Symbol] = h
	}
}

// ListPositions returns simulated open positions.
func (p *PaperBroker) ListPositions(ctx context.Context) ([]broker.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]broker.Position, 0, len(p.holdings))
	for _, h := range p.holdings {
		out = append(out, h)
	}
	return out, nil
}

// GetAccount returns simulated equity: cash plus holdings marked to the
// last seen price.
func (p *PaperBroker) GetAccount(ctx context.Context) (broker.Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	equity := p.cash
	for sym, h := range p.holdings {
		px := p.lastPx[sym]
		if px == 0 {
			px = h.AvgEntryPrice
		}
		equity += px * float64(h.Qty)
	}
	return broker.Account{Equity: equity, Cash: p.cash}, nil
}

// Orders returns a snapshot of all submitted orders.
func (p *PaperBroker) Orders() []broker.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]broker.Order, len(p.orders))
	copy(cp, p.orders)
	return cp
}
