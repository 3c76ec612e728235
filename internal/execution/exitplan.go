package execution

import (
	"fmt"

	"tradebotv1/internal/broker"
	"tradebotv1/internal/model"
)

// ExitConfig holds the thresholds an ExitPlan is derived from.
type ExitConfig struct {
	TakeProfit1Pct  float64 // e.g. 0.05
	TakeProfit2Pct  float64 // e.g. 0.10
	TrailingStopPct float64 // e.g. 0.03
	StopLossPct     float64 // e.g. 0.08
}

// Tranche is one exit order instruction.
type Tranche struct {
	Label string
	Qty   int64
	Order broker.OrderRequest
}

// ExitPlan decomposes a position's quantity into exit tranches. It is
// derived from the position and config, never persisted; re-deriving
// from the same position yields the identical plan.
type ExitPlan struct {
	Symbol   string
	Tranches []Tranche
}

// DeriveExitPlan splits the position into 50% take-profit-1, 25%
// take-profit-2, and the remainder on a trailing stop, plus a stop-loss
// order covering the full quantity. Integer remainders land on the
// trailing tranche so the three sell tranches always sum to the
// position quantity exactly.
func DeriveExitPlan(pos model.Position, cfg ExitConfig) ExitPlan {
	tp1Qty := pos.Qty / 2
	tp2Qty := pos.Qty / 4
	trailQty := pos.Qty - tp1Qty - tp2Qty

	plan := ExitPlan{Symbol: pos.Symbol}

	if tp1Qty > 0 {
		plan.Tranches = append(plan.Tranches, Tranche{
			Label: "tp1",
			Qty:   tp1Qty,
			Order: broker.OrderRequest{
				Symbol:      pos.Symbol,
				Qty:         tp1Qty,
				Side:        broker.SideSell,
				Type:        broker.TypeLimit,
				TimeInForce: broker.TIFGTC,
				LimitPrice:  pos.EntryPrice * (1 + cfg.TakeProfit1Pct),
			},
		})
	}
	if tp2Qty > 0 {
		plan.Tranches = append(plan.Tranches, Tranche{
			Label: "tp2",
			Qty:   tp2Qty,
			Order: broker.OrderRequest{
				Symbol:      pos.Symbol,
				Qty:         tp2Qty,
				Side:        broker.SideSell,
				Type:        broker.TypeLimit,
				TimeInForce: broker.TIFGTC,
				LimitPrice:  pos.EntryPrice * (1 + cfg.TakeProfit2Pct),
			},
		})
	}
	if trailQty > 0 {
		plan.Tranches = append(plan.Tranches, Tranche{
			Label: "trail",
			Qty:   trailQty,
			Order: broker.OrderRequest{
				Symbol:       pos.Symbol,
				Qty:          trailQty,
				Side:         broker.SideSell,
				Type:         broker.TypeTrailingStop,
				TimeInForce:  broker.TIFGTC,
				TrailPercent: cfg.TrailingStopPct * 100,
			},
		})
	}
	plan.Tranches = append(plan.Tranches, Tranche{
		Label: "stop",
		Qty:   pos.Qty,
		Order: broker.OrderRequest{
			Symbol:      pos.Symbol,
			Qty:         pos.Qty,
			Side:        broker.SideSell,
			Type:        broker.TypeStop,
			TimeInForce: broker.TIFGTC,
			StopPrice:   pos.EntryPrice * (1 - cfg.StopLossPct),
		},
	})
	return plan
}

// Summary renders the plan for alerts.
func (p ExitPlan) Summary() string {
	out := ""
	for i, tr := range p.Tranches {
		if i > 0 {
			out += ", "
		}
		switch tr.Order.Type {
		case broker.TypeLimit:
			out += fmt.Sprintf("%s %d@%.2f", tr.Label, tr.Qty, tr.Order.LimitPrice)
		case broker.TypeStop:
			out += fmt.Sprintf("%s %d@%.2f", tr.Label, tr.Qty, tr.Order.StopPrice)
		case broker.TypeTrailingStop:
			out += fmt.Sprintf("%s %d trail %.1f%%", tr.Label, tr.Qty, tr.Order.TrailPercent)
		}
	}
	return out
}
