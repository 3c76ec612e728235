package model

import "time"

// Position represents one open long position for a symbol.
// At most one Position may exist per symbol at any time; the ledger
// enforces this.
type Position struct {
	Symbol        string    `json:"symbol"`
	EntryPrice    float64   `json:"entry_price"`
	Qty           int64     `json:"qty"`
	HighWaterMark float64   `json:"high_water_mark"` // only ever moves up
	OpenedAt      time.Time `json:"opened_at"`
}

// UnrealizedPnLPct computes the fractional move from entry at the given
// price. Negative values are losses.
func (p *Position) UnrealizedPnLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}
