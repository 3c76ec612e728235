package model

import (
	"encoding/json"
	"time"
)

// EventKind distinguishes the aggregation granularity of a bar event.
type EventKind string

const (
	// KindSecondBar is a per-second aggregate ("A" on the wire).
	KindSecondBar EventKind = "A"
	// KindMinuteBar is a per-minute aggregate ("AM" on the wire).
	KindMinuteBar EventKind = "AM"
)

// Bar represents one decoded price/volume aggregate for a single symbol.
// It is immutable once constructed by the feed decoder.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Kind      EventKind `json:"kind"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	TS        time.Time `json:"ts"` // bar start time (UTC)
}

// TypicalPrice returns (high+low+close)/3, the price used for VWAP
// accumulation.
func (b *Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// IsGreen reports whether the bar closed above its open.
func (b *Bar) IsGreen() bool {
	return b.Close > b.Open
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}
