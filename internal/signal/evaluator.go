// Package signal decides entries and exits from market snapshots.
//
// A single Evaluator is parameterized by thresholds (green-candle count,
// relative-volume multiple, VWAP requirement, stop percentages) instead of
// one code path per rule combination. All evaluations are pure functions of
// their inputs, so re-evaluating with unchanged state is idempotent.
package signal

import (
	"time"

	"tradebotv1/internal/markethours"
	"tradebotv1/internal/marketstate"
	"tradebotv1/internal/model"
)

// ExitReason identifies which exit rule fired.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitEODCloseout  ExitReason = "EOD_CLOSEOUT"
)

// Params holds the evaluator thresholds.
type Params struct {
	GreenCandles   int     // consecutive bullish bars required
	RVOLMultiple   float64 // latest volume must exceed this multiple of trailing average
	RVOLWindow     int     // trailing average window, in bars
	RVOLMinSamples int     // minimum trailing samples; fewer means no entry

	StopLossPct     float64 // hard stop, fraction below entry (0.08 = -8%)
	TrailingStopPct float64 // trail, fraction below high-water mark

	Closeout markethours.Window
}

// DefaultParams returns the standard rule thresholds.
func DefaultParams() Params {
	return Params{
		GreenCandles:    3,
		RVOLMultiple:    2.0,
		RVOLWindow:      10,
		RVOLMinSamples:  5,
		StopLossPct:     0.08,
		TrailingStopPct: 0.03,
		Closeout:        markethours.DefaultCloseout,
	}
}

// Evaluator applies the configured entry and exit rules.
type Evaluator struct {
	params Params
}

// New creates an Evaluator with the given thresholds.
func New(p Params) *Evaluator {
	return &Evaluator{params: p}
}

// EvaluateEntry returns true only when every entry condition holds:
// no open position, enough candles, a full green streak, price strictly
// above session VWAP, and latest volume strictly above the RVOL multiple of
// the trailing average. Equal values never qualify; insufficient samples
// mean no entry.
func (e *Evaluator) EvaluateEntry(snap *marketstate.Snapshot, positionExists bool) bool {
	if positionExists {
		return false
	}
	if len(snap.Candles) < e.params.GreenCandles {
		return false
	}
	if snap.GreenStreak() < e.params.GreenCandles {
		return false
	}

	last := snap.Last()
	if !(last.Close > snap.VWAP) {
		return false
	}

	avgVol, samples := snap.TrailingAvgVolume(e.params.RVOLWindow)
	if samples < e.params.RVOLMinSamples {
		return false
	}
	if !(last.Volume > e.params.RVOLMultiple*avgVol) {
		return false
	}

	return true
}

// EvaluateExit checks the exit rules in strict priority order: hard stop
// before trailing stop before end-of-day closeout. A breached hard stop must
// never be masked by the looser trailing check. Returns ok=false when no
// rule fires.
func (e *Evaluator) EvaluateExit(pos *model.Position, price float64, now time.Time) (ExitReason, bool) {
	if pos.UnrealizedPnLPct(price) <= -e.params.StopLossPct {
		return ExitStopLoss, true
	}
	if price < pos.HighWaterMark*(1-e.params.TrailingStopPct) {
		return ExitTrailingStop, true
	}
	if e.params.Closeout.Contains(now) {
		return ExitEODCloseout, true
	}
	return "", false
}
