package signal

import (
	"testing"
	"time"

	"tradebotv1/internal/markethours"
	"tradebotv1/internal/marketstate"
	"tradebotv1/internal/model"
)

// buildSnapshot feeds bars through a real State so the snapshot math matches
// production behavior.
func buildSnapshot(t *testing.T, bars []model.Bar) *marketstate.Snapshot {
	t.Helper()
	st := marketstate.New(20)
	for _, b := range bars {
		st.Update(b)
	}
	snap, err := st.Snapshot(bars[0].Symbol)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

// entryBars produces a window that satisfies every entry condition:
// flat low-volume history, then three green bars with a volume spike.
func entryBars() []model.Bar {
	var bars []model.Bar
	// 7 flat bars around 10.0, volume 100
	for i := 0; i < 7; i++ {
		bars = append(bars, model.Bar{
			Symbol: "AAPL", Kind: model.KindSecondBar,
			Open: 10.0, High: 10.1, Low: 9.9, Close: 9.95, Volume: 100,
		})
	}
	// 2 green bars, volume 100
	bars = append(bars,
		model.Bar{Symbol: "AAPL", Open: 9.95, High: 10.2, Low: 9.9, Close: 10.1, Volume: 100},
		model.Bar{Symbol: "AAPL", Open: 10.1, High: 10.4, Low: 10.0, Close: 10.3, Volume: 100},
	)
	// final green bar with a volume spike, closing well above VWAP
	bars = append(bars,
		model.Bar{Symbol: "AAPL", Open: 10.3, High: 11.0, Low: 10.2, Close: 10.9, Volume: 500},
	)
	return bars
}

func TestEvaluateEntry_AllConditionsMet(t *testing.T) {
	e := New(DefaultParams())
	snap := buildSnapshot(t, entryBars())
	if !e.EvaluateEntry(snap, false) {
		t.Fatal("expected entry signal")
	}
}

func TestEvaluateEntry_PositionExists(t *testing.T) {
	e := New(DefaultParams())
	snap := buildSnapshot(t, entryBars())
	// Re-evaluating with an open position must always be false.
	for i := 0; i < 5; i++ {
		if e.EvaluateEntry(snap, true) {
			t.Fatal("entry must be suppressed while a position is open")
		}
	}
}

func TestEvaluateEntry_TooFewCandles(t *testing.T) {
	e := New(DefaultParams())
	snap := buildSnapshot(t, []model.Bar{
		{Symbol: "AAPL", Open: 10, High: 11, Low: 10, Close: 10.5, Volume: 100},
		{Symbol: "AAPL", Open: 10.5, High: 11, Low: 10, Close: 10.8, Volume: 100},
	})
	if e.EvaluateEntry(snap, false) {
		t.Fatal("entry with fewer than 3 candles")
	}
}

func TestEvaluateEntry_BrokenStreak(t *testing.T) {
	e := New(DefaultParams())
	bars := entryBars()
	// Make the middle of the final three bars red.
	bars[8].Close = bars[8].Open - 0.1
	snap := buildSnapshot(t, bars)
	if e.EvaluateEntry(snap, false) {
		t.Fatal("entry with a red bar in the streak")
	}
}

func TestEvaluateEntry_BelowVWAP(t *testing.T) {
	e := New(DefaultParams())
	bars := entryBars()
	// Drag the last close below the session VWAP while keeping it green.
	bars[9] = model.Bar{Symbol: "AAPL", Open: 5.0, High: 10.3, Low: 4.9, Close: 5.1, Volume: 500}
	snap := buildSnapshot(t, bars)
	if e.EvaluateEntry(snap, false) {
		t.Fatal("entry below VWAP")
	}
}

func TestEvaluateEntry_WeakVolume(t *testing.T) {
	e := New(DefaultParams())
	bars := entryBars()
	bars[9].Volume = 150 // below 2x the trailing average of 100
	snap := buildSnapshot(t, bars)
	if e.EvaluateEntry(snap, false) {
		t.Fatal("entry without a volume spike")
	}
}

func TestEvaluateEntry_ExactMultipleDoesNotQualify(t *testing.T) {
	e := New(DefaultParams())
	bars := entryBars()
	bars[9].Volume = 200 // exactly 2x: strict inequality required
	snap := buildSnapshot(t, bars)
	if e.EvaluateEntry(snap, false) {
		t.Fatal("entry on an exact RVOL tie")
	}
}

func TestEvaluateEntry_InsufficientSamples(t *testing.T) {
	p := DefaultParams()
	p.RVOLMinSamples = 5
	e := New(p)
	// Only 4 bars total => 3 trailing samples.
	bars := []model.Bar{
		{Symbol: "AAPL", Open: 9, High: 10, Low: 9, Close: 9.5, Volume: 100},
		{Symbol: "AAPL", Open: 9.5, High: 10, Low: 9, Close: 9.8, Volume: 100},
		{Symbol: "AAPL", Open: 9.8, High: 10.5, Low: 9.7, Close: 10.2, Volume: 100},
		{Symbol: "AAPL", Open: 10.2, High: 11, Low: 10.1, Close: 10.9, Volume: 500},
	}
	snap := buildSnapshot(t, bars)
	if e.EvaluateEntry(snap, false) {
		t.Fatal("entry with insufficient trailing samples")
	}
}

func noon() time.Time {
	return time.Date(2026, time.March, 3, 12, 0, 0, 0, markethours.ET)
}

func TestEvaluateExit_StopLossPriority(t *testing.T) {
	e := New(DefaultParams())
	pos := &model.Position{Symbol: "AAPL", EntryPrice: 100, Qty: 10, HighWaterMark: 110}

	// -10% breaches the hard stop; the trailing stop (110*0.97=106.7) would
	// also fire, but StopLoss must win.
	reason, ok := e.EvaluateExit(pos, 90, noon())
	if !ok || reason != ExitStopLoss {
		t.Fatalf("got (%v, %v), want StopLoss", reason, ok)
	}
}

func TestEvaluateExit_TrailingStop(t *testing.T) {
	e := New(DefaultParams())
	pos := &model.Position{Symbol: "AAPL", EntryPrice: 100, Qty: 10, HighWaterMark: 110}

	// 105 < 106.7 trips the trail but is above the -8% hard stop.
	reason, ok := e.EvaluateExit(pos, 105, noon())
	if !ok || reason != ExitTrailingStop {
		t.Fatalf("got (%v, %v), want TrailingStop", reason, ok)
	}
}

func TestEvaluateExit_EODCloseout(t *testing.T) {
	e := New(DefaultParams())
	pos := &model.Position{Symbol: "AAPL", EntryPrice: 100, Qty: 10, HighWaterMark: 101}

	inWindow := time.Date(2026, time.March, 3, 15, 55, 30, 0, markethours.ET)
	reason, ok := e.EvaluateExit(pos, 100.5, inWindow)
	if !ok || reason != ExitEODCloseout {
		t.Fatalf("got (%v, %v), want EODCloseout", reason, ok)
	}
}

func TestEvaluateExit_NoReason(t *testing.T) {
	e := New(DefaultParams())
	pos := &model.Position{Symbol: "AAPL", EntryPrice: 100, Qty: 10, HighWaterMark: 101}

	if reason, ok := e.EvaluateExit(pos, 100.5, noon()); ok {
		t.Fatalf("unexpected exit %v", reason)
	}
}
