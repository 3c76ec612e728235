// Package marketstate maintains the rolling per-symbol view of the market:
// a bounded window of recent bars plus session-cumulative VWAP accumulators.
// It performs no I/O; the dispatcher feeds it decoded bars in arrival order.
package marketstate

import (
	"errors"
	"sync"

	"tradebotv1/internal/model"
)

// ErrInsufficientData is returned by Snapshot for symbols that have not
// produced any bars yet. Callers must not mistake absence for a flat market.
var ErrInsufficientData = errors.New("marketstate: insufficient data")

// symbolState holds the mutable per-symbol aggregates. The bar window is a
// fixed-capacity FIFO; the VWAP accumulators only grow within a session.
type symbolState struct {
	window    []model.Bar
	cumVolume float64
	cumDollar float64 // sum of typical price * volume
}

// State owns all per-symbol market aggregates.
type State struct {
	mu        sync.RWMutex
	windowCap int
	symbols   map[string]*symbolState
}

// New creates a State whose per-symbol bar windows hold windowCap bars.
func New(windowCap int) *State {
	if windowCap < 1 {
		windowCap = 1
	}
	return &State{
		windowCap: windowCap,
		symbols:   make(map[string]*symbolState),
	}
}

// Update appends a bar to the symbol's window (evicting the oldest when at
// capacity) and advances the VWAP accumulators.
func (s *State) Update(bar model.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = &symbolState{window: make([]model.Bar, 0, s.windowCap)}
		s.symbols[bar.Symbol] = st
	}

	if len(st.window) == s.windowCap {
		copy(st.window, st.window[1:])
		st.window = st.window[:s.windowCap-1]
	}
	st.window = append(st.window, bar)

	st.cumVolume += bar.Volume
	st.cumDollar += bar.TypicalPrice() * bar.Volume
}

// Snapshot is an immutable read-only view of one symbol's market state.
type Snapshot struct {
	Symbol  string
	Candles []model.Bar // oldest first
	VWAP    float64     // session VWAP; 0 if no volume seen
}

// Last returns the most recent bar in the window.
func (sn *Snapshot) Last() model.Bar {
	return sn.Candles[len(sn.Candles)-1]
}

// GreenStreak returns how many of the trailing bars are strictly bullish
// (close > open), counted backwards from the most recent bar.
func (sn *Snapshot) GreenStreak() int {
	streak := 0
	for i := len(sn.Candles) - 1; i >= 0; i-- {
		if !sn.Candles[i].IsGreen() {
			break
		}
		streak++
	}
	return streak
}

// TrailingAvgVolume averages bar volume over up to window bars preceding the
// most recent bar. The second return is the number of samples available.
func (sn *Snapshot) TrailingAvgVolume(window int) (float64, int) {
	// Exclude the latest bar: it is the one being compared against.
	n := len(sn.Candles) - 1
	if n <= 0 {
		return 0, 0
	}
	if n > window {
		n = window
	}
	var sum float64
	start := len(sn.Candles) - 1 - n
	for _, bar := range sn.Candles[start : len(sn.Candles)-1] {
		sum += bar.Volume
	}
	return sum / float64(n), n
}

// Snapshot returns a copy of the symbol's current view. Returns
// ErrInsufficientData if no bar has been seen for the symbol.
func (s *State) Snapshot(symbol string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.symbols[symbol]
	if !ok || len(st.window) == 0 {
		return nil, ErrInsufficientData
	}

	candles := make([]model.Bar, len(st.window))
	copy(candles, st.window)

	vwap := 0.0
	if st.cumVolume > 0 {
		vwap = st.cumDollar / st.cumVolume
	}

	return &Snapshot{
		Symbol:  symbol,
		Candles: candles,
		VWAP:    vwap,
	}, nil
}

// ResetSession clears all windows and VWAP accumulators. Called at the
// trading-session boundary; the next bar for each symbol starts a fresh view.
func (s *State) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = make(map[string]*symbolState)
}
