// Package ledger is the durable position state machine. It owns the set of
// open positions exclusively: at most one position per symbol, every
// mutation persisted before the in-memory view is considered authoritative,
// so a restart reconstructs the held-set before the feed resumes.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"tradebotv1/internal/model"
)

// Store is the durable backend for the position set. Implementations must
// make each call durable before returning.
type Store interface {
	// Save writes or overwrites the position keyed by its symbol.
	Save(pos model.Position) error
	// Delete removes the position for symbol. Deleting a missing symbol is
	// not an error.
	Delete(symbol string) error
	// LoadAll returns every persisted position.
	LoadAll() ([]model.Position, error)
	Close() error
}

// Ledger guards the open-position set with single-writer semantics.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	positions map[string]model.Position
}

// New creates a Ledger backed by store and seeds the in-memory view from
// durable storage.
func New(store Store) (*Ledger, error) {
	persisted, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger: load positions: %w", err)
	}

	positions := make(map[string]model.Position, len(persisted))
	for _, pos := range persisted {
		positions[pos.Symbol] = pos
	}
	return &Ledger{store: store, positions: positions}, nil
}

// TryOpen records a new position. Returns ok=false with no mutation if a
// position for symbol already exists; this is the enforcement point for the
// at-most-one-position invariant. The position is persisted before the
// in-memory view updates. Callers must only invoke this after the entry
// order is confirmed.
func (l *Ledger) TryOpen(symbol string, entryPrice float64, qty int64) (model.Position, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[symbol]; exists {
		return model.Position{}, false, nil
	}

	pos := model.Position{
		Symbol:        symbol,
		EntryPrice:    entryPrice,
		Qty:           qty,
		HighWaterMark: entryPrice,
		OpenedAt:      time.Now().UTC(),
	}
	if err := l.store.Save(pos); err != nil {
		return model.Position{}, false, fmt.Errorf("ledger: persist open %s: %w", symbol, err)
	}
	l.positions[symbol] = pos
	return pos, true, nil
}

// UpdateHighWaterMark raises the position's high-water mark to price.
// No-op when no position is open or price does not exceed the current mark.
func (l *Ledger) UpdateHighWaterMark(symbol string, price float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, exists := l.positions[symbol]
	if !exists || price <= pos.HighWaterMark {
		return nil
	}

	pos.HighWaterMark = price
	if err := l.store.Save(pos); err != nil {
		return fmt.Errorf("ledger: persist high-water mark %s: %w", symbol, err)
	}
	l.positions[symbol] = pos
	return nil
}

// Close removes the position for symbol, persisting the removal first.
// Returns ok=false when no position exists; callers must treat that as
// already-closed, not as a failure to retry.
func (l *Ledger) Close(symbol string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[symbol]; !exists {
		return false, nil
	}
	if err := l.store.Delete(symbol); err != nil {
		return false, fmt.Errorf("ledger: persist close %s: %w", symbol, err)
	}
	delete(l.positions, symbol)
	return true, nil
}

// Get returns a copy of the open position for symbol.
func (l *Ledger) Get(symbol string) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// Has reports whether a position is open for symbol.
func (l *Ledger) Has(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.positions[symbol]
	return ok
}

// List returns the sorted set of symbols with open positions.
func (l *Ledger) List() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	symbols := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}
