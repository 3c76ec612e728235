package execution

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists trade fills to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// TradeEntry is one journaled fill.
type TradeEntry struct {
	OrderID  string
	Symbol   string
	Side     string
	Qty      int64
	Price    float64
	Reason   string // "entry" or the exit reason
	FilledAt time.Time
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       REAL NOT NULL,
		reason      TEXT,
		filled_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_filled_at ON trades(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordTrade persists a fill to the journal.
func (j *Journal) RecordTrade(e TradeEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (order_id, symbol, side, qty, price, reason, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.OrderID,
		e.Symbol,
		e.Side,
		e.Qty,
		e.Price,
		e.Reason,
		e.FilledAt.Format(time.RFC3339),
	)
	return err
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID       int64   `json:"id"`
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Qty      int64   `json:"qty"`
	Price    float64 `json:"price"`
	Reason   string  `json:"reason"`
	FilledAt string  `json:"filled_at"`
}

// GetTrades returns the last N trades, newest first.
func (j *Journal) GetTrades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, symbol, side, qty, price, reason, filled_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Side,
			&t.Qty, &t.Price, &t.Reason, &t.FilledAt); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
