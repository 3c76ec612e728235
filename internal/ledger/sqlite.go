package ledger

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"tradebotv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists positions to a local SQLite database in WAL mode.
// It is the default backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the positions database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; the ledger serializes access anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS positions (
		symbol          TEXT PRIMARY KEY,
		entry_price     REAL    NOT NULL,
		qty             INTEGER NOT NULL,
		high_water_mark REAL    NOT NULL,
		opened_at       INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[ledger] opened position store at %s", dbPath)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Save(pos model.Position) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO positions (symbol, entry_price, qty, high_water_mark, opened_at)
		VALUES (?, ?, ?, ?, ?)`,
		pos.Symbol, pos.EntryPrice, pos.Qty, pos.HighWaterMark, pos.OpenedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite save %s: %w", pos.Symbol, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(symbol string) error {
	if _, err := s.db.Exec(`DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("sqlite delete %s: %w", symbol, err)
	}
	return nil
}

func (s *SQLiteStore) LoadAll() ([]model.Position, error) {
	rows, err := s.db.Query(`SELECT symbol, entry_price, qty, high_water_mark, opened_at FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("sqlite load: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var pos model.Position
		var openedAt int64
		if err := rows.Scan(&pos.Symbol, &pos.EntryPrice, &pos.Qty, &pos.HighWaterMark, &openedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		pos.OpenedAt = time.Unix(openedAt, 0).UTC()
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
