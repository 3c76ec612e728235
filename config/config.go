package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Error represents an invalid configuration value. Never retriable.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a config Error for the given field.
func NewError(field, format string, args ...interface{}) *Error {
	return &Error{Field: field, Err: fmt.Errorf(format, args...)}
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Market data feed
	FeedURL          string
	FeedAPIKey       string
	FeedChunkSize    int           // max symbols per connection
	FeedSubBatch     int           // symbols per subscribe message
	FeedSubDelay     time.Duration // pacing between subscribe batches
	FeedPingInterval time.Duration
	FeedSubRetries   int

	// Broker (order execution)
	Broker          string // "alpaca" or "paper"
	BrokerBaseURL   string
	BrokerKeyID     string
	BrokerSecretKey string

	// Risk / sizing
	RiskFraction float64 // fraction of equity per entry
	Capital      float64 // fallback equity when broker equity unavailable

	// Entry rule thresholds
	GreenCandles   int
	RVOLMultiple   float64
	RVOLWindow     int
	RVOLMinSamples int

	// Exit rule thresholds
	StopLossPct     float64 // e.g. 0.08
	TrailingStopPct float64 // e.g. 0.03
	TakeProfit1Pct  float64
	TakeProfit2Pct  float64

	// Infrastructure
	LedgerBackend string // "sqlite" or "redis"
	SQLitePath    string
	JournalPath   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MetricsAddr   string

	// Pipeline
	WatchlistPath   string
	EventBufSize    int
	DispatchWorkers int

	// Alerts
	DiscordWebhook   string
	TelegramBotToken string
	TelegramChatID   string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		FeedURL:          getEnv("FEED_URL", "wss://socket.polygon.io/stocks"),
		FeedAPIKey:       mustEnv("FEED_API_KEY"),
		FeedChunkSize:    getEnvInt("FEED_CHUNK_SIZE", 75),
		FeedSubBatch:     getEnvInt("FEED_SUB_BATCH", 25),
		FeedSubDelay:     time.Duration(getEnvInt("FEED_SUB_DELAY_MS", 250)) * time.Millisecond,
		FeedPingInterval: time.Duration(getEnvInt("FEED_PING_INTERVAL_SEC", 15)) * time.Second,
		FeedSubRetries:   getEnvInt("FEED_SUB_RETRIES", 3),

		Broker:          getEnv("BROKER", "alpaca"),
		BrokerBaseURL:   getEnv("BROKER_BASE_URL", "https://paper-api.alpaca.markets"),
		BrokerKeyID:     getEnv("BROKER_KEY_ID", ""),
		BrokerSecretKey: getEnv("BROKER_SECRET_KEY", ""),

		RiskFraction: getEnvFloat("RISK_FRACTION", 0.02),
		Capital:      getEnvFloat("CAPITAL", 1000),

		GreenCandles:   getEnvInt("GREEN_CANDLES", 3),
		RVOLMultiple:   getEnvFloat("RVOL_MULTIPLE", 2.0),
		RVOLWindow:     getEnvInt("RVOL_WINDOW", 10),
		RVOLMinSamples: getEnvInt("RVOL_MIN_SAMPLES", 5),

		StopLossPct:     getEnvFloat("STOP_LOSS_PCT", 0.08),
		TrailingStopPct: getEnvFloat("TRAILING_STOP_PCT", 0.03),
		TakeProfit1Pct:  getEnvFloat("TAKE_PROFIT_1_PCT", 0.05),
		TakeProfit2Pct:  getEnvFloat("TAKE_PROFIT_2_PCT", 0.10),

		LedgerBackend: getEnv("LEDGER_BACKEND", "sqlite"),
		SQLitePath:    getEnv("SQLITE_PATH", "data/positions.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/trades.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		WatchlistPath:   getEnv("WATCHLIST_PATH", "tickers.txt"),
		EventBufSize:    getEnvInt("EVENT_BUF_SIZE", 10000),
		DispatchWorkers: getEnvInt("DISPATCH_WORKERS", 8),

		DiscordWebhook:   getEnv("DISCORD_WEBHOOK", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// Validate checks that loaded values are internally consistent.
func (c *Config) Validate() error {
	if c.FeedChunkSize <= 0 {
		return NewError("FEED_CHUNK_SIZE", "must be positive, got %d", c.FeedChunkSize)
	}
	if c.FeedSubBatch <= 0 {
		return NewError("FEED_SUB_BATCH", "must be positive, got %d", c.FeedSubBatch)
	}
	if c.RiskFraction <= 0 || c.RiskFraction > 1 {
		return NewError("RISK_FRACTION", "must be in (0,1], got %v", c.RiskFraction)
	}
	if c.GreenCandles < 1 {
		return NewError("GREEN_CANDLES", "must be at least 1, got %d", c.GreenCandles)
	}
	if c.RVOLMinSamples > c.RVOLWindow {
		return NewError("RVOL_MIN_SAMPLES", "cannot exceed RVOL_WINDOW (%d > %d)", c.RVOLMinSamples, c.RVOLWindow)
	}
	if c.StopLossPct <= 0 || c.TrailingStopPct <= 0 {
		return NewError("STOP_LOSS_PCT", "stop percentages must be positive")
	}
	switch c.LedgerBackend {
	case "sqlite", "redis":
	default:
		return NewError("LEDGER_BACKEND", "unknown backend %q", c.LedgerBackend)
	}
	switch c.Broker {
	case "alpaca", "paper":
	default:
		return NewError("BROKER", "unknown broker %q", c.Broker)
	}
	if c.Broker == "alpaca" && (c.BrokerKeyID == "" || c.BrokerSecretKey == "") {
		return NewError("BROKER_KEY_ID", "alpaca broker requires BROKER_KEY_ID and BROKER_SECRET_KEY")
	}
	if c.DispatchWorkers <= 0 {
		return NewError("DISPATCH_WORKERS", "must be positive, got %d", c.DispatchWorkers)
	}
	return nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using default %v", key, v, fallback)
		return fallback
	}
	return f
}
