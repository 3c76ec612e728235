package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tradebotv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const redisOpTimeout = 5 * time.Second

// RedisStore persists positions as a Redis hash, one field per symbol.
// Selected with LEDGER_BACKEND=redis for deployments that already run Redis.
type RedisStore struct {
	client *goredis.Client
	key    string
}

// RedisStoreConfig configures the Redis position store.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string // hash key; defaults to "positions"
}

// NewRedisStore connects to Redis and pings the server.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Key == "" {
		cfg.Key = "positions"
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[ledger] connected to redis at %s", cfg.Addr)
	return &RedisStore{client: client, key: cfg.Key}, nil
}

// Client returns the underlying Redis client for health checks.
func (s *RedisStore) Client() *goredis.Client { return s.client }

func (s *RedisStore) Save(pos model.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("redis marshal %s: %w", pos.Symbol, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.HSet(ctx, s.key, pos.Symbol, data).Err(); err != nil {
		return fmt.Errorf("redis save %s: %w", pos.Symbol, err)
	}
	return nil
}

func (s *RedisStore) Delete(symbol string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.HDel(ctx, s.key, symbol).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", symbol, err)
	}
	return nil
}

func (s *RedisStore) LoadAll() ([]model.Position, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load: %w", err)
	}

	positions := make([]model.Position, 0, len(fields))
	for symbol, data := range fields {
		var pos model.Position
		if err := json.Unmarshal([]byte(data), &pos); err != nil {
			return nil, fmt.Errorf("redis unmarshal %s: %w", symbol, err)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
