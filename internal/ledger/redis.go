package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GabrielNunesIT/edge-events/internal/config"
)

// RedisLedger keeps processed names in a Redis set, so several watchers
// can share it.
type RedisLedger struct {
	client *redis.Client
	key    string
}

// NewRedis connects to Redis and checks the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, err)
	}

	return &RedisLedger{client: client, key: cfg.Key}, nil
}

// Seen implements Ledger.
func (l *RedisLedger) Seen(ctx context.Context, name string) (bool, error) {
	ok, err := l.client.SIsMember(ctx, l.key, name).Result()
	if err != nil {
		return false, fmt.Errorf("checking ledger: %w", err)
	}
	return ok, nil
}

// Mark implements Ledger.
func (l *RedisLedger) Mark(ctx context.Context, name string) error {
	if err := l.client.SAdd(ctx, l.key, name).Err(); err != nil {
		return fmt.Errorf("updating ledger: %w", err)
	}
	return nil
}

// Close implements Ledger.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
