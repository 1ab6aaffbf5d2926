package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLedgerTTL    = 24 * time.Hour
	webhookLedgerPrefix = "storefront:webhook:event:"
)

// EventLedger remembers processed webhook event ids
type EventLedger interface {
	// Claim returns false when the id was already claimed
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets a claim so a failed event can be redelivered
	Release(ctx context.Context, eventID string) error
}

// RedisLedger keeps claims as expiring keys
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger returns nil when client is nil
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, webhookLedgerPrefix+eventID, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Release(ctx context.Context, eventID string) error {
	if err := l.client.Del(ctx, webhookLedgerPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("release webhook event: %w", err)
	}
	return nil
}
