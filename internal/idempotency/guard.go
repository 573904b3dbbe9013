package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lastbite/lastbite-backend/pkg/redis"
)

// Guard marks keys as processed in Redis with SETNX so replays can be skipped.
// Keys follow the `lb:idempotency:<scope>:<key>` pattern.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &Guard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark returns true when key was already marked and marks it otherwise.
func (g *Guard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("idempotency key is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, key), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Seen reports whether key was marked, without marking it.
func (g *Guard) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("idempotency key is required")
	}
	seen, err := g.store.Exists(ctx, g.store.IdempotencyKey(g.scope, key))
	if err != nil {
		return false, fmt.Errorf("read idempotency key: %w", err)
	}
	return seen, nil
}

// Mark records key as processed. Marking twice is harmless.
func (g *Guard) Mark(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("idempotency key is required")
	}
	if _, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, key), "1", g.ttl); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

// Delete releases a mark so the work can be retried.
func (g *Guard) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("idempotency key is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, key))
}
