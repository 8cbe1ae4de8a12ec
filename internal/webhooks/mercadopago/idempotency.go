package mpwebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type eventStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookEventKey(provider, eventID string) string
}

// IdempotencyGuard suppresses concurrent duplicate webhook deliveries. The
// database status guards remain the source of truth; this only saves the
// redundant provider fetch.
type IdempotencyGuard struct {
	store    eventStore
	ttl      time.Duration
	provider string
}

func NewIdempotencyGuard(store eventStore, ttl time.Duration, provider string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if provider == "" {
		return nil, errors.New("provider is required")
	}
	return &IdempotencyGuard{
		store:    store,
		ttl:      ttl,
		provider: provider,
	}, nil
}

// CheckAndMark reports whether the event was already claimed and claims it
// otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	key := g.store.WebhookEventKey(g.provider, eventID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set webhook event key: %w", err)
	}
	return !set, nil
}

// Release frees the claim so a provider redelivery can retry after a
// processing failure.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	key := g.store.WebhookEventKey(g.provider, eventID)
	return g.store.Del(ctx, key)
}
