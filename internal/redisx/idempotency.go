package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency records which order a client-supplied key produced.
type Idempotency struct {
	rdb        *redis.Client
	pendingTTL time.Duration
}

// NewIdempotency holds in-flight reservations for pendingTTL (TTLPending when <= 0);
// only Complete stores the long-lived key -> order id mapping.
func NewIdempotency(rdb *redis.Client, pendingTTL time.Duration) *Idempotency {
	if pendingTTL <= 0 {
		pendingTTL = TTLPending
	}
	return &Idempotency{rdb: rdb, pendingTTL: pendingTTL}
}

func placeKey(userID, key string) string { return fmt.Sprintf(KeyIdemOrderPlace, userID, key) }

// Reserve claims key for userID. When the key was already claimed it returns
// reserved=false and the stored order id, which is empty while the first
// request is still in flight.
func (i *Idempotency) Reserve(ctx context.Context, userID, key string) (orderID string, reserved bool, err error) {
	k := placeKey(userID, key)
	ok, err := i.rdb.SetNX(ctx, k, pendingMarker, i.pendingTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("reserve %s: %w", k, err)
	}
	if ok {
		return "", true, nil
	}
	v, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = i.rdb.SetNX(ctx, k, pendingMarker, i.pendingTTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("reserve %s: %w", k, err)
		}
		return "", ok, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s: %w", k, err)
	}
	if v == pendingMarker {
		return "", false, nil
	}
	return v, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, userID, key, orderID string) error {
	return i.rdb.Set(ctx, placeKey(userID, key), orderID, TTLIdempotency).Err()
}

func (i *Idempotency) Release(ctx context.Context, userID, key string) error {
	return i.rdb.Del(ctx, placeKey(userID, key)).Err()
}
