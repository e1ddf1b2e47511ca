package redisx

import "time"

const (
	// Idempotent order placement: idem:order:place:{user_id}:{key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s:%s"

	// placeholder value while the first request is still running
	pendingMarker = "__pending__"
)

var (
	// TTLIdempotency bounds how long a completed key replays its order.
	TTLIdempotency = 24 * time.Hour
	// TTLPending bounds an in-flight reservation, so a crash before Complete frees the key.
	TTLPending = 30 * time.Second
)
