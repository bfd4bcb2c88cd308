// Package statestore provides the time-bounded keyed state used by the
// fraud pipeline for dedup markers, velocity counters, and novelty sets.
//
// Every operation carries an explicit expiry and is atomic at the single-key
// level. There are no cross-key transactions: callers that touch multiple
// keys (dedup marker then velocity counter) accept that a crash between the
// two leaves the state partially applied.
package statestore

import (
	"context"
	"time"
)

// Key prefixes. These are a stable wire contract shared with existing
// deployments; changing them orphans live state.
const (
	DedupPrefix    = "dup:" // string marker, 10m TTL
	VelocityPrefix = "vel:" // integer counter, 60s TTL
	CountryPrefix  = "geo:" // set of country codes, 24h TTL
	DevicePrefix   = "dev:" // set of device ids, 24h TTL
)

// Store is a time-bounded key/value and key/set store.
//
// Implementations must be safe for concurrent use from multiple pipeline
// workers.
type Store interface {
	// SetNX atomically sets key to value with the given expiry if the key
	// does not already exist. Returns true if the key was newly set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Increment atomically increments the integer counter at key and
	// (re)sets its expiry to ttl. The expiry is refreshed on every call,
	// so a steadily written counter never expires. Returns the
	// post-increment value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// AddToSet adds member to the set at key and refreshes the set's
	// expiry to ttl. Returns true iff the member was not already present.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) (bool, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
