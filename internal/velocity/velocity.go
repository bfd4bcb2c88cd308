// Package velocity tracks short-lived per-user behavior: a decaying burst
// counter of recent transactions and first-occurrence sets for countries and
// devices.
//
// The counter's expiry is refreshed on every increment, so a user who
// transacts faster than once per 60 seconds never resets to zero. That makes
// it a decaying burst counter, not a fixed sliding window: the count reflects
// the current burst, however long it has been running.
package velocity

import (
	"context"
	"time"

	"fraudwatch/internal/statestore"
)

// Retention windows.
const (
	CounterTTL = 60 * time.Second
	NoveltyTTL = 24 * time.Hour
)

// Tracker maintains per-user velocity and novelty state.
//
// The three operations are each atomic against their own key but not atomic
// with respect to each other; there is no cross-key transaction.
type Tracker struct {
	store statestore.Store
}

// NewTracker creates a velocity tracker over the given state store.
func NewTracker(store statestore.Store) *Tracker {
	return &Tracker{store: store}
}

// IncrementVelocity bumps the user's transaction counter and refreshes its
// 60-second expiry. Returns the post-increment count.
func (t *Tracker) IncrementVelocity(ctx context.Context, userID string) (int, error) {
	n, err := t.store.Increment(ctx, statestore.VelocityPrefix+userID, CounterTTL)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// IsNewCountry adds country to the user's seen-country set (refreshing the
// set's 24h expiry) and reports true iff the country was not already there.
func (t *Tracker) IsNewCountry(ctx context.Context, userID, country string) (bool, error) {
	return t.store.AddToSet(ctx, statestore.CountryPrefix+userID, country, NoveltyTTL)
}

// IsNewDevice is IsNewCountry's law over the user's device set.
func (t *Tracker) IsNewDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	return t.store.AddToSet(ctx, statestore.DevicePrefix+userID, deviceID, NoveltyTTL)
}
