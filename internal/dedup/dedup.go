// Package dedup suppresses reprocessing of transaction ids already seen
// within a fixed window. The transport delivers at-least-once; dedup is what
// makes the pipeline's side effects at-most-once per logical transaction.
package dedup

import (
	"context"
	"time"

	"fraudwatch/internal/statestore"
)

// Window is how long a transaction id is remembered after first sight.
const Window = 10 * time.Minute

// Deduplicator marks transaction ids as seen in the state store.
type Deduplicator struct {
	store  statestore.Store
	window time.Duration
}

// New creates a deduplicator with the default 10-minute window.
func New(store statestore.Store) *Deduplicator {
	return &Deduplicator{store: store, window: Window}
}

// WithWindow overrides the dedup window.
func (d *Deduplicator) WithWindow(w time.Duration) *Deduplicator {
	d.window = w
	return d
}

// Seen atomically checks-and-sets the marker for txnID. It returns true if
// the id was already marked within the window (duplicate, skip), false if
// this is the first sight (and the marker is now set).
//
// The check and the set are a single SetNX so two concurrent deliveries of
// the same id cannot both proceed.
func (d *Deduplicator) Seen(ctx context.Context, txnID string) (bool, error) {
	set, err := d.store.SetNX(ctx, statestore.DedupPrefix+txnID, "1", d.window)
	if err != nil {
		return false, err
	}
	return !set, nil
}
