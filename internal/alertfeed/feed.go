// Package alertfeed serves newly raised fraud flags as a live, ordered
// stream to any number of subscribers.
//
// Each subscriber owns an independent cursor over the flag log, initialized
// to the maximum flag id at subscription time — history before subscription
// is never replayed. Delivery is a poll over `id > cursor ORDER BY id`, so
// within one subscriber flags arrive in strictly increasing id order with no
// gaps and no duplicates. The poll interval is configurable and Notify lets
// a writer wake pollers immediately, so a push-on-write setup needs no
// change to the subscriber contract.
package alertfeed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fraudwatch/internal/flags"
	"fraudwatch/internal/metrics"
)

// Defaults for the polling loop.
const (
	DefaultInterval  = 1 * time.Second
	DefaultBatchSize = 256
)

// Source is the slice of the flag store the feed reads.
type Source interface {
	MaxFlagID(ctx context.Context) (int64, error)
	ListFlagsAfter(ctx context.Context, after int64, limit int) ([]*flags.FraudFlag, error)
}

// Feed fans the flag log out to live subscribers.
type Feed struct {
	source    Source
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	wakeups map[chan struct{}]struct{}
}

// New creates a feed over the given flag source.
func New(source Source, logger *slog.Logger) *Feed {
	return &Feed{
		source:    source,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		logger:    logger,
		wakeups:   make(map[chan struct{}]struct{}),
	}
}

// WithInterval overrides the poll interval.
func (f *Feed) WithInterval(d time.Duration) *Feed {
	f.interval = d
	return f
}

// Notify wakes all subscribers for an immediate poll. Writers may call it
// after inserting a flag to cut delivery latency below the poll interval;
// correctness never depends on it.
func (f *Feed) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.wakeups {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscription is one subscriber's live view of the flag log.
type Subscription struct {
	c    chan *flags.FraudFlag
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Flags is the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Flags() <-chan *flags.FraudFlag { return s.c }

// Done is closed when the subscription has fully shut down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription closed. Nil on client disconnect.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Subscribe opens a new subscription. The cursor starts at the current
// maximum flag id, so only flags raised after this call are delivered.
// Polling stops when ctx is cancelled or a query fails; either way the
// subscription's channel is closed and its resources released.
func (f *Feed) Subscribe(ctx context.Context) (*Subscription, error) {
	cursor, err := f.source.MaxFlagID(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		c:    make(chan *flags.FraudFlag, 64),
		done: make(chan struct{}),
	}

	wake := make(chan struct{}, 1)
	f.mu.Lock()
	f.wakeups[wake] = struct{}{}
	f.mu.Unlock()

	metrics.ActiveAlertSubscribers.Inc()
	go f.poll(ctx, sub, wake, cursor)

	return sub, nil
}

func (f *Feed) poll(ctx context.Context, sub *Subscription, wake chan struct{}, cursor int64) {
	ticker := time.NewTicker(f.interval)
	defer func() {
		ticker.Stop()
		f.mu.Lock()
		delete(f.wakeups, wake)
		f.mu.Unlock()
		metrics.ActiveAlertSubscribers.Dec()
		close(sub.c)
		close(sub.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}

		var err error
		cursor, err = f.deliver(ctx, sub, cursor)
		if err != nil {
			if ctx.Err() == nil {
				sub.setErr(err)
				f.logger.Warn("alert feed poll failed, closing subscriber", "error", err)
			}
			return
		}
	}
}

// deliver drains everything past the cursor, advancing it per flag so a
// blocked subscriber that disconnects mid-batch never skips or re-sees ids.
func (f *Feed) deliver(ctx context.Context, sub *Subscription, cursor int64) (int64, error) {
	for {
		batch, err := f.source.ListFlagsAfter(ctx, cursor, f.batchSize)
		if err != nil {
			return cursor, err
		}
		for _, flag := range batch {
			select {
			case sub.c <- flag:
				cursor = flag.ID
				metrics.AlertsDeliveredTotal.Inc()
			case <-ctx.Done():
				return cursor, ctx.Err()
			}
		}
		if len(batch) < f.batchSize {
			return cursor, nil
		}
	}
}
