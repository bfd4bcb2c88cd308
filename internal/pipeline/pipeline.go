// Package pipeline orchestrates one transaction event end to end:
// dedup, feature extraction, velocity and novelty update, remote scoring,
// the rule ensemble decision, and persistence.
//
// Process returns typed errors instead of swallowing them; the consumer loop
// owns the log-and-continue policy. A failure after the dedup marker is set
// leaves already-applied state in place (the velocity increment is not rolled
// back) — at-most-once effective side effects on top of an at-least-once
// transport.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fraudwatch/internal/decision"
	"fraudwatch/internal/dedup"
	"fraudwatch/internal/flags"
	"fraudwatch/internal/metrics"
	"fraudwatch/internal/scoring"
	"fraudwatch/internal/traces"
	"fraudwatch/internal/velocity"
)

var (
	// ErrMalformedEvent marks unparseable input or missing required fields.
	ErrMalformedEvent = errors.New("pipeline: malformed event")
	// ErrStateStore marks a state store failure. Fatal for the event.
	ErrStateStore = errors.New("pipeline: state store failure")
	// ErrPersistence marks a transaction or flag write failure.
	ErrPersistence = errors.New("pipeline: persistence failure")
)

// Outcome summarizes what one event produced.
type Outcome struct {
	TxnID     string
	Duplicate bool
	Flagged   bool
	FlagID    int64
	Score     float64
}

// Pipeline processes inbound transaction events.
type Pipeline struct {
	dedup   *dedup.Deduplicator
	tracker *velocity.Tracker
	scorer  scoring.Scorer
	engine  *decision.Engine
	store   flags.Store
	logger  *slog.Logger
	onFlag  func()
}

// New wires a pipeline from its collaborators.
func New(d *dedup.Deduplicator, tracker *velocity.Tracker, scorer scoring.Scorer, engine *decision.Engine, store flags.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		dedup:   d,
		tracker: tracker,
		scorer:  scorer,
		engine:  engine,
		store:   store,
		logger:  logger,
	}
}

// OnFlag registers a callback invoked after each persisted fraud flag,
// used to wake the alert feed without waiting for its next poll tick.
// Must be set before Process is first called.
func (p *Pipeline) OnFlag(fn func()) {
	p.onFlag = fn
}

// Process handles one raw event payload.
//
// Duplicates are a silent success: no state mutated, no persistence. After
// the dedup marker is set, each step's failure drops the event with a typed
// error; nothing already applied is compensated.
func (p *Pipeline) Process(ctx context.Context, payload []byte) (Outcome, error) {
	timer := time.Now()
	defer func() {
		metrics.PipelineDuration.Observe(time.Since(timer).Seconds())
	}()

	event, err := ParseEvent(payload)
	if err != nil {
		return Outcome{}, err
	}

	ctx, span := traces.StartSpan(ctx, "pipeline.process",
		traces.TxnID(event.TxnID),
		traces.UserID(event.UserID),
		traces.Amount(event.Amount),
	)
	defer span.End()

	out := Outcome{TxnID: event.TxnID}

	seen, err := p.dedup.Seen(ctx, event.TxnID)
	if err != nil {
		return out, fmt.Errorf("%w: dedup check: %v", ErrStateStore, err)
	}
	if seen {
		out.Duplicate = true
		return out, nil
	}

	vel, err := p.tracker.IncrementVelocity(ctx, event.UserID)
	if err != nil {
		return out, fmt.Errorf("%w: velocity increment: %v", ErrStateStore, err)
	}
	newCountry, err := p.tracker.IsNewCountry(ctx, event.UserID, event.Country)
	if err != nil {
		return out, fmt.Errorf("%w: country novelty: %v", ErrStateStore, err)
	}
	newDevice, err := p.tracker.IsNewDevice(ctx, event.UserID, event.DeviceID)
	if err != nil {
		return out, fmt.Errorf("%w: device novelty: %v", ErrStateStore, err)
	}
	hour := event.Timestamp.UTC().Hour()
	span.SetAttributes(traces.Velocity(vel))

	score, err := p.scorer.Score(ctx, scoring.FeatureVector{
		Amount:         event.Amount,
		Hour:           hour,
		CountryNovelty: boolToInt(newCountry),
		DeviceNovelty:  boolToInt(newDevice),
		Velocity:       vel,
	})
	if err != nil {
		// Only reachable in fail-closed mode; fail-open degrades internally.
		return out, err
	}
	out.Score = score.Probability

	result := p.engine.Evaluate(decision.Input{
		ModelVerdict: score.IsFraud,
		Probability:  score.Probability,
		Velocity:     vel,
		NewCountry:   newCountry,
		NewDevice:    newDevice,
		Amount:       event.Amount,
	})

	txn := &flags.Transaction{
		TxnID:     event.TxnID,
		UserID:    event.UserID,
		Amount:    event.Amount,
		Currency:  event.Currency,
		Country:   event.Country,
		DeviceID:  event.DeviceID,
		Timestamp: event.Timestamp,
		Features: flags.FraudFeatures{
			Velocity:   vel,
			NewCountry: newCountry,
			NewDevice:  newDevice,
			Hour:       hour,
		},
	}
	if err := p.store.CreateTransaction(ctx, txn); err != nil {
		return out, fmt.Errorf("%w: transaction write: %v", ErrPersistence, err)
	}

	if !result.IsFraud {
		return out, nil
	}

	flag := &flags.FraudFlag{
		TxnID:     event.TxnID,
		Score:     score.Probability,
		LabelPred: true,
		Reasons:   result.Reasons,
		Timestamp: time.Now().UTC(),
	}
	if err := p.store.CreateFlag(ctx, flag); err != nil {
		// The transaction row stays committed; only the flag is lost.
		return out, fmt.Errorf("%w: flag write: %v", ErrPersistence, err)
	}

	metrics.FraudFlagsTotal.Inc()
	out.Flagged = true
	out.FlagID = flag.ID

	if p.onFlag != nil {
		p.onFlag()
	}

	p.logger.Info("fraud flag raised",
		"txn_id", event.TxnID,
		"user_id", event.UserID,
		"flag_id", flag.ID,
		"score", score.Probability,
		"velocity", vel,
		"new_country", newCountry,
		"new_device", newDevice,
	)

	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
