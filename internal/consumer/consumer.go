// Package consumer runs the Kafka ingest loop that feeds transaction
// events into the scoring pipeline.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"fraudwatch/internal/metrics"
	"fraudwatch/internal/pipeline"
)

const pollTimeoutMs = 100

// Processor consumes one raw transaction event. Implemented by
// pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, raw []byte) (pipeline.Outcome, error)
}

// Consumer reads transaction events from Kafka and hands them to the
// pipeline one at a time. Offsets are committed only after the event
// has been fully processed, so a crash mid-event replays it and the
// dedup check makes the replay a no-op.
type Consumer struct {
	reader    *kafka.Consumer
	topic     string
	processor Processor
	logger    *slog.Logger
}

// New creates a Consumer subscribed to the given topic.
func New(brokers, groupID, topic string, processor Processor, logger *slog.Logger) (*Consumer, error) {
	reader, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": "false",
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	if err := reader.SubscribeTopics([]string{topic}, nil); err != nil {
		reader.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	return &Consumer{
		reader:    reader,
		topic:     topic,
		processor: processor,
		logger:    logger.With("component", "consumer", "topic", topic),
	}, nil
}

// Run polls for messages until ctx is cancelled. Processing errors are
// logged and counted; the loop never stops for a bad event.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping")
			return c.reader.Close()
		default:
		}

		ev := c.reader.Poll(pollTimeoutMs)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			c.handle(ctx, e)
		case kafka.Error:
			// Librdkafka retries transient broker errors internally;
			// fatal errors mean the client is unusable.
			if e.IsFatal() {
				c.reader.Close()
				return fmt.Errorf("kafka fatal error: %w", e)
			}
			c.logger.Warn("kafka error", "code", e.Code().String(), "error", e.Error())
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *kafka.Message) {
	outcome, err := c.processor.Process(ctx, msg.Value)

	label := outcomeLabel(outcome, err)
	metrics.EventsTotal.WithLabelValues(label).Inc()

	switch label {
	case "malformed":
		c.logger.Warn("dropping malformed event",
			"partition", msg.TopicPartition.Partition,
			"offset", int64(msg.TopicPartition.Offset),
			"error", err)
	case "error":
		c.logger.Error("event processing failed",
			"txn_id", outcome.TxnID,
			"partition", msg.TopicPartition.Partition,
			"offset", int64(msg.TopicPartition.Offset),
			"error", err)
	}

	// Commit regardless of outcome: malformed and failed events are
	// logged, not reprocessed forever.
	if _, err := c.reader.CommitMessage(msg); err != nil {
		c.logger.Error("offset commit failed",
			"partition", msg.TopicPartition.Partition,
			"offset", int64(msg.TopicPartition.Offset),
			"error", err)
	}
}

// outcomeLabel maps a pipeline result onto the events_total outcome label.
func outcomeLabel(outcome pipeline.Outcome, err error) string {
	switch {
	case err == nil && outcome.Duplicate:
		return "duplicate"
	case err == nil && outcome.Flagged:
		return "flagged"
	case err == nil:
		return "clean"
	case errors.Is(err, pipeline.ErrMalformedEvent):
		return "malformed"
	default:
		return "error"
	}
}
