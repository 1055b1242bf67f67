// Package redpanda provides Redpanda/Kafka integration for the feedback
// pipeline.
//
// Corrections are appended to a topic consumed by the offline retraining
// process; nothing on the classification request path ever reads it back.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/intent-router/internal/domain"
)

// FeedbackProducer appends feedback records to a Kafka/Redpanda topic and
// implements domain.FeedbackSink.
type FeedbackProducer struct {
	client *kgo.Client
	topic  string
}

// NewFeedbackProducer connects to the brokers and ensures the topic exists.
func NewFeedbackProducer(brokers []string, topic string) (*FeedbackProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, topic, 1, 1); err != nil {
		slog.Warn("failed to create feedback topic, it may already exist",
			slog.String("topic", topic),
			slog.Any("error", err))
	}

	slog.Info("feedback producer created", slog.String("topic", topic))
	return &FeedbackProducer{client: client, topic: topic}, nil
}

// Append publishes one feedback record, keyed by the request hash so
// corrections for the same text land in one partition in order.
func (p *FeedbackProducer) Append(ctx domain.Context, rec domain.FeedbackRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal feedback record: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(rec.RequestHash),
		Value: b,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce feedback record: %w", err)
	}
	slog.Debug("feedback record appended",
		slog.String("id", rec.ID),
		slog.String("request_hash", rec.RequestHash),
		slog.String("corrected_label", rec.CorrectedLabel))
	return nil
}

// Ping reports broker reachability for readiness checks.
func (p *FeedbackProducer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and closes the underlying client.
func (p *FeedbackProducer) Close() error {
	if err := p.client.Flush(context.Background()); err != nil {
		slog.Warn("feedback producer flush failed", slog.Any("error", err))
	}
	p.client.Close()
	return nil
}

var _ domain.FeedbackSink = (*FeedbackProducer)(nil)
