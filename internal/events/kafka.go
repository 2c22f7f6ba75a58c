package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Kafka publishes events with franz-go. Produce is asynchronous;
// delivery failures are logged rather than surfaced to the caller so
// event publication never blocks a transfer transition.
type Kafka struct {
	client *kgo.Client
	logger *slog.Logger
}

func NewKafka(ctx context.Context, brokers []string, logger *slog.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}

	k := &Kafka{client: client, logger: logger}
	if err := k.ensureTopics(ctx, TopicTransfers, TopicHubAudit); err != nil {
		client.Close()
		return nil, err
	}
	return k, nil
}

func (k *Kafka) ensureTopics(ctx context.Context, topics ...string) error {
	adm := kadm.NewClient(k.client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, res := range resp.Sorted() {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

func (k *Kafka) Publish(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	k.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			k.logger.Error("event delivery failed",
				"topic", r.Topic,
				"key", string(r.Key),
				"error", err)
		}
	})
	return nil
}

func (k *Kafka) Close() {
	k.client.Flush(context.Background())
	k.client.Close()
}
