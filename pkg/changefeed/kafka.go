package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Kafka publishes change events to a Kafka topic, keyed by record identity
// so all changes to one record land in the same partition in order.
type Kafka struct {
	client *kgo.Client
	topic  string
}

// KafkaOption configures a Kafka publisher.
type KafkaOption func(*kafkaConfig)

type kafkaConfig struct {
	ensureTopic bool
	partitions  int32
	replicas    int16
}

// WithEnsureTopic creates the topic on construction if it does not exist.
func WithEnsureTopic(partitions int32, replicas int16) KafkaOption {
	return func(cfg *kafkaConfig) {
		cfg.ensureTopic = true
		cfg.partitions = partitions
		cfg.replicas = replicas
	}
}

// NewKafka wraps an existing franz-go client. Connection setup stays with
// the caller.
func NewKafka(ctx context.Context, client *kgo.Client, topic string, opts ...KafkaOption) (*Kafka, error) {
	if topic == "" {
		return nil, fmt.Errorf("changefeed topic is required")
	}
	cfg := kafkaConfig{partitions: 1, replicas: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	k := &Kafka{client: client, topic: topic}
	if cfg.ensureTopic {
		if err := k.ensureTopic(ctx, cfg.partitions, cfg.replicas); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func (k *Kafka) ensureTopic(ctx context.Context, partitions int32, replicas int16) error {
	adm := kadm.NewClient(k.client)
	_, err := adm.CreateTopic(ctx, partitions, replicas, nil, k.topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %q: %w", k.topic, err)
	}
	return nil
}

// Publish produces one event synchronously. The worker calling this is
// already off the record write path, so blocking here is fine.
func (k *Kafka) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.Name),
		Value: payload,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish change event for %s: %w", event.Name, err)
	}
	return nil
}
