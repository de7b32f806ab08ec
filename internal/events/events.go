// Package events publishes record deletion events for downstream consumers
// such as CDN and cache purgers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/assetvault/reaper/internal/logging"
)

// Event announces that a record was purged.
type Event struct {
	ID        string    `json:"id"`
	DeletedBy string    `json:"deletedBy"`
	DeletedAt time.Time `json:"deletedAt"`
	Type      string    `json:"type"`
	BatchID   string    `json:"batchId,omitempty"`
}

// Publisher sends deletion events.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
	Close()
}

// Nop discards every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, []Event) error { return nil }
func (Nop) Close()                                 {}

// producer is the subset of *kgo.Client used by KafkaPublisher.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher writes one record per event, keyed by record id so that
// all events of an id land on the same partition.
type KafkaPublisher struct {
	client producer
	topic  string
	logger *logging.Logger
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	Logger   *logging.Logger
}

// NewKafkaPublisher connects a franz-go client to the brokers.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("events: topic is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "reaper"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("events: create kafka client: %w", err)
	}
	return newKafkaPublisher(client, cfg.Topic, cfg.Logger), nil
}

func newKafkaPublisher(client producer, topic string, logger *logging.Logger) *KafkaPublisher {
	if logger == nil {
		logger = logging.Global()
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger.Named("events")}
}

// Publish produces events synchronously and returns the joined per-record
// errors.
func (p *KafkaPublisher) Publish(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("events: encode %s: %w", ev.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(ev.ID),
			Value: value,
		})
	}

	var errs []error
	for _, res := range p.client.ProduceSync(ctx, records...) {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("events: produce %s: %w", res.Record.Key, res.Err))
		}
	}
	if len(errs) > 0 {
		logging.FromCtx(ctx, p.logger).Warnf("deletion events not delivered", map[string]any{
			"failed": len(errs),
			"total":  len(records),
		})
	}
	return errors.Join(errs...)
}

// Close flushes and closes the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// New returns a KafkaPublisher when brokers are configured and Nop otherwise.
func New(cfg KafkaConfig) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return Nop{}, nil
	}
	return NewKafkaPublisher(cfg)
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*KafkaPublisher)(nil)
)
