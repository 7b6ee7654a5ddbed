package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string

	// Breaker trips after this many consecutive send failures and resets
	// its counts every BreakerInterval while closed.
	BreakerFailures uint32
	BreakerInterval time.Duration
	BreakerTimeout  time.Duration
}

type sendResult struct {
	Partition int32
	Offset    int64
}

// KafkaPublisher writes events keyed by call id so one call's events stay
// ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	breaker  *gobreaker.CircuitBreaker[sendResult]
	topic    string
	log      *slog.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, log *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_6_0_0
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisherWithProducer(producer, cfg, log), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, cfg KafkaConfig, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaPublisher{
		producer: producer,
		breaker:  newBreaker(cfg, log),
		topic:    cfg.Topic,
		log:      log,
	}
}

func newBreaker(cfg KafkaConfig, log *slog.Logger) *gobreaker.CircuitBreaker[sendResult] {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker[sendResult](gobreaker.Settings{
		Name:     "KafkaPublisher",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state changed", "service", name, "from", from.String(), "to", to.String())
		},
	})
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Type == "" {
		ev.Type = TypeCallUpdated
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	res, err := p.breaker.Execute(func() (sendResult, error) {
		partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.CallID),
			Value: sarama.ByteEncoder(value),
		})
		return sendResult{Partition: partition, Offset: offset}, err
	})
	if err != nil {
		p.log.Error("publish call event failed", "topic", p.topic, "call_id", ev.CallID, "err", err)
		return err
	}
	p.log.Debug("call event published", "topic", p.topic, "call_id", ev.CallID, "partition", res.Partition, "offset", res.Offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
