package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"edgerelay/internal/config"
	"edgerelay/internal/logger"
	"edgerelay/internal/metrics"
	"edgerelay/internal/models"
)

// Submitter accepts deliveries for processing.
type Submitter interface {
	Submit(ctx context.Context, d models.Delivery) error
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads the input topic as part of a consumer group. Offsets are
// committed only through Ack, so a message that never completes is read
// again after a restart or rebalance.
type Consumer struct {
	reader  messageReader
	topic   string
	backoff time.Duration
}

// ConsumerOption is a functional option for configuring the consumer
type ConsumerOption func(*kafka.ReaderConfig)

// WithReaderTLS makes the reader dial brokers over TLS.
func WithReaderTLS(cfg *tls.Config) ConsumerOption {
	return func(rc *kafka.ReaderConfig) {
		rc.Dialer = &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			TLS:       cfg,
		}
	}
}

// NewConsumer creates a group consumer for topic.
func NewConsumer(brokers []string, topic string, cfg config.ConsumerConfig, opts ...ConsumerOption) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	rc := kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        cfg.GroupID,
		Topic:          topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		CommitInterval: 0, // synchronous commits
		StartOffset:    kafka.FirstOffset,
	}
	for _, opt := range opts {
		opt(&rc)
	}

	return &Consumer{
		reader:  kafka.NewReader(rc),
		topic:   topic,
		backoff: time.Second,
	}, nil
}

// ToDelivery converts a kafka record into a delivery. Record headers become
// the delivery's pre-existing annotations, in order.
func ToDelivery(msg kafka.Message) models.Delivery {
	annotations := make(models.Annotations, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		annotations = append(annotations, models.Annotation{Key: h.Key, Value: string(h.Value)})
	}

	receivedAt := msg.Time
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	return models.Delivery{
		Key:         msg.Key,
		Payload:     msg.Value,
		Annotations: annotations,
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		ReceivedAt:  receivedAt,
	}
}

// Start fetches messages and hands them to sink until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, sink Submitter) error {
	log := logger.WithComponent("kafka_consumer").With().Str("topic", c.topic).Logger()
	log.Info().Msg("listening for input messages")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Dur("backoff", c.backoff).Msg("failed to fetch message")
			select {
			case <-time.After(c.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if err := sink.Submit(ctx, ToDelivery(msg)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Ack commits the offset of a completed delivery.
func (c *Consumer) Ack(ctx context.Context, d models.Delivery) error {
	err := c.reader.CommitMessages(ctx, kafka.Message{
		Topic:     d.Topic,
		Partition: d.Partition,
		Offset:    d.Offset,
	})
	if err != nil {
		metrics.KafkaCommitErrors.Inc()
	}
	return err
}

// Stop closes the reader.
func (c *Consumer) Stop() error {
	return c.reader.Close()
}
