package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"edgerelay/internal/config"
	"edgerelay/internal/logger"
	"edgerelay/internal/metrics"
	"edgerelay/internal/models"
)

// Producer errors
var (
	ErrProducerClosed = errors.New("producer is closed")
	ErrNoTopic        = errors.New("envelope has no output and producer has no default topic")

	ErrBrokerUnavailable = errors.New("no kafka broker reachable")
)

// Producer is a Kafka producer with a writer pool and retry. Each envelope
// becomes one record: the payload bytes as value and the annotations, in
// order, as record headers.
type Producer struct {
	cfg     config.ProducerConfig
	brokers []string
	topic   string
	tls     *tls.Config
	writers []*kafka.Writer
	pool    chan *kafka.Writer
	closed  atomic.Bool

	// Metrics
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// WithTLS makes every writer dial brokers over TLS.
func WithTLS(cfg *tls.Config) ProducerOption {
	return func(p *Producer) {
		p.tls = cfg
	}
}

// NewProducer creates a new Kafka producer. topic is used for envelopes that
// do not name an output of their own.
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	p := &Producer{
		cfg:     cfg,
		brokers: brokers,
		topic:   topic,
		writers: make([]*kafka.Writer, cfg.PoolSize),
		pool:    make(chan *kafka.Writer, cfg.PoolSize),
	}

	for _, opt := range opts {
		opt(p)
	}

	compression := getCompression(cfg.Compression)

	var transport kafka.RoundTripper
	if p.tls != nil {
		transport = &kafka.Transport{TLS: p.tls}
	}

	// Topic is left empty on the writer and set per record.
	for i := 0; i < cfg.PoolSize; i++ {
		writer := &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{}, // Partition by device key
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  compression,
			MaxAttempts:  1, // publishWithRetry owns retries
			Transport:    transport,
			Async:        false, // Sync so the outcome reflects delivery
		}
		p.writers[i] = writer
		p.pool <- writer
	}

	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// ToMessage converts an envelope into a kafka record.
func ToMessage(envelope *models.Envelope, defaultTopic string) kafka.Message {
	topic := envelope.Output
	if topic == "" {
		topic = defaultTopic
	}

	headers := make([]kafka.Header, 0, len(envelope.Annotations))
	for _, an := range envelope.Annotations {
		headers = append(headers, kafka.Header{Key: an.Key, Value: []byte(an.Value)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     envelope.Key,
		Value:   envelope.Payload,
		Headers: headers,
		Time:    envelope.ReceivedAt,
	}
}

// Publish sends an envelope to Kafka
func (p *Producer) Publish(ctx context.Context, envelope *models.Envelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	msg := ToMessage(envelope, p.topic)
	if msg.Topic == "" {
		p.messagesFailed.Add(1)
		return ErrNoTopic
	}

	// Get writer from pool
	var writer *kafka.Writer
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		p.messagesFailed.Add(1)
		return ctx.Err()
	}

	start := time.Now()
	err := p.publishWithRetry(ctx, writer, msg)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	p.messagesSent.Add(1)
	p.bytesWritten.Add(uint64(len(msg.Value)))
	metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
	metrics.KafkaBytesWritten.Add(float64(len(msg.Value)))
	return nil
}

// publishWithRetry publishes a single message with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, writer *kafka.Writer, msg kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Str("topic", msg.Topic).
				Msg("retrying kafka publish")

			metrics.KafkaPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("topic", msg.Topic).
			Msg("kafka publish attempt failed")

		// Check for non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	log.Error().
		Err(lastErr).
		Int("max_retries", p.cfg.MaxRetries+1).
		Str("topic", msg.Topic).
		Msg("kafka publish failed after all retries")

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes all writers in the pool
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}

	var errs []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesSent   uint64
	MessagesFailed uint64
	BytesWritten   uint64
}

// HealthCheck reports whether the producer is open and at least one broker
// answers a metadata request before ctx expires.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	dialer := &kafka.Dialer{
		Timeout:   5 * time.Second,
		DualStack: true,
		TLS:       p.tls,
	}

	var errs []error
	for _, broker := range p.brokers {
		if err := pingBroker(ctx, dialer, broker); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBrokerUnavailable, errors.Join(errs...))
}

func pingBroker(ctx context.Context, dialer *kafka.Dialer, broker string) error {
	conn, err := dialer.DialContext(ctx, "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	_, err = conn.Brokers()
	return err
}
