// Package sensor polls a measurement source and forwards each reading.
package sensor

import (
	"context"
	"sync/atomic"
	"time"

	"edgerelay/internal/logger"
	"edgerelay/internal/metrics"
	"edgerelay/internal/models"
	"edgerelay/internal/status"
)

// Publisher sends an envelope to its output.
type Publisher interface {
	Publish(ctx context.Context, envelope *models.Envelope) error
}

// ReaderConfig holds configuration for a Reader
type ReaderConfig struct {
	Source    Source
	Publisher Publisher
	Output    string
	Interval  time.Duration
	Reporter  *status.Reporter
}

// Reader reads the source on a fixed interval and publishes the raw bytes
// unchanged. A failed read or send is logged and the next tick proceeds.
type Reader struct {
	source    Source
	publisher Publisher
	output    string
	interval  time.Duration
	reporter  *status.Reporter

	last atomic.Pointer[models.Measurement]
}

// NewReader creates a sensor reader.
func NewReader(cfg ReaderConfig) *Reader {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Reporter == nil {
		cfg.Reporter = status.NewReporter()
	}
	return &Reader{
		source:    cfg.Source,
		publisher: cfg.Publisher,
		output:    cfg.Output,
		interval:  cfg.Interval,
		reporter:  cfg.Reporter,
	}
}

// Run reads once immediately and then on every tick until ctx is done.
func (r *Reader) Run(ctx context.Context) error {
	log := logger.WithComponent("sensor_reader")
	log.Info().Str("output", r.output).Dur("interval", r.interval).Msg("starting sensor reader")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.ReadAndSend(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("sensor reader stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ReadAndSend performs one poll. It reports whether a reading was sent.
func (r *Reader) ReadAndSend(ctx context.Context) bool {
	log := logger.WithComponent("sensor_reader")

	raw, err := r.source.Read(ctx)
	if err != nil {
		metrics.SensorReadsTotal.WithLabelValues("read_error").Inc()
		log.Error().Err(err).Msg("failed to read sensor")
		return false
	}

	m, err := models.DecodeMeasurement(raw)
	if err != nil {
		metrics.SensorReadsTotal.WithLabelValues("decode_error").Inc()
		log.Error().Err(err).Str("raw", string(raw)).Msg("sensor returned an invalid measurement")
		return false
	}
	if m == nil {
		metrics.SensorReadsTotal.WithLabelValues("empty").Inc()
		log.Warn().Msg("sensor returned no measurement")
		return false
	}
	r.last.Store(m)

	envelope := models.NewEnvelope(r.output, models.Delivery{Key: []byte(m.Device), Payload: raw})
	envelope.Device = m.Device
	if err := r.publisher.Publish(ctx, envelope); err != nil {
		metrics.SensorReadsTotal.WithLabelValues("send_error").Inc()
		log.Error().Err(err).Msg("error in message send")
		return false
	}

	metrics.SensorReadsTotal.WithLabelValues("sent").Inc()
	log.Info().Str("output", r.output).RawJSON("measurement", raw).Msg("event sent")
	return true
}

// Last returns the most recent valid reading, or nil.
func (r *Reader) Last() *models.Measurement {
	return r.last.Load()
}

// Status returns uptime plus the last reading.
func (r *Reader) Status() status.SensorSnapshot {
	return r.reporter.SensorSnapshot(r.Last())
}
