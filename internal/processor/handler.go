package processor

import (
	"context"
	"runtime/debug"
	"time"

	"edgerelay/internal/alerts"
	"edgerelay/internal/logger"
	"edgerelay/internal/metrics"
	"edgerelay/internal/models"
	"edgerelay/internal/threshold"
)

// Publisher sends an envelope to its output sink.
type Publisher interface {
	Publish(ctx context.Context, envelope *models.Envelope) error
}

// AlertRecorder receives every forwarded envelope that carries Alert=1.
type AlertRecorder interface {
	Record(ctx context.Context, envelope *models.Envelope, m *models.Measurement, res alerts.Result) error
}

// Handler runs the per-message pipeline: decode, evaluate, annotate,
// forward, acknowledge.
type Handler struct {
	store     *threshold.Store
	publisher Publisher
	output    string
	recorder  AlertRecorder
}

// HandlerConfig holds the collaborators of a Handler.
type HandlerConfig struct {
	Store     *threshold.Store
	Publisher Publisher

	// Output sink name, resolved once at startup
	Output string

	// Optional
	Recorder AlertRecorder
}

// NewHandler creates a message handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		output:    cfg.Output,
		recorder:  cfg.Recorder,
	}
}

// Output returns the sink name envelopes are forwarded to.
func (h *Handler) Output() string {
	return h.output
}

// Handle processes one delivery and returns its outcome. Errors never
// escape: a malformed payload or a failed send is logged and abandoned, an
// empty (null) measurement is completed without forwarding anything.
func (h *Handler) Handle(ctx context.Context, d models.Delivery) (outcome models.Outcome) {
	start := time.Now()
	log := logger.WithMessage("processor", d.Partition, d.Offset)
	reason := "forwarded"

	metrics.MessagesReceivedTotal.Inc()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("panic while processing message")
			metrics.PanicsRecovered.WithLabelValues("processor").Inc()
			outcome, reason = models.Abandoned, "panic"
		}
		metrics.MessageOutcomesTotal.WithLabelValues(outcome.String(), reason).Inc()
		metrics.MessageProcessDuration.Observe(time.Since(start).Seconds())
	}()

	log.Debug().Bytes("payload", d.Payload).Msg("received message")

	m, err := models.DecodeMeasurement(d.Payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to decode measurement")
		reason = "decode_error"
		return models.Abandoned
	}
	if m == nil {
		log.Debug().Msg("empty measurement, nothing to forward")
		reason = "null_measurement"
		return models.Completed
	}

	res := alerts.Evaluate(m, h.store.Read())

	envelope := models.NewEnvelope(h.output, d).
		Annotate(res.Annotations...).
		Annotate(d.Annotations...)
	envelope.Device = m.Device
	envelope.Violated = res.Violated

	for _, v := range res.Violations {
		log.Info().
			Str("device", m.Device).
			Str("bound", v.Bound.String()).
			Float64("limit", v.Limit).
			Float64("value", v.Value).
			Msg("threshold detected")
	}

	if err := h.publisher.Publish(ctx, envelope); err != nil {
		log.Error().
			Err(err).
			Str("envelope_id", envelope.ID).
			Str("output", h.output).
			Msg("failed to forward message")
		reason = "send_error"
		return models.Abandoned
	}

	for _, an := range res.Annotations {
		if an.Key != alerts.KeyAlert {
			metrics.ThresholdViolationsTotal.WithLabelValues(an.Key).Inc()
		}
	}
	if res.Violated {
		metrics.AlertsTotal.Inc()
		h.record(ctx, envelope, m, res)
	}

	log.Info().
		Str("envelope_id", envelope.ID).
		Str("device", m.Device).
		Str("output", h.output).
		Bool("has_threshold", res.Violated).
		Msg("message sent")

	return models.Completed
}

// record writes to the alert journal. The message is already forwarded, so a
// journal failure is logged and does not change the outcome.
func (h *Handler) record(ctx context.Context, envelope *models.Envelope, m *models.Measurement, res alerts.Result) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.Record(ctx, envelope, m, res); err != nil {
		log := logger.WithComponent("processor")
		log.Warn().
			Err(err).
			Str("envelope_id", envelope.ID).
			Msg("failed to journal alert")
	}
}
