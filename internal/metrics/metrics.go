package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgerelay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	MethodCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_method_calls_total",
			Help: "Total number of direct method invocations",
		},
		[]string{"method", "status"},
	)

	// Message pipeline metrics
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgerelay_messages_received_total",
			Help: "Total number of inbound messages handed to the processor",
		},
	)

	MessageOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_message_outcomes_total",
			Help: "Processing outcomes reported to the transport",
		},
		[]string{"outcome", "reason"}, // outcome: completed, abandoned
	)

	MessageProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgerelay_message_process_duration_seconds",
			Help:    "Time from receive to acknowledgement outcome",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	ThresholdViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_threshold_violations_total",
			Help: "Threshold annotations emitted, by annotation key",
		},
		[]string{"annotation"},
	)

	AlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgerelay_alerts_total",
			Help: "Messages forwarded with Alert=1",
		},
	)

	RedeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgerelay_redeliveries_total",
			Help: "Abandoned messages handed to the processor again",
		},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgerelay_worker_queue_size",
			Help: "Current size of each worker queue",
		},
		[]string{"worker"},
	)

	// Threshold configuration metrics
	ThresholdUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_threshold_updates_total",
			Help: "Desired property bags applied to the threshold store",
		},
		[]string{"source", "status"}, // status: applied, failed
	)

	ThresholdPropertiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_threshold_properties_total",
			Help: "Per-property parse results during threshold updates",
		},
		[]string{"property", "result"},
	)

	ThresholdBound = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgerelay_threshold_bound",
			Help: "Currently active threshold bounds; absent when unset",
		},
		[]string{"bound"},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgerelay_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgerelay_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgerelay_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	KafkaCommitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgerelay_kafka_commit_errors_total",
			Help: "Failed offset commits for completed messages",
		},
	)

	// Sensor reader metrics
	SensorReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_sensor_reads_total",
			Help: "Sensor polling attempts",
		},
		[]string{"status"}, // status: sent, empty, read_failed, send_failed
	)

	// Alert journal
	JournalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_journal_writes_total",
			Help: "Alert journal writes",
		},
		[]string{"status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgerelay_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
