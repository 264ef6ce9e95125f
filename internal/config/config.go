package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Desired-config backends
const (
	BackendNATS  = "nats"
	BackendRedis = "redis"
)

const (
	DefaultOutputName       = "middlewareoutput"
	DefaultInputName        = "sensor"
	DefaultSensorOutputName = "sensor"
)

var (
	ErrNoBrokers      = errors.New("at least one kafka broker is required")
	ErrNoInputTopic   = errors.New("input name is required")
	ErrNoOutputTopic  = errors.New("output name is required")
	ErrUnknownBackend = errors.New("unknown desired config backend")
)

// Config holds runtime configuration for the relay and the sensor reader.
type Config struct {
	// Log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// Address of the HTTP server exposing methods, health and metrics
	HTTPAddr string `yaml:"http_addr"`

	Kafka   KafkaConfig   `yaml:"kafka"`
	Desired DesiredConfig `yaml:"desired"`
	TLS     TLSConfig     `yaml:"tls"`
	Journal JournalConfig `yaml:"journal"`
	Sensor  SensorConfig  `yaml:"sensor"`
}

// KafkaConfig configures the message transport.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`

	// InputName is the topic inbound measurements are consumed from
	InputName string `yaml:"input_name"`

	// OutputName is the topic annotated messages are forwarded to
	OutputName string `yaml:"output_name"`

	Producer ProducerConfig `yaml:"producer"`
	Consumer ConsumerConfig `yaml:"consumer"`
}

// ProducerConfig tunes the kafka writer pool.
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ConsumerConfig tunes the kafka reader and the redelivery loop.
type ConsumerConfig struct {
	GroupID  string `yaml:"group_id"`
	Workers  int    `yaml:"workers"`
	MinBytes int    `yaml:"min_bytes"`
	MaxBytes int    `yaml:"max_bytes"`

	// Backoff between redeliveries of an abandoned message
	RedeliveryBackoff    time.Duration `yaml:"redelivery_backoff"`
	MaxRedeliveryBackoff time.Duration `yaml:"max_redelivery_backoff"`
}

// DesiredConfig selects where threshold properties are pushed from.
type DesiredConfig struct {
	// Backend is "nats" (JetStream KV) or "redis"
	Backend string `yaml:"backend"`

	NATSURL string `yaml:"nats_url"`
	Bucket  string `yaml:"bucket"`
	Key     string `yaml:"key"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisChannel  string `yaml:"redis_channel"`
}

// TLSConfig points at the CA bundle installed at startup.
type TLSConfig struct {
	CACertificateFile      string `yaml:"ca_certificate_file"`
	BypassCertVerification bool   `yaml:"bypass_cert_verification"`
}

// JournalConfig enables the optional alert journal.
type JournalConfig struct {
	// Postgres DSN; empty disables the journal
	DSN string `yaml:"dsn"`
}

// SensorConfig configures the sensor reader deployable.
type SensorConfig struct {
	OutputName string        `yaml:"output_name"`
	Interval   time.Duration `yaml:"interval"`

	// Command is run on every tick and must print one JSON measurement.
	// Empty uses the simulated source.
	Command []string `yaml:"command"`
	Device  string   `yaml:"device"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTPAddr: ":8080",
		Kafka: KafkaConfig{
			Brokers:    []string{"localhost:9092"},
			InputName:  DefaultInputName,
			OutputName: DefaultOutputName,
			Producer: ProducerConfig{
				PoolSize:     4,
				BatchSize:    1,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
			Consumer: ConsumerConfig{
				GroupID:              "edgerelay",
				Workers:              4,
				MinBytes:             1,
				MaxBytes:             10e6,
				RedeliveryBackoff:    200 * time.Millisecond,
				MaxRedeliveryBackoff: 30 * time.Second,
			},
		},
		Desired: DesiredConfig{
			Backend:      BackendNATS,
			NATSURL:      "nats://localhost:4222",
			Bucket:       "edgerelay",
			Key:          "desired",
			RedisAddr:    "localhost:6379",
			RedisChannel: "edgerelay:desired",
		},
		Sensor: SensorConfig{
			OutputName: DefaultSensorOutputName,
			Interval:   60 * time.Second,
			Device:     "bme280",
		},
	}
}

// Load builds the config from defaults, an optional YAML file named by
// RELAY_CONFIG, and environment overrides, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getenvDefault("LOG_LEVEL", c.LogLevel)
	c.HTTPAddr = getenvDefault("HTTP_ADDR", c.HTTPAddr)

	if brokers := splitCSV(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		c.Kafka.Brokers = brokers
	}
	c.Kafka.InputName = getenvDefault("InputName", c.Kafka.InputName)
	c.Kafka.OutputName = getenvDefault("OutputName", c.Kafka.OutputName)
	c.Kafka.Consumer.GroupID = getenvDefault("KAFKA_GROUP_ID", c.Kafka.Consumer.GroupID)

	c.Desired.Backend = getenvDefault("DESIRED_BACKEND", c.Desired.Backend)
	c.Desired.NATSURL = getenvDefault("NATS_URL", c.Desired.NATSURL)
	c.Desired.Bucket = getenvDefault("DESIRED_BUCKET", c.Desired.Bucket)
	c.Desired.Key = getenvDefault("DESIRED_KEY", c.Desired.Key)
	c.Desired.RedisAddr = getenvDefault("REDIS_ADDR", c.Desired.RedisAddr)
	c.Desired.RedisPassword = getenvDefault("REDIS_PASSWORD", c.Desired.RedisPassword)

	c.TLS.CACertificateFile = getenvDefault("EdgeModuleCACertificateFile", c.TLS.CACertificateFile)
	if v, err := strconv.ParseBool(os.Getenv("BYPASS_CERT_VERIFICATION")); err == nil {
		c.TLS.BypassCertVerification = v
	}

	c.Journal.DSN = getenvDefault("ALERT_JOURNAL_DSN", c.Journal.DSN)

	if d, err := time.ParseDuration(os.Getenv("SENSOR_INTERVAL")); err == nil && d > 0 {
		c.Sensor.Interval = d
	}
	if cmd := strings.Fields(os.Getenv("SENSOR_COMMAND")); len(cmd) > 0 {
		c.Sensor.Command = cmd
	}
	c.Sensor.Device = getenvDefault("SENSOR_DEVICE", c.Sensor.Device)
}

// ForSensorReader returns a copy whose output name falls back to the sensor
// reader's own default rather than the relay's.
func (c *Config) ForSensorReader() *Config {
	out := *c
	out.Sensor.OutputName = getenvDefault("OutputName", c.Sensor.OutputName)
	return &out
}

// Validate checks the fields every deployable needs.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return ErrNoBrokers
	}
	if c.Kafka.InputName == "" {
		return ErrNoInputTopic
	}
	if c.Kafka.OutputName == "" {
		return ErrNoOutputTopic
	}
	switch c.Desired.Backend {
	case BackendNATS, BackendRedis:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Desired.Backend)
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
