// Package desired fetches and watches the desired-properties document that
// carries threshold settings for the relay.
package desired

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"edgerelay/internal/config"
)

// ErrDocument is returned when a desired-properties document is not a JSON object.
var ErrDocument = errors.New("desired properties document is not a JSON object")

// Source delivers desired properties. Fetch returns the current document;
// Watch calls fn with each later document until ctx is cancelled.
type Source interface {
	Fetch(ctx context.Context) (map[string]any, error)
	Watch(ctx context.Context, fn func(map[string]any)) error
	Close() error
}

// New connects the source selected by cfg.Backend. tlsCfg may be nil.
func New(ctx context.Context, cfg config.DesiredConfig, tlsCfg *tls.Config) (Source, error) {
	switch cfg.Backend {
	case config.BackendNATS:
		var opts []nats.Option
		if tlsCfg != nil {
			opts = append(opts, nats.Secure(tlsCfg))
		}
		return NewNATSSource(ctx, cfg.NATSURL, cfg.Bucket, cfg.Key, opts...)
	case config.BackendRedis:
		return NewRedisSource(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.Key,
			Channel:  cfg.RedisChannel,
			TLS:      tlsCfg,
		})
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}

// Decode parses a JSON object into a property bag. Numbers are kept as
// json.Number so their textual form survives. An empty document is an
// empty bag.
func Decode(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocument, err)
	}
	if props == nil {
		props = map[string]any{}
	}
	return props, nil
}
