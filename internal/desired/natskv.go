package desired

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"edgerelay/internal/logger"
)

// NATSSource reads desired properties from one key of a JetStream
// key-value bucket.
type NATSSource struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	bucket string
	key    string
}

// NewNATSSource connects to url and opens (creating if needed) bucket.
func NewNATSSource(ctx context.Context, url, bucket, key string, opts ...nats.Option) (*NATSSource, error) {
	opts = append([]nats.Option{nats.Name("edgerelay"), nats.MaxReconnects(-1)}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}

	// Ensure bucket exists
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}

	return &NATSSource{nc: nc, kv: kv, bucket: bucket, key: key}, nil
}

// Fetch returns the stored document, or an empty bag if the key is unset.
func (s *NATSSource) Fetch(ctx context.Context) (map[string]any, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return Decode(entry.Value())
}

// Watch calls fn with every update to the key. The initial value replayed
// by the watcher is skipped since Fetch already returned it.
func (s *NATSSource) Watch(ctx context.Context, fn func(map[string]any)) error {
	watcher, err := s.kv.Watch(ctx, s.key, jetstream.UpdatesOnly())
	if err != nil {
		return err
	}
	defer watcher.Stop()

	log := logger.WithComponent("desired_nats").With().Str("bucket", s.bucket).Str("key", s.key).Logger()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-watcher.Updates():
			if !ok {
				return nil
			}
			if update == nil {
				continue
			}
			if update.Operation() == jetstream.KeyValueDelete || update.Operation() == jetstream.KeyValuePurge {
				log.Info().Msg("desired properties deleted, keeping current thresholds")
				continue
			}
			props, err := Decode(update.Value())
			if err != nil {
				log.Error().Err(err).Uint64("revision", update.Revision()).Msg("ignoring desired properties update")
				continue
			}
			fn(props)
		}
	}
}

// Close drains the connection.
func (s *NATSSource) Close() error {
	s.nc.Close()
	return nil
}
