package desired

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"edgerelay/internal/logger"
)

// RedisOptions configures a RedisSource.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Key names the hash holding one field per property
	Key string
	// Channel is published to after the hash changes
	Channel string
	TLS     *tls.Config
}

// RedisSource reads desired properties from a Redis hash and learns about
// changes through a pub/sub channel.
type RedisSource struct {
	client  *redis.Client
	key     string
	channel string
}

// NewRedisSource connects to Redis and verifies the connection.
func NewRedisSource(ctx context.Context, opts RedisOptions) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		TLSConfig:    opts.TLS,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSource{client: client, key: opts.Key, channel: opts.Channel}, nil
}

// Fetch returns the hash fields as a property bag.
func (s *RedisSource) Fetch(ctx context.Context) (map[string]any, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read desired properties: %w", err)
	}
	props := make(map[string]any, len(fields))
	for k, v := range fields {
		props[k] = v
	}
	return props, nil
}

// Watch re-reads the hash each time a message arrives on the channel.
// A message whose body is a JSON object is applied directly instead.
func (s *RedisSource) Watch(ctx context.Context, fn func(map[string]any)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	log := logger.WithComponent("desired_redis").With().Str("channel", s.channel).Logger()
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if props, err := Decode([]byte(msg.Payload)); err == nil && len(props) > 0 {
				fn(props)
				continue
			}
			props, err := s.Fetch(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to reload desired properties")
				continue
			}
			fn(props)
		}
	}
}

// Close closes the client.
func (s *RedisSource) Close() error {
	return s.client.Close()
}
