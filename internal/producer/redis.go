package producer

import (
	"context"
	"fmt"

	"github.com/aparajitverma/TheExportExpress-sub004/internal/config"
	"github.com/aparajitverma/TheExportExpress-sub004/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient builds a client from service configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisSource relays messages from Redis pub/sub channels.
type RedisSource struct {
	client   redis.UniversalClient
	channels []string
	pub      Publisher
	logger   *zap.Logger
}

// NewRedisSource subscribes to channels on client once Run is called.
func NewRedisSource(client redis.UniversalClient, channels []string, pub Publisher, logger *zap.Logger) *RedisSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSource{
		client:   client,
		channels: channels,
		pub:      pub,
		logger:   logger.Named("redis"),
	}
}

// Name implements Source.
func (s *RedisSource) Name() string { return "redis" }

// Run implements Source.
func (s *RedisSource) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channels...)
	defer pubsub.Close()

	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %v: %w", s.channels, err)
	}
	s.logger.Info("Subscribed to Redis channels", zap.Strings("channels", s.channels))

	return s.consume(ctx, pubsub.Channel())
}

// consume relays messages until ctx is done or ch is closed.
func (s *RedisSource) consume(ctx context.Context, ch <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (s *RedisSource) handle(channel string, payload []byte) {
	ev, err := decodeMessage(channel, payload)
	if err != nil {
		metrics.RelayMalformedEvents.WithLabelValues(s.Name()).Inc()
		s.logger.Warn("Dropped malformed pub/sub message",
			zap.String("channel", channel),
			zap.Int("bytes", len(payload)),
			zap.Error(err))
		return
	}
	s.pub.Publish(ev, "")
}
