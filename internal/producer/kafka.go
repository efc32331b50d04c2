package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aparajitverma/TheExportExpress-sub004/internal/config"
	"github.com/aparajitverma/TheExportExpress-sub004/pkg/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KindHeader optionally carries the event kind when the value is a bare payload.
const KindHeader = "kind"

// fetchRetryDelay is the pause after a failed fetch.
const fetchRetryDelay = time.Second

// MessageReader is the subset of *kafka.Reader used by KafkaSource.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader builds a consumer-group reader from service configuration.
func NewKafkaReader(cfg config.KafkaConfig, logger *zap.Logger) *kafka.Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kafka")
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.LastOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	})
}

// KafkaSource relays messages from a Kafka topic.
type KafkaSource struct {
	reader MessageReader
	pub    Publisher
	logger *zap.Logger
	retry  time.Duration
}

// NewKafkaSource consumes from reader. The source owns the reader and closes it when Run returns.
func NewKafkaSource(reader MessageReader, pub Publisher, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSource{
		reader: reader,
		pub:    pub,
		logger: logger.Named("kafka"),
		retry:  fetchRetryDelay,
	}
}

// Name implements Source.
func (s *KafkaSource) Name() string { return "kafka" }

// Run implements Source. Malformed messages are committed so they are not redelivered.
func (s *KafkaSource) Run(ctx context.Context) error {
	defer s.reader.Close()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Error("Failed to fetch message", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.retry):
			}
			continue
		}

		s.handle(msg)

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("Failed to commit message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (s *KafkaSource) handle(msg kafka.Message) {
	hint := msg.Topic
	for _, h := range msg.Headers {
		if h.Key == KindHeader {
			hint = string(h.Value)
			break
		}
	}
	ev, err := decodeMessage(hint, msg.Value)
	if err != nil {
		metrics.RelayMalformedEvents.WithLabelValues(s.Name()).Inc()
		s.logger.Warn("Dropped malformed message",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}
	s.pub.Publish(ev, "")
}
