package emit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"tagstream/internal/config"
	"tagstream/internal/model"
)

// KafkaSink publishes updates keyed by tag id, so the topic's partitions
// preserve the engine's per-tag ordering for downstream consumers.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(cfg config.KafkaConfig, logger *slog.Logger) *KafkaSink {
	if !cfg.Enabled {
		return nil
	}
	if logger != nil {
		logger.Info("kafka sink enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     kafka.Murmur2Balancer{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, update model.LocationUpdate) error {
	value, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(update.TagID),
		Value: value,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
