package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer delivers one outbox payload to the message bus.
type Producer interface {
	SendMessage(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// KafkaProducer writes to Kafka through a shared writer. The topic is
// carried per message so one writer serves every outbox topic.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (p *KafkaProducer) SendMessage(ctx context.Context, topic string, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// ConsoleProducer stands in for Kafka during local development. Every
// message lands in the log instead of a broker.
type ConsoleProducer struct {
	logger *zap.Logger
}

func NewConsoleProducer(logger *zap.Logger) *ConsoleProducer {
	logger.Info("using console producer, messages will not reach Kafka")
	return &ConsoleProducer{logger: logger}
}

func (p *ConsoleProducer) SendMessage(ctx context.Context, topic string, key, value []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.logger.Info("console producer message",
		zap.String("topic", topic),
		zap.ByteString("key", key),
		zap.ByteString("value", value))
	return nil
}

func (p *ConsoleProducer) Close() error {
	return nil
}
