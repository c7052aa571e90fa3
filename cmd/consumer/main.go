// Command consumer tails the audit topic and pretty-prints each entry.
// Meant for operators watching the audit trail, not for production
// processing.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/openshelf/library/internal/config"
	"github.com/openshelf/library/internal/logger"
)

const groupID = "library-audit-consumer"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          cfg.AuditTopic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Error("failed to close reader", zap.Error(err))
		}
	}()

	log.Info("audit consumer connected",
		zap.Strings("brokers", brokers), zap.String("topic", cfg.AuditTopic))

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("audit consumer stopping")
				return
			}
			log.Error("failed to read message", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		log.Info("audit entry",
			zap.Time("timestamp", m.Time),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.ByteString("key", m.Key),
			zap.ByteString("value", m.Value))
	}
}
