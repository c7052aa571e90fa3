package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/library/internal/repository"
	"github.com/openshelf/library/internal/storage"
)

type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Publisher relays persisted outbox tasks to the producer. Tasks are
// claimed under a transaction with a skip-locked select, so several
// replicas can poll the same table without double sends.
type Publisher struct {
	store    storage.Store
	producer Producer
	config   PublisherConfig
	logger   *zap.Logger

	wg             sync.WaitGroup
	shutdownSignal chan struct{}
	stopOnce       sync.Once
}

func NewPublisher(store storage.Store, producer Producer, config PublisherConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		store:          store,
		producer:       producer,
		config:         config,
		logger:         logger,
		shutdownSignal: make(chan struct{}),
	}
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("outbox publisher starting",
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Int("batch_size", p.config.BatchSize))

	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				p.logger.Error("outbox batch failed", zap.Error(err))
			}
		case <-p.shutdownSignal:
			return
		case <-ctx.Done():
			p.Shutdown()
			return
		}
	}
}

func (p *Publisher) Shutdown() {
	p.stopOnce.Do(func() {
		p.logger.Info("outbox publisher shutting down")
		close(p.shutdownSignal)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			p.logger.Info("outbox publisher shutdown complete")
		case <-shutdownCtx.Done():
			p.logger.Warn("outbox publisher shutdown timed out")
		}

		if err := p.producer.Close(); err != nil {
			p.logger.Error("failed to close producer", zap.Error(err))
		}
	})
}

// processBatch fetches a batch, marks it PROCESSING under one
// transaction, commits, then sends outside the transaction so a slow
// broker never holds row locks.
func (p *Publisher) processBatch(ctx context.Context) error {
	tasks, err := p.store.Outbox().GetProcessable(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch processable tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	for _, task := range tasks {
		if err := p.store.Outbox().UpdateStatusTx(ctx, tx, task.ID, repository.TaskStatusProcessing, task.Attempts, nil, nil); err != nil {
			return fmt.Errorf("mark task %s processing: %w", task.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claimed batch: %w", err)
	}

	for _, task := range tasks {
		select {
		case <-p.shutdownSignal:
			return errors.New("publisher shutdown during batch")
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.processSingleTask(ctx, task); err != nil {
			p.logger.Error("task relay failed",
				zap.String("task_id", task.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (p *Publisher) processSingleTask(ctx context.Context, task *repository.OutboxTask) error {
	err := p.producer.SendMessage(ctx, task.Topic, []byte(task.ID.String()), task.Payload)
	if err != nil {
		newAttempts := task.Attempts + 1
		errMsg := err.Error()
		if newAttempts >= p.config.MaxAttempts {
			p.logger.Warn("task reached max attempts",
				zap.String("task_id", task.ID.String()),
				zap.Int("attempts", newAttempts))
		}
		if updateErr := p.store.Outbox().UpdateStatus(ctx, task.ID, repository.TaskStatusFailed, newAttempts, &errMsg, nil); updateErr != nil {
			return fmt.Errorf("update status after send failure: %w", updateErr)
		}
		return err
	}

	now := time.Now().UTC()
	if updateErr := p.store.Outbox().UpdateStatus(ctx, task.ID, repository.TaskStatusDone, task.Attempts, nil, &now); updateErr != nil {
		return fmt.Errorf("update status after send: %w", updateErr)
	}
	return nil
}
