package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openshelf/library/internal/repository"
	"github.com/openshelf/library/internal/storage"
)

// AuditManager collects per-request audit entries, batches them and
// persists each batch as outbox tasks. A separate relay drains the
// outbox into Kafka, so losing the broker never loses an entry.
type AuditManager struct {
	workerCount int
	batchSize   int
	timeout     time.Duration
	topic       string

	outbox storage.OutboxTaskRepository
	logger *zap.Logger

	inputChan  chan repository.AuditLogPayload
	batchChan  chan []repository.AuditLogPayload
	shutdownCh chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

func NewAuditManager(outbox storage.OutboxTaskRepository, topic string, workerCount, batchSize int, timeout time.Duration, logger *zap.Logger) *AuditManager {
	return &AuditManager{
		workerCount: workerCount,
		batchSize:   batchSize,
		timeout:     timeout,
		topic:       topic,
		outbox:      outbox,
		logger:      logger,
		inputChan:   make(chan repository.AuditLogPayload, workerCount*batchSize*2),
		batchChan:   make(chan []repository.AuditLogPayload, workerCount*2),
		shutdownCh:  make(chan struct{}),
	}
}

func (m *AuditManager) Start(ctx context.Context) {
	m.logger.Info("starting audit manager",
		zap.Int("workers", m.workerCount),
		zap.Int("batch_size", m.batchSize))

	m.wg.Add(1)
	go m.runAggregator(ctx)

	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.runWorker(i)
	}

	go m.monitorShutdown(ctx)
}

func (m *AuditManager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.logger.Info("audit manager shutting down")
		close(m.shutdownCh)

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.logger.Info("audit manager shutdown completed")
		case <-ctx.Done():
			m.logger.Warn("audit manager shutdown interrupted")
		}
	})
}

func (m *AuditManager) monitorShutdown(ctx context.Context) {
	<-ctx.Done()
	m.Shutdown(context.Background())
}

// LogEntry enqueues one entry. When the queue is saturated or the
// request context is gone the entry is written straight to the log so
// the handler never blocks on auditing.
func (m *AuditManager) LogEntry(ctx context.Context, entry repository.AuditLogPayload) {
	select {
	case m.inputChan <- entry:
	case <-ctx.Done():
		m.emergencyLog(entry)
	default:
		m.emergencyLog(entry)
	}
}

func (m *AuditManager) runAggregator(ctx context.Context) {
	defer m.wg.Done()

	var (
		batch    []repository.AuditLogPayload
		timer    *time.Timer
		timeoutC <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if len(batch) > 0 {
			m.dispatchBatch(batch)
		}
		close(m.batchChan)
	}()

	for {
		select {
		case entry := <-m.inputChan:
			batch = append(batch, entry)
			if len(batch) >= m.batchSize {
				m.dispatchBatch(batch)
				batch = nil
				timeoutC = nil
			} else if len(batch) == 1 {
				timer = time.NewTimer(m.timeout)
				timeoutC = timer.C
			}

		case <-timeoutC:
			m.dispatchBatch(batch)
			batch = nil
			timeoutC = nil

		case <-ctx.Done():
			return

		case <-m.shutdownCh:
			return
		}
	}
}

func (m *AuditManager) dispatchBatch(batch []repository.AuditLogPayload) {
	batchCopy := make([]repository.AuditLogPayload, len(batch))
	copy(batchCopy, batch)

	select {
	case m.batchChan <- batchCopy:
	default:
		m.persistBatch(batchCopy)
	}
}

func (m *AuditManager) runWorker(id int) {
	defer m.wg.Done()

	for batch := range m.batchChan {
		m.persistBatch(batch)
	}
	m.logger.Debug("audit worker exiting", zap.Int("worker", id))
}

// persistBatch writes one outbox task per entry. Persistence runs on a
// background context so in-flight entries survive request cancellation.
func (m *AuditManager) persistBatch(batch []repository.AuditLogPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, entry := range batch {
		payload, err := json.Marshal(entry)
		if err != nil {
			m.logger.Error("failed to marshal audit entry", zap.Error(err))
			continue
		}

		task := &repository.OutboxTask{
			ID:      uuid.New(),
			Status:  repository.TaskStatusCreated,
			Payload: payload,
			Topic:   m.topic,
		}
		if err := m.outbox.Create(ctx, task); err != nil {
			m.logger.Error("failed to persist audit entry",
				zap.String("path", entry.Path), zap.Error(err))
		}
	}
}

func (m *AuditManager) emergencyLog(entry repository.AuditLogPayload) {
	payload, err := json.Marshal(entry)
	if err != nil {
		m.logger.Error("failed to marshal audit entry", zap.Error(err))
		return
	}
	m.logger.Warn("audit entry bypassed queue", zap.ByteString("entry", payload))
}
