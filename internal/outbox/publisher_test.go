package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/library/internal/repository"
	"github.com/openshelf/library/internal/storage"
)

type fakeProducer struct {
	mu     sync.Mutex
	sent   []string
	failOn map[string]error
	closed bool
}

func (p *fakeProducer) SendMessage(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failOn[string(key)]; ok {
		return err
	}
	p.sent = append(p.sent, string(value))
	return nil
}

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func newTestPublisher(t *testing.T, producer Producer) (*Publisher, *storage.MemoryStore) {
	t.Helper()
	store, err := storage.NewMemoryStore("")
	require.NoError(t, err)
	p := NewPublisher(store, producer, PublisherConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxAttempts:  5,
	}, zap.NewNop())
	return p, store
}

func TestProcessBatchDeliversAndCompletes(t *testing.T) {
	ctx := context.Background()
	producer := &fakeProducer{}
	p, store := newTestPublisher(t, producer)

	task := &repository.OutboxTask{Payload: []byte(`{"handler":"handleSubmitRequest"}`), Topic: "library_audit"}
	require.NoError(t, store.Outbox().Create(ctx, task))

	require.NoError(t, p.processBatch(ctx))

	assert.Equal(t, []string{`{"handler":"handleSubmitRequest"}`}, producer.sent)

	tasks, err := store.Outbox().GetProcessable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks, "delivered tasks must not be re-fetched")
}

func TestProcessBatchRecordsFailure(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPublisher(t, nil)

	task := &repository.OutboxTask{Payload: []byte(`{}`), Topic: "library_audit"}
	require.NoError(t, store.Outbox().Create(ctx, task))

	producer := &fakeProducer{failOn: map[string]error{task.ID.String(): errors.New("broker down")}}
	p.producer = producer

	require.NoError(t, p.processBatch(ctx))

	tasks, err := store.Outbox().GetProcessable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "failed task stays processable")
	assert.Equal(t, repository.TaskStatusFailed, tasks[0].Status)
	assert.Equal(t, 1, tasks[0].Attempts)
	require.NotNil(t, tasks[0].LastError)
	assert.Equal(t, "broker down", *tasks[0].LastError)
}

func TestProcessBatchEmptyOutbox(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeProducer{})
	assert.NoError(t, p.processBatch(context.Background()))
}

func TestPublisherRunAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer := &fakeProducer{}
	p, store := newTestPublisher(t, producer)

	task := &repository.OutboxTask{Payload: []byte(`{"n":1}`), Topic: "library_audit"}
	require.NoError(t, store.Outbox().Create(context.Background(), task))

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		producer.mu.Lock()
		defer producer.mu.Unlock()
		return len(producer.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	p.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
	assert.True(t, producer.closed)
}
