package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"

	"github.com/openshelf/library/internal/db"
	"github.com/openshelf/library/internal/repository"
	"github.com/openshelf/library/internal/storage"
)

const maxProcessableAttempts = 5

type OutboxTaskRepo struct {
	db db.DB
}

func NewOutboxTaskRepo(db db.DB) storage.OutboxTaskRepository {
	return &OutboxTaskRepo{db: db}
}

func (r *OutboxTaskRepo) Create(ctx context.Context, task *repository.OutboxTask) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `
        INSERT INTO outbox_tasks (id, status, payload, topic, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, task.ID, repository.TaskStatusCreated, task.Payload, task.Topic, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox task: %w", err)
	}
	return nil
}

func (r *OutboxTaskRepo) GetProcessable(ctx context.Context, limit int) ([]*repository.OutboxTask, error) {
	query := `
        SELECT id, status, payload, topic, attempts, last_error, created_at, updated_at, completed_at
        FROM outbox_tasks
        WHERE status = $1 OR (status = $2 AND attempts < $3)
        ORDER BY updated_at ASC
        LIMIT $4
        FOR UPDATE SKIP LOCKED
    `
	var tasks []*repository.OutboxTask
	err := r.db.Select(ctx, &tasks, query, repository.TaskStatusCreated, repository.TaskStatusFailed, maxProcessableAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get processable outbox tasks: %w", err)
	}
	return tasks, nil
}

func (r *OutboxTaskRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	tag, err := r.db.Exec(ctx, updateTaskStatusQuery, id, status, attempts, lastError, completedAt, time.Now().UTC())
	return checkTaskUpdate(tag, err, id)
}

func (r *OutboxTaskRepo) UpdateStatusTx(ctx context.Context, tx storage.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	dbTx, err := asDBTx(tx)
	if err != nil {
		return err
	}
	tag, err := dbTx.Exec(ctx, updateTaskStatusQuery, id, status, attempts, lastError, completedAt, time.Now().UTC())
	return checkTaskUpdate(tag, err, id)
}

const updateTaskStatusQuery = `
    UPDATE outbox_tasks
    SET
        status = $2,
        attempts = $3,
        last_error = $4,
        completed_at = $5,
        updated_at = $6
    WHERE id = $1
`

func checkTaskUpdate(tag pgconn.CommandTag, err error, id uuid.UUID) error {
	if err != nil {
		return fmt.Errorf("failed to update outbox task status for id %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
