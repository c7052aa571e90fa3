// Package storage defines the persistence surface the lifecycle
// coordinator runs on. Two implementations exist: the Postgres
// repositories in internal/repository/postgresql and the in-memory
// store in this package used for dev mode and tests.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/library/internal/repository"
)

// Tx is an opaque transaction handle. Repository implementations assert
// it back to their concrete transaction type.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store bundles the repositories with transaction control. The
// coordinator opens one transaction per state transition and locks the
// involved rows through the *Tx repository methods.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
	Books() BookRepository
	Users() UserRepository
	Requests() RequestRepository
	Outbox() OutboxTaskRepository
}

type BookRepository interface {
	Create(ctx context.Context, book *repository.Book) error
	GetByID(ctx context.Context, id string) (*repository.Book, error)
	List(ctx context.Context) ([]*repository.Book, error)
	Update(ctx context.Context, book *repository.Book) error
	Delete(ctx context.Context, id string) error

	// GetByIDTx reads the book under a row lock held until tx ends.
	GetByIDTx(ctx context.Context, tx Tx, id string) (*repository.Book, error)
	UpdateTx(ctx context.Context, tx Tx, book *repository.Book) error
}

type UserRepository interface {
	Create(ctx context.Context, user *repository.User) error
	GetByID(ctx context.Context, id string) (*repository.User, error)
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
	List(ctx context.Context) ([]*repository.User, error)

	GetByIDTx(ctx context.Context, tx Tx, id string) (*repository.User, error)
	// UpdateBorrowedAndHistoryTx replaces both lists in one statement;
	// they are only ever mutated together by the coordinator.
	UpdateBorrowedAndHistoryTx(ctx context.Context, tx Tx, id string, borrowed repository.BorrowRecords, history repository.HistoryRecords) error
}

type RequestRepository interface {
	Create(ctx context.Context, req *repository.BorrowRequest) error
	GetByID(ctx context.Context, id string) (*repository.BorrowRequest, error)
	List(ctx context.Context) ([]*repository.BorrowRequest, error)
	ListByStudent(ctx context.Context, studentID string) ([]*repository.BorrowRequest, error)

	GetByIDTx(ctx context.Context, tx Tx, id string) (*repository.BorrowRequest, error)
	// UpdateStatusTx sets the status and, on approval, the token and
	// pickup deadline. Nil token/deadline leave the columns untouched.
	UpdateStatusTx(ctx context.Context, tx Tx, id string, status repository.RequestStatus, token *string, deadline *time.Time) error
}

type OutboxTaskRepository interface {
	Create(ctx context.Context, task *repository.OutboxTask) error
	GetProcessable(ctx context.Context, limit int) ([]*repository.OutboxTask, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
	UpdateStatusTx(ctx context.Context, tx Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
}
