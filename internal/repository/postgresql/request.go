package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/openshelf/library/internal/db"
	"github.com/openshelf/library/internal/repository"
	"github.com/openshelf/library/internal/storage"
)

type RequestRepo struct {
	db db.DB
}

func NewRequestRepo(db db.DB) storage.RequestRepository {
	return &RequestRepo{db: db}
}

func (r *RequestRepo) Create(ctx context.Context, req *repository.BorrowRequest) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO requests (
            id, book_id, book_title, student_id, student_name, status, request_date, token, pickup_deadline
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, req.ID, req.BookID, req.BookTitle, req.StudentID, req.StudentName, req.Status, req.RequestDate, req.Token, req.PickupDeadline)
	return err
}

func (r *RequestRepo) GetByID(ctx context.Context, id string) (*repository.BorrowRequest, error) {
	var req repository.BorrowRequest
	err := r.db.Get(ctx, &req, "SELECT * FROM requests WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepo) List(ctx context.Context) ([]*repository.BorrowRequest, error) {
	var reqs []*repository.BorrowRequest
	err := r.db.Select(ctx, &reqs, "SELECT * FROM requests ORDER BY request_date ASC")
	return reqs, err
}

func (r *RequestRepo) ListByStudent(ctx context.Context, studentID string) ([]*repository.BorrowRequest, error) {
	var reqs []*repository.BorrowRequest
	err := r.db.Select(ctx, &reqs, "SELECT * FROM requests WHERE student_id = $1 ORDER BY request_date ASC", studentID)
	return reqs, err
}

func (r *RequestRepo) GetByIDTx(ctx context.Context, tx storage.Tx, id string) (*repository.BorrowRequest, error) {
	dbTx, err := asDBTx(tx)
	if err != nil {
		return nil, err
	}
	var req repository.BorrowRequest
	err = dbTx.Get(ctx, &req, "SELECT * FROM requests WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepo) UpdateStatusTx(ctx context.Context, tx storage.Tx, id string, status repository.RequestStatus, token *string, deadline *time.Time) error {
	dbTx, err := asDBTx(tx)
	if err != nil {
		return err
	}
	tag, err := dbTx.Exec(ctx, `
        UPDATE requests
        SET
            status = $1,
            token = COALESCE($2, token),
            pickup_deadline = COALESCE($3, pickup_deadline)
        WHERE id = $4
    `, status, token, deadline, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
