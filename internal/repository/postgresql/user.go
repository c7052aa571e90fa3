package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/openshelf/library/internal/db"
	"github.com/openshelf/library/internal/repository"
	"github.com/openshelf/library/internal/storage"
)

type UserRepo struct {
	db db.DB
}

func NewUserRepo(db db.DB) storage.UserRepository {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, user *repository.User) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO users (id, name, email, password_hash, role, borrowed, history)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.Borrowed, user.History)
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	var user repository.User
	err := r.db.Get(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	var user repository.User
	err := r.db.Get(ctx, &user, "SELECT * FROM users WHERE email = $1", email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepo) List(ctx context.Context) ([]*repository.User, error) {
	var users []*repository.User
	err := r.db.Select(ctx, &users, "SELECT * FROM users ORDER BY name ASC")
	return users, err
}

func (r *UserRepo) GetByIDTx(ctx context.Context, tx storage.Tx, id string) (*repository.User, error) {
	dbTx, err := asDBTx(tx)
	if err != nil {
		return nil, err
	}
	var user repository.User
	err = dbTx.Get(ctx, &user, "SELECT * FROM users WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepo) UpdateBorrowedAndHistoryTx(ctx context.Context, tx storage.Tx, id string, borrowed repository.BorrowRecords, history repository.HistoryRecords) error {
	dbTx, err := asDBTx(tx)
	if err != nil {
		return err
	}
	tag, err := dbTx.Exec(ctx, `
        UPDATE users
        SET borrowed = $1, history = $2
        WHERE id = $3
    `, borrowed, history, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
