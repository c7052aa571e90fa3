package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/openshelf/library/internal/db"
	"github.com/openshelf/library/internal/repository"
	"github.com/openshelf/library/internal/storage"
)

type BookRepo struct {
	db db.DB
}

func NewBookRepo(db db.DB) storage.BookRepository {
	return &BookRepo{db: db}
}

func (r *BookRepo) Create(ctx context.Context, book *repository.Book) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO books (
            id, title, author, genre, year, total_copies, available_copies, cover, isbn, description
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, book.ID, book.Title, book.Author, book.Genre, book.Year, book.TotalCopies, book.AvailableCopies, book.Cover, book.ISBN, book.Description)
	return err
}

func (r *BookRepo) GetByID(ctx context.Context, id string) (*repository.Book, error) {
	var book repository.Book
	err := r.db.Get(ctx, &book, "SELECT * FROM books WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &book, nil
}

func (r *BookRepo) List(ctx context.Context) ([]*repository.Book, error) {
	var books []*repository.Book
	err := r.db.Select(ctx, &books, "SELECT * FROM books ORDER BY title ASC")
	return books, err
}

func (r *BookRepo) Update(ctx context.Context, book *repository.Book) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE books
        SET
            title = $1,
            author = $2,
            genre = $3,
            year = $4,
            total_copies = $5,
            available_copies = $6,
            cover = $7,
            isbn = $8,
            description = $9
        WHERE id = $10
    `, book.Title, book.Author, book.Genre, book.Year, book.TotalCopies, book.AvailableCopies, book.Cover, book.ISBN, book.Description, book.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *BookRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM books WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *BookRepo) GetByIDTx(ctx context.Context, tx storage.Tx, id string) (*repository.Book, error) {
	dbTx, err := asDBTx(tx)
	if err != nil {
		return nil, err
	}
	var book repository.Book
	err = dbTx.Get(ctx, &book, "SELECT * FROM books WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &book, nil
}

func (r *BookRepo) UpdateTx(ctx context.Context, tx storage.Tx, book *repository.Book) error {
	dbTx, err := asDBTx(tx)
	if err != nil {
		return err
	}
	tag, err := dbTx.Exec(ctx, `
        UPDATE books
        SET
            title = $1,
            author = $2,
            genre = $3,
            year = $4,
            total_copies = $5,
            available_copies = $6,
            cover = $7,
            isbn = $8,
            description = $9
        WHERE id = $10
    `, book.Title, book.Author, book.Genre, book.Year, book.TotalCopies, book.AvailableCopies, book.Cover, book.ISBN, book.Description, book.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
