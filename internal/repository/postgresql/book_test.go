package postgresql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	mock_database "github.com/openshelf/library/internal/db/mocks"
	"github.com/openshelf/library/internal/repository"
	"github.com/openshelf/library/internal/repository/postgresql"
)

func TestBookRepo_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		testBook := &repository.Book{
			ID:              "book-123",
			Title:           "Dune",
			Author:          "Frank Herbert",
			Genre:           "Science Fiction",
			Year:            1965,
			TotalCopies:     3,
			AvailableCopies: 3,
			Cover:           "https://covers.openlibrary.org/b/id/123-S.jpg",
			ISBN:            "9780441013593",
		}

		mockDB.EXPECT().Exec(
			gomock.Any(),
			gomock.Any(),
			gomock.Eq(testBook.ID),
			gomock.Eq(testBook.Title),
			gomock.Eq(testBook.Author),
			gomock.Eq(testBook.Genre),
			gomock.Eq(testBook.Year),
			gomock.Eq(testBook.TotalCopies),
			gomock.Eq(testBook.AvailableCopies),
			gomock.Eq(testBook.Cover),
			gomock.Eq(testBook.ISBN),
			gomock.Eq(testBook.Description),
		).Return(nil, nil)

		err := repo.Create(ctx, testBook)
		assert.NoError(t, err)
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		expectedErr := errors.New("database error")

		mockDB.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, expectedErr)

		err := repo.Create(ctx, &repository.Book{ID: "book-123"})
		assert.Equal(t, expectedErr, err)
	})
}

func TestBookRepo_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("book found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		testBook := &repository.Book{
			ID:              "book-123",
			Title:           "Dune",
			Author:          "Frank Herbert",
			TotalCopies:     3,
			AvailableCopies: 2,
		}

		mockDB.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(testBook.ID)).
			DoAndReturn(func(_ context.Context, dest *repository.Book, _ string, _ string) error {
				*dest = *testBook
				return nil
			})

		book, err := repo.GetByID(ctx, testBook.ID)
		assert.NoError(t, err)
		assert.Equal(t, testBook, book)
	})

	t.Run("book not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		mockDB.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgx.ErrNoRows)

		book, err := repo.GetByID(ctx, "non-existent-id")
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
		assert.Nil(t, book)
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		expectedErr := errors.New("database error")
		mockDB.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(expectedErr)

		book, err := repo.GetByID(ctx, "book-123")
		assert.Equal(t, expectedErr, err)
		assert.Nil(t, book)
	})
}

func TestBookRepo_List(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		testBooks := []*repository.Book{
			{ID: "book-1", Title: "Anathem"},
			{ID: "book-2", Title: "Dune"},
		}

		mockDB.EXPECT().Select(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, dest *[]*repository.Book, _ string, _ ...interface{}) error {
				*dest = testBooks
				return nil
			})

		books, err := repo.List(ctx)
		assert.NoError(t, err)
		assert.Equal(t, testBooks, books)
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		expectedErr := errors.New("database error")
		mockDB.EXPECT().Select(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(expectedErr)

		_, err := repo.List(ctx)
		assert.Equal(t, expectedErr, err)
	})
}

func TestBookRepo_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		testBook := &repository.Book{
			ID:              "book-123",
			Title:           "Dune",
			Author:          "Frank Herbert",
			TotalCopies:     5,
			AvailableCopies: 4,
		}

		mockDB.EXPECT().Exec(
			gomock.Any(),
			gomock.Any(),
			gomock.Eq(testBook.Title),
			gomock.Eq(testBook.Author),
			gomock.Eq(testBook.Genre),
			gomock.Eq(testBook.Year),
			gomock.Eq(testBook.TotalCopies),
			gomock.Eq(testBook.AvailableCopies),
			gomock.Eq(testBook.Cover),
			gomock.Eq(testBook.ISBN),
			gomock.Eq(testBook.Description),
			gomock.Eq(testBook.ID),
		).Return(pgconn.CommandTag("UPDATE 1"), nil)

		err := repo.Update(ctx, testBook)
		assert.NoError(t, err)
	})

	t.Run("book not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		mockDB.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgconn.CommandTag("UPDATE 0"), nil)

		err := repo.Update(ctx, &repository.Book{ID: "non-existent-id"})
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})
}

func TestBookRepo_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		mockDB.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Eq("book-123")).
			Return(pgconn.CommandTag("DELETE 1"), nil)

		err := repo.Delete(ctx, "book-123")
		assert.NoError(t, err)
	})

	t.Run("book not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		mockDB.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Eq("non-existent-id")).
			Return(pgconn.CommandTag("DELETE 0"), nil)

		err := repo.Delete(ctx, "non-existent-id")
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})
}

func TestBookRepo_GetByIDTx(t *testing.T) {
	ctx := context.Background()

	t.Run("locks and returns the row", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		testBook := &repository.Book{ID: "book-123", Title: "Dune", AvailableCopies: 1}

		mockTx.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(testBook.ID)).
			DoAndReturn(func(_ context.Context, dest *repository.Book, query string, _ string) error {
				assert.Contains(t, query, "FOR UPDATE")
				*dest = *testBook
				return nil
			})

		book, err := repo.GetByIDTx(ctx, mockTx, testBook.ID)
		assert.NoError(t, err)
		assert.Equal(t, testBook, book)
	})

	t.Run("rejects a foreign transaction type", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		_, err := repo.GetByIDTx(ctx, nil, "book-123")
		assert.Error(t, err)
	})
}

func TestBookRepo_UpdateTx(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewBookRepo(mockDB)

		testBook := &repository.Book{ID: "book-123", Title: "Dune", TotalCopies: 3, AvailableCopies: 2}

		mockTx.EXPECT().Exec(
			gomock.Any(),
			gomock.Any(),
			gomock.Eq(testBook.Title),
			gomock.Eq(testBook.Author),
			gomock.Eq(testBook.Genre),
			gomock.Eq(testBook.Year),
			gomock.Eq(testBook.TotalCopies),
			gomock.Eq(testBook.AvailableCopies),
			gomock.Eq(testBook.Cover),
			gomock.Eq(testBook.ISBN),
			gomock.Eq(testBook.Description),
			gomock.Eq(testBook.ID),
		).Return(pgconn.CommandTag("UPDATE 1"), nil)

		err := repo.UpdateTx(ctx, mockTx, testBook)
		assert.NoError(t, err)
	})
}
