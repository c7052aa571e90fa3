package postgresql

import (
	"context"
	"fmt"

	"github.com/openshelf/library/internal/db"
	"github.com/openshelf/library/internal/storage"
)

// Store wires the Postgres repositories into the storage.Store surface.
type Store struct {
	db       db.DB
	books    storage.BookRepository
	users    storage.UserRepository
	requests storage.RequestRepository
	outbox   storage.OutboxTaskRepository
}

func NewStore(database db.DB) *Store {
	return &Store{
		db:       database,
		books:    NewBookRepo(database),
		users:    NewUserRepo(database),
		requests: NewRequestRepo(database),
		outbox:   NewOutboxTaskRepo(database),
	}
}

func (s *Store) BeginTx(ctx context.Context) (storage.Tx, error) {
	return s.db.BeginTx(ctx)
}

func (s *Store) Books() storage.BookRepository        { return s.books }
func (s *Store) Users() storage.UserRepository        { return s.users }
func (s *Store) Requests() storage.RequestRepository  { return s.requests }
func (s *Store) Outbox() storage.OutboxTaskRepository { return s.outbox }

// asDBTx unwraps the opaque storage transaction back into the pgx-backed
// one. Mixing transactions from another store is a programming error.
func asDBTx(tx storage.Tx) (db.Tx, error) {
	dbTx, ok := tx.(db.Tx)
	if !ok {
		return nil, fmt.Errorf("unsupported transaction type: %T", tx)
	}
	return dbTx, nil
}
