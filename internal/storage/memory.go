package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openshelf/library/internal/repository"
)

// MemoryStore keeps all records in process memory, optionally mirrored
// to a JSON snapshot file. One mutex serializes every access, so a
// transaction holds exclusive ownership of the data for its whole
// lifetime; Rollback restores a deep copy taken at BeginTx. That gives
// the coordinator the same all-or-nothing and mutual-exclusion
// guarantees the Postgres store gets from row locks.
type MemoryStore struct {
	mu       sync.Mutex
	data     *memoryData
	filePath string
}

type memoryData struct {
	Books    map[string]*repository.Book          `json:"books"`
	Users    map[string]*repository.User          `json:"users"`
	Requests map[string]*repository.BorrowRequest `json:"requests"`
	Tasks    map[string]*repository.OutboxTask    `json:"outbox_tasks"`
}

func newMemoryData() *memoryData {
	return &memoryData{
		Books:    make(map[string]*repository.Book),
		Users:    make(map[string]*repository.User),
		Requests: make(map[string]*repository.BorrowRequest),
		Tasks:    make(map[string]*repository.OutboxTask),
	}
}

// NewMemoryStore builds a store backed by filePath. An empty path keeps
// everything in memory only.
func NewMemoryStore(filePath string) (*MemoryStore, error) {
	s := &MemoryStore{
		data:     newMemoryData(),
		filePath: filePath,
	}
	if filePath != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read data file %s: %w", s.filePath, err)
	}
	data := newMemoryData()
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("failed to parse data file %s: %w", s.filePath, err)
	}
	s.data = data
	return nil
}

// persist is called with the mutex held.
func (s *MemoryStore) persist() {
	if s.filePath == "" {
		return
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		zap.L().Error("failed to marshal memory store snapshot", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.filePath, raw, 0o644); err != nil {
		zap.L().Error("failed to write memory store snapshot", zap.Error(err))
	}
}

func (s *MemoryStore) snapshot() *memoryData {
	snap := newMemoryData()
	for id, b := range s.data.Books {
		snap.Books[id] = cloneBook(b)
	}
	for id, u := range s.data.Users {
		snap.Users[id] = cloneUser(u)
	}
	for id, r := range s.data.Requests {
		snap.Requests[id] = cloneRequest(r)
	}
	for id, t := range s.data.Tasks {
		snap.Tasks[id] = cloneTask(t)
	}
	return snap
}

func cloneBook(b *repository.Book) *repository.Book {
	cp := *b
	return &cp
}

func cloneUser(u *repository.User) *repository.User {
	cp := *u
	cp.Borrowed = append(repository.BorrowRecords{}, u.Borrowed...)
	cp.History = append(repository.HistoryRecords{}, u.History...)
	return &cp
}

func cloneRequest(r *repository.BorrowRequest) *repository.BorrowRequest {
	cp := *r
	if r.Token != nil {
		token := *r.Token
		cp.Token = &token
	}
	if r.PickupDeadline != nil {
		deadline := *r.PickupDeadline
		cp.PickupDeadline = &deadline
	}
	return &cp
}

func cloneTask(t *repository.OutboxTask) *repository.OutboxTask {
	cp := *t
	cp.Payload = append(json.RawMessage{}, t.Payload...)
	if t.LastError != nil {
		le := *t.LastError
		cp.LastError = &le
	}
	if t.CompletedAt != nil {
		ca := *t.CompletedAt
		cp.CompletedAt = &ca
	}
	return &cp
}

type memoryTx struct {
	store *MemoryStore
	prev  *memoryData
	done  bool
}

func (s *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memoryTx{store: s, prev: s.snapshot()}, nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.store.persist()
	t.store.mu.Unlock()
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.data = t.prev
	t.store.mu.Unlock()
	return nil
}

// asMemoryTx guards repository methods against transactions from a
// different store implementation.
func (s *MemoryStore) asMemoryTx(tx Tx) (*memoryTx, error) {
	mt, ok := tx.(*memoryTx)
	if !ok || mt.store != s {
		return nil, fmt.Errorf("unsupported transaction type: %T", tx)
	}
	return mt, nil
}

func (s *MemoryStore) Books() BookRepository        { return memBooks{s} }
func (s *MemoryStore) Users() UserRepository        { return memUsers{s} }
func (s *MemoryStore) Requests() RequestRepository  { return memRequests{s} }
func (s *MemoryStore) Outbox() OutboxTaskRepository { return memTasks{s} }

type memBooks struct{ s *MemoryStore }

func (r memBooks) Create(ctx context.Context, book *repository.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.data.Books[book.ID]; exists {
		return repository.ErrConflict
	}
	r.s.data.Books[book.ID] = cloneBook(book)
	r.s.persist()
	return nil
}

func (r memBooks) GetByID(ctx context.Context, id string) (*repository.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	book, ok := r.s.data.Books[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return cloneBook(book), nil
}

func (r memBooks) List(ctx context.Context) ([]*repository.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	books := make([]*repository.Book, 0, len(r.s.data.Books))
	for _, b := range r.s.data.Books {
		books = append(books, cloneBook(b))
	}
	sort.Slice(books, func(i, j int) bool { return books[i].Title < books[j].Title })
	return books, nil
}

func (r memBooks) Update(ctx context.Context, book *repository.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.Books[book.ID]; !ok {
		return repository.ErrObjectNotFound
	}
	r.s.data.Books[book.ID] = cloneBook(book)
	r.s.persist()
	return nil
}

func (r memBooks) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.Books[id]; !ok {
		return repository.ErrObjectNotFound
	}
	delete(r.s.data.Books, id)
	r.s.persist()
	return nil
}

func (r memBooks) GetByIDTx(ctx context.Context, tx Tx, id string) (*repository.Book, error) {
	if _, err := r.s.asMemoryTx(tx); err != nil {
		return nil, err
	}
	book, ok := r.s.data.Books[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return cloneBook(book), nil
}

func (r memBooks) UpdateTx(ctx context.Context, tx Tx, book *repository.Book) error {
	if _, err := r.s.asMemoryTx(tx); err != nil {
		return err
	}
	if _, ok := r.s.data.Books[book.ID]; !ok {
		return repository.ErrObjectNotFound
	}
	r.s.data.Books[book.ID] = cloneBook(book)
	return nil
}

type memUsers struct{ s *MemoryStore }

func (r memUsers) Create(ctx context.Context, user *repository.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.Users {
		if existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	r.s.data.Users[user.ID] = cloneUser(user)
	r.s.persist()
	return nil
}

func (r memUsers) GetByID(ctx context.Context, id string) (*repository.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.data.Users[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return cloneUser(user), nil
}

func (r memUsers) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.data.Users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return nil, repository.ErrObjectNotFound
}

func (r memUsers) List(ctx context.Context) ([]*repository.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := make([]*repository.User, 0, len(r.s.data.Users))
	for _, u := range r.s.data.Users {
		users = append(users, cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (r memUsers) GetByIDTx(ctx context.Context, tx Tx, id string) (*repository.User, error) {
	if _, err := r.s.asMemoryTx(tx); err != nil {
		return nil, err
	}
	user, ok := r.s.data.Users[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return cloneUser(user), nil
}

func (r memUsers) UpdateBorrowedAndHistoryTx(ctx context.Context, tx Tx, id string, borrowed repository.BorrowRecords, history repository.HistoryRecords) error {
	if _, err := r.s.asMemoryTx(tx); err != nil {
		return err
	}
	user, ok := r.s.data.Users[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	user.Borrowed = append(repository.BorrowRecords{}, borrowed...)
	user.History = append(repository.HistoryRecords{}, history...)
	return nil
}

type memRequests struct{ s *MemoryStore }

func (r memRequests) Create(ctx context.Context, req *repository.BorrowRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.data.Requests[req.ID]; exists {
		return repository.ErrConflict
	}
	r.s.data.Requests[req.ID] = cloneRequest(req)
	r.s.persist()
	return nil
}

func (r memRequests) GetByID(ctx context.Context, id string) (*repository.BorrowRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.data.Requests[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return cloneRequest(req), nil
}

func (r memRequests) List(ctx context.Context) ([]*repository.BorrowRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.collect(func(*repository.BorrowRequest) bool { return true }), nil
}

func (r memRequests) ListByStudent(ctx context.Context, studentID string) ([]*repository.BorrowRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.collect(func(req *repository.BorrowRequest) bool { return req.StudentID == studentID }), nil
}

// collect is called with the mutex held.
func (r memRequests) collect(match func(*repository.BorrowRequest) bool) []*repository.BorrowRequest {
	reqs := make([]*repository.BorrowRequest, 0)
	for _, req := range r.s.data.Requests {
		if match(req) {
			reqs = append(reqs, cloneRequest(req))
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].RequestDate.Equal(reqs[j].RequestDate) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].RequestDate.Before(reqs[j].RequestDate)
	})
	return reqs
}

func (r memRequests) GetByIDTx(ctx context.Context, tx Tx, id string) (*repository.BorrowRequest, error) {
	if _, err := r.s.asMemoryTx(tx); err != nil {
		return nil, err
	}
	req, ok := r.s.data.Requests[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return cloneRequest(req), nil
}

func (r memRequests) UpdateStatusTx(ctx context.Context, tx Tx, id string, status repository.RequestStatus, token *string, deadline *time.Time) error {
	if _, err := r.s.asMemoryTx(tx); err != nil {
		return err
	}
	req, ok := r.s.data.Requests[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	req.Status = status
	if token != nil {
		t := *token
		req.Token = &t
	}
	if deadline != nil {
		d := *deadline
		req.PickupDeadline = &d
	}
	return nil
}

type memTasks struct{ s *MemoryStore }

func (r memTasks) Create(ctx context.Context, task *repository.OutboxTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now().UTC()
	task.Status = repository.TaskStatusCreated
	task.CreatedAt = now
	task.UpdatedAt = now
	r.s.data.Tasks[task.ID.String()] = cloneTask(task)
	return nil
}

func (r memTasks) GetProcessable(ctx context.Context, limit int) ([]*repository.OutboxTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tasks := make([]*repository.OutboxTask, 0)
	for _, t := range r.s.data.Tasks {
		if t.Status == repository.TaskStatusCreated ||
			(t.Status == repository.TaskStatusFailed && t.Attempts < 5) {
			tasks = append(tasks, cloneTask(t))
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].UpdatedAt.Before(tasks[j].UpdatedAt) })
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (r memTasks) UpdateStatus(ctx context.Context, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.update(id, status, attempts, lastError, completedAt)
}

func (r memTasks) UpdateStatusTx(ctx context.Context, tx Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	if _, err := r.s.asMemoryTx(tx); err != nil {
		return err
	}
	return r.update(id, status, attempts, lastError, completedAt)
}

// update is called with the mutex held.
func (r memTasks) update(id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	task, ok := r.s.data.Tasks[id.String()]
	if !ok {
		return repository.ErrObjectNotFound
	}
	task.Status = status
	task.Attempts = attempts
	task.LastError = lastError
	task.CompletedAt = completedAt
	task.UpdatedAt = time.Now().UTC()
	return nil
}
