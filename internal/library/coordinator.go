// Package library implements the borrow-request lifecycle: the state
// machine every request walks through and the inventory/identity
// bookkeeping attached to each transition.
package library

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openshelf/library/internal/cache"
	"github.com/openshelf/library/internal/covers"
	"github.com/openshelf/library/internal/metrics"
	"github.com/openshelf/library/internal/realtime"
	"github.com/openshelf/library/internal/repository"
	"github.com/openshelf/library/internal/storage"
)

const (
	// pickupGraceWindow is how long an approved request stays claimable.
	// The deadline is advisory: nothing expires the request when it
	// passes, the admin simply sees it is overdue.
	pickupGraceWindow = 72 * time.Hour

	// borrowPeriod sets the due date stamped on checkout.
	borrowPeriod = 14 * 24 * time.Hour
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Emitter is the realtime fan-out surface the coordinator notifies
// after each committed transition. Emits are advisory and never roll
// back state.
type Emitter interface {
	Broadcast(ev realtime.Event)
	EmitToAdmins(ev realtime.Event)
	EmitToStudent(studentID string, ev realtime.Event)
}

// Coordinator is the only writer allowed to touch availableCopies,
// borrowed/history lists and request status together. Every transition
// runs in one store transaction with rows locked in the fixed order
// request -> book -> user, and writes applied in the order
// inventory -> identity -> ledger.
type Coordinator struct {
	store   storage.Store
	emitter Emitter
	covers  covers.Resolver
	books   *cache.BookCache
	logger  *zap.Logger

	now     func() time.Time
	tokenFn func() string
}

func New(store storage.Store, emitter Emitter, resolver covers.Resolver, bookCache *cache.BookCache, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		emitter: emitter,
		covers:  resolver,
		books:   bookCache,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		tokenFn: newPickupToken,
	}
}

// newPickupToken generates the 6-digit code a student presents at the
// desk. Tokens are scoped to a single request, so global uniqueness is
// not required.
func newPickupToken() string {
	return fmt.Sprintf("%06d", 100000+rand.Intn(900000))
}

// ---------------------------------------------------------------------
// Identity

func (c *Coordinator) Register(ctx context.Context, name, email, password string, role repository.Role) (*repository.User, error) {
	if name == "" || !emailRegex.MatchString(email) {
		return nil, fmt.Errorf("invalid name or email format: %w", repository.ErrInvalidArgument)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("password must be at least 6 characters long: %w", repository.ErrInvalidArgument)
	}
	if role == "" {
		role = repository.RoleStudent
	}
	if role != repository.RoleStudent && role != repository.RoleAdmin {
		return nil, fmt.Errorf("unknown role %q: %w", role, repository.ErrInvalidArgument)
	}

	if _, err := c.store.Users().GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("user already exists: %w", repository.ErrConflict)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &repository.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Borrowed:     repository.BorrowRecords{},
		History:      repository.HistoryRecords{},
	}
	if err := c.store.Users().Create(ctx, user); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("register").Inc()
		return nil, err
	}

	c.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

func (c *Coordinator) Login(ctx context.Context, email, password string, role repository.Role) (*repository.User, error) {
	user, err := c.store.Users().GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", repository.ErrInvalidArgument)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", repository.ErrInvalidArgument)
	}
	if user.Role != role {
		return nil, fmt.Errorf("you are trying to login as %s, but your account is registered as %s: %w",
			role, user.Role, repository.ErrInvalidArgument)
	}
	return user, nil
}

func (c *Coordinator) ListUsers(ctx context.Context) ([]*repository.User, error) {
	return c.store.Users().List(ctx)
}

func (c *Coordinator) GetUser(ctx context.Context, id string) (*repository.User, error) {
	return c.store.Users().GetByID(ctx, id)
}

// ---------------------------------------------------------------------
// Inventory

func (c *Coordinator) ListBooks(ctx context.Context) ([]*repository.Book, error) {
	if books, ok := c.books.List(); ok {
		return books, nil
	}
	return c.store.Books().List(ctx)
}

func (c *Coordinator) GetBook(ctx context.Context, id string) (*repository.Book, error) {
	if book, ok := c.books.Get(id); ok {
		return book, nil
	}
	return c.store.Books().GetByID(ctx, id)
}

func (c *Coordinator) AddBook(ctx context.Context, book *repository.Book) (*repository.Book, error) {
	if book.Title == "" || book.Author == "" {
		return nil, fmt.Errorf("title and author are required: %w", repository.ErrInvalidArgument)
	}
	if book.TotalCopies < 0 || book.AvailableCopies < 0 {
		return nil, fmt.Errorf("copy counts must not be negative: %w", repository.ErrInvalidArgument)
	}
	if book.TotalCopies == 0 {
		book.TotalCopies = 1
	}
	if book.AvailableCopies == 0 {
		book.AvailableCopies = book.TotalCopies
	}
	if book.AvailableCopies > book.TotalCopies {
		return nil, fmt.Errorf("available copies exceed total: %w", repository.ErrInvalidArgument)
	}

	if book.Cover == "" {
		book.Cover = c.covers.ResolveByISBN(ctx, book.ISBN)
	}

	book.ID = uuid.New().String()
	if err := c.store.Books().Create(ctx, book); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("add_book").Inc()
		return nil, err
	}
	c.books.Set(book)

	c.emitter.Broadcast(realtime.Event{
		Name: realtime.EventBookAdded,
		Data: map[string]interface{}{
			"message": fmt.Sprintf("New book %q has been added.", book.Title),
			"book":    book,
		},
	})
	c.logger.Info("book added", zap.String("book_id", book.ID), zap.String("title", book.Title))
	return book, nil
}

// UpdateBook edits catalogue metadata. Copy counts are changed through
// SetStock only, so concurrent checkouts cannot be overwritten here.
func (c *Coordinator) UpdateBook(ctx context.Context, book *repository.Book) (*repository.Book, error) {
	if book.Title == "" || book.Author == "" {
		return nil, fmt.Errorf("title and author are required: %w", repository.ErrInvalidArgument)
	}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := c.store.Books().GetByIDTx(ctx, tx, book.ID)
	if err != nil {
		return nil, err
	}
	current.Title = book.Title
	current.Author = book.Author
	current.Genre = book.Genre
	current.Year = book.Year
	current.Cover = book.Cover
	current.ISBN = book.ISBN
	current.Description = book.Description

	if err := c.store.Books().UpdateTx(ctx, tx, current); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("update_book").Inc()
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	c.books.Set(current)

	c.emitter.Broadcast(realtime.Event{
		Name: realtime.EventBookUpdated,
		Data: map[string]interface{}{
			"message": fmt.Sprintf("Book %q has been updated.", current.Title),
			"book":    current,
		},
	})
	return current, nil
}

func (c *Coordinator) RemoveBook(ctx context.Context, id string) error {
	if err := c.store.Books().Delete(ctx, id); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("remove_book").Inc()
		return err
	}
	c.books.Delete(id)

	c.emitter.Broadcast(realtime.Event{
		Name: realtime.EventBookRemoved,
		Data: map[string]interface{}{
			"message": "A book has been removed from the library.",
			"bookId":  id,
		},
	})
	c.logger.Info("book removed", zap.String("book_id", id))
	return nil
}

// SetStock is the admin stock edit. It shares the availability
// invariant with the lifecycle but sits outside the request state
// machine.
func (c *Coordinator) SetStock(ctx context.Context, bookID string, available, total int) (*repository.Book, error) {
	if available < 0 || total < 0 {
		return nil, fmt.Errorf("copy counts must not be negative: %w", repository.ErrInvalidArgument)
	}
	if available > total {
		return nil, fmt.Errorf("available copies exceed total: %w", repository.ErrInvalidArgument)
	}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := c.store.Books().GetByIDTx(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}
	book.AvailableCopies = available
	book.TotalCopies = total

	if err := c.store.Books().UpdateTx(ctx, tx, book); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("set_stock").Inc()
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	c.books.Set(book)

	c.emitter.Broadcast(realtime.Event{
		Name: realtime.EventBookUpdated,
		Data: map[string]interface{}{
			"message": fmt.Sprintf("Book %q has been updated.", book.Title),
			"book":    book,
		},
	})
	return book, nil
}

// ---------------------------------------------------------------------
// Ledger reads

// ListRequests returns every request, or only one student's when
// studentID is non-empty.
func (c *Coordinator) ListRequests(ctx context.Context, studentID string) ([]*repository.BorrowRequest, error) {
	if studentID == "" {
		return c.store.Requests().List(ctx)
	}
	return c.store.Requests().ListByStudent(ctx, studentID)
}

// ---------------------------------------------------------------------
// Lifecycle transitions

// Submit creates a pending request. Availability is only checked, not
// reserved: copies are committed at checkout, so several students may
// hold pending requests for the last copy of a title.
func (c *Coordinator) Submit(ctx context.Context, bookID, studentID string) (*repository.BorrowRequest, error) {
	book, err := c.store.Books().GetByID(ctx, bookID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("submit").Inc()
		return nil, fmt.Errorf("book %s: %w", bookID, err)
	}
	if book.AvailableCopies <= 0 {
		metrics.OperationErrorsTotal.WithLabelValues("submit").Inc()
		return nil, fmt.Errorf("book %q: %w", book.Title, repository.ErrUnavailable)
	}

	student, err := c.store.Users().GetByID(ctx, studentID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("submit").Inc()
		return nil, fmt.Errorf("student %s: %w", studentID, err)
	}
	for _, rec := range student.Borrowed {
		if rec.BookID == bookID {
			metrics.OperationErrorsTotal.WithLabelValues("submit").Inc()
			return nil, fmt.Errorf("book %q already borrowed by %s: %w", book.Title, student.Name, repository.ErrConflict)
		}
	}

	req := &repository.BorrowRequest{
		ID:          uuid.New().String(),
		BookID:      bookID,
		BookTitle:   book.Title,
		StudentID:   studentID,
		StudentName: student.Name,
		Status:      repository.StatusPending,
		RequestDate: c.now(),
	}
	if err := c.store.Requests().Create(ctx, req); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("submit").Inc()
		return nil, err
	}
	metrics.RequestsSubmittedTotal.Inc()

	c.emitter.EmitToAdmins(realtime.Event{
		Name: realtime.EventRequestCreated,
		Data: map[string]interface{}{
			"message": fmt.Sprintf("New book borrow request from %s for %q.", student.Name, book.Title),
			"request": req,
		},
	})
	c.logger.Info("request submitted",
		zap.String("request_id", req.ID),
		zap.String("book_id", bookID),
		zap.String("student_id", studentID))
	return req, nil
}

// Approve moves pending -> approved and stamps the pickup token and
// deadline. Both are immutable afterwards.
func (c *Coordinator) Approve(ctx context.Context, requestID string) (*repository.BorrowRequest, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := c.store.Requests().GetByIDTx(ctx, tx, requestID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("approve").Inc()
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	if req.Status != repository.StatusPending {
		metrics.OperationErrorsTotal.WithLabelValues("approve").Inc()
		return nil, fmt.Errorf("cannot approve request in status %q: %w", req.Status, repository.ErrInvalidTransition)
	}

	token := c.tokenFn()
	deadline := c.now().Add(pickupGraceWindow)
	if err := c.store.Requests().UpdateStatusTx(ctx, tx, requestID, repository.StatusApproved, &token, &deadline); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("approve").Inc()
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	req.Status = repository.StatusApproved
	req.Token = &token
	req.PickupDeadline = &deadline
	metrics.RequestsApprovedTotal.Inc()

	c.emitter.EmitToStudent(req.StudentID, realtime.Event{
		Name: realtime.EventRequestStatusChanged,
		Data: map[string]interface{}{
			"message":   fmt.Sprintf("Your book request for %q has been approved. Your pickup token is %s.", req.BookTitle, token),
			"status":    string(repository.StatusApproved),
			"token":     token,
			"studentId": req.StudentID,
		},
	})
	c.emitRequestUpdated(req)
	c.logger.Info("request approved", zap.String("request_id", requestID))
	return req, nil
}

// Reject moves pending -> rejected. No inventory change.
func (c *Coordinator) Reject(ctx context.Context, requestID string) (*repository.BorrowRequest, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := c.store.Requests().GetByIDTx(ctx, tx, requestID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("reject").Inc()
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	if req.Status != repository.StatusPending {
		metrics.OperationErrorsTotal.WithLabelValues("reject").Inc()
		return nil, fmt.Errorf("cannot reject request in status %q: %w", req.Status, repository.ErrInvalidTransition)
	}

	if err := c.store.Requests().UpdateStatusTx(ctx, tx, requestID, repository.StatusRejected, nil, nil); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("reject").Inc()
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	req.Status = repository.StatusRejected
	metrics.RequestsRejectedTotal.Inc()

	c.emitter.EmitToStudent(req.StudentID, realtime.Event{
		Name: realtime.EventRequestStatusChanged,
		Data: map[string]interface{}{
			"message":   fmt.Sprintf("Your book request for %q has been rejected.", req.BookTitle),
			"status":    string(repository.StatusRejected),
			"studentId": req.StudentID,
		},
	})
	c.emitRequestUpdated(req)
	c.logger.Info("request rejected", zap.String("request_id", requestID))
	return req, nil
}

// Checkout moves approved -> checked_out and commits one copy: the
// book's available count drops, the student's borrowed list gains a
// record with the due date, the ledger records the terminal status.
// All of it lands in one transaction or not at all.
func (c *Coordinator) Checkout(ctx context.Context, requestID string) (*repository.BorrowRequest, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := c.store.Requests().GetByIDTx(ctx, tx, requestID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("checkout").Inc()
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	if req.Status != repository.StatusApproved {
		metrics.OperationErrorsTotal.WithLabelValues("checkout").Inc()
		return nil, fmt.Errorf("cannot check out request in status %q: %w", req.Status, repository.ErrInvalidTransition)
	}

	book, err := c.store.Books().GetByIDTx(ctx, tx, req.BookID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("checkout").Inc()
		return nil, fmt.Errorf("book %s: %w", req.BookID, err)
	}
	if book.AvailableCopies <= 0 {
		// The request stays approved; the admin retries once a copy
		// comes back.
		metrics.OperationErrorsTotal.WithLabelValues("checkout").Inc()
		return nil, fmt.Errorf("book %q: %w", book.Title, repository.ErrUnavailable)
	}

	student, err := c.store.Users().GetByIDTx(ctx, tx, req.StudentID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("checkout").Inc()
		return nil, fmt.Errorf("student %s: %w", req.StudentID, err)
	}
	for _, rec := range student.Borrowed {
		if rec.BookID == req.BookID {
			metrics.OperationErrorsTotal.WithLabelValues("checkout").Inc()
			return nil, fmt.Errorf("book %q already borrowed by %s: %w", book.Title, student.Name, repository.ErrConflict)
		}
	}

	book.AvailableCopies--
	if err := c.store.Books().UpdateTx(ctx, tx, book); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("checkout").Inc()
		return nil, err
	}

	now := c.now()
	borrowed := append(student.Borrowed, repository.BorrowRecord{
		BookID:       req.BookID,
		BorrowedDate: now,
		DueDate:      now.Add(borrowPeriod),
	})
	if err := c.store.Users().UpdateBorrowedAndHistoryTx(ctx, tx, req.StudentID, borrowed, student.History); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("checkout").Inc()
		return nil, err
	}

	if err := c.store.Requests().UpdateStatusTx(ctx, tx, requestID, repository.StatusCheckedOut, nil, nil); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("checkout").Inc()
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	req.Status = repository.StatusCheckedOut
	c.books.Set(book)
	metrics.BooksCheckedOutTotal.Inc()

	c.emitter.Broadcast(realtime.Event{
		Name: realtime.EventBookCheckedOut,
		Data: map[string]interface{}{
			"message": fmt.Sprintf("Book %q has been checked out by %s.", req.BookTitle, req.StudentName),
			"request": req,
		},
	})
	c.emitRequestUpdated(req)
	c.logger.Info("request checked out",
		zap.String("request_id", requestID),
		zap.String("book_id", req.BookID),
		zap.Int("available_copies", book.AvailableCopies))
	return req, nil
}

// Return is keyed off the student's borrowed list, not a request:
// only the live borrowed entry matters, however many historical
// requests exist for the pair.
func (c *Coordinator) Return(ctx context.Context, studentID, bookID string) (*repository.User, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := c.store.Books().GetByIDTx(ctx, tx, bookID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("return").Inc()
		return nil, fmt.Errorf("book %s: %w", bookID, err)
	}

	student, err := c.store.Users().GetByIDTx(ctx, tx, studentID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("return").Inc()
		return nil, fmt.Errorf("student %s: %w", studentID, err)
	}

	borrowed := make(repository.BorrowRecords, 0, len(student.Borrowed))
	found := false
	for _, rec := range student.Borrowed {
		if !found && rec.BookID == bookID {
			found = true
			continue
		}
		borrowed = append(borrowed, rec)
	}
	if !found {
		metrics.OperationErrorsTotal.WithLabelValues("return").Inc()
		return nil, fmt.Errorf("no borrowed entry for book %s: %w", bookID, repository.ErrObjectNotFound)
	}

	if book.AvailableCopies < book.TotalCopies {
		book.AvailableCopies++
		if err := c.store.Books().UpdateTx(ctx, tx, book); err != nil {
			metrics.OperationErrorsTotal.WithLabelValues("return").Inc()
			return nil, err
		}
	}

	history := append(student.History, repository.HistoryRecord{
		BookID:       bookID,
		ReturnedDate: c.now(),
	})
	if err := c.store.Users().UpdateBorrowedAndHistoryTx(ctx, tx, studentID, borrowed, history); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("return").Inc()
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	student.Borrowed = borrowed
	student.History = history
	c.books.Set(book)
	metrics.BooksReturnedTotal.Inc()

	c.emitter.Broadcast(realtime.Event{
		Name: realtime.EventBookReturned,
		Data: map[string]interface{}{
			"message": fmt.Sprintf("Book %q has been returned by %s.", book.Title, student.Name),
		},
	})
	c.emitter.EmitToAdmins(realtime.Event{
		Name: realtime.EventBookReturnedAdmin,
		Data: map[string]interface{}{
			"message":   fmt.Sprintf("Student %s has returned the book %q.", student.Name, book.Title),
			"studentId": studentID,
		},
	})
	c.logger.Info("book returned",
		zap.String("book_id", bookID),
		zap.String("student_id", studentID),
		zap.Int("available_copies", book.AvailableCopies))
	return student, nil
}

// DeleteHistory removes one matching history entry from the student's
// record.
func (c *Coordinator) DeleteHistory(ctx context.Context, studentID, bookID string) (*repository.User, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	student, err := c.store.Users().GetByIDTx(ctx, tx, studentID)
	if err != nil {
		return nil, fmt.Errorf("student %s: %w", studentID, err)
	}

	history := make(repository.HistoryRecords, 0, len(student.History))
	found := false
	for _, rec := range student.History {
		if !found && rec.BookID == bookID {
			found = true
			continue
		}
		history = append(history, rec)
	}
	if !found {
		return nil, fmt.Errorf("no history entry for book %s: %w", bookID, repository.ErrObjectNotFound)
	}

	if err := c.store.Users().UpdateBorrowedAndHistoryTx(ctx, tx, studentID, student.Borrowed, history); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	student.History = history
	return student, nil
}

func (c *Coordinator) emitRequestUpdated(req *repository.BorrowRequest) {
	c.emitter.EmitToAdmins(realtime.Event{
		Name: realtime.EventRequestUpdated,
		Data: map[string]interface{}{
			"request": req,
		},
	})
}
