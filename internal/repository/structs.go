package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusApproved   RequestStatus = "approved"
	StatusRejected   RequestStatus = "rejected"
	StatusCheckedOut RequestStatus = "checked_out"
)

// Terminal reports whether no further transition is allowed for the request.
func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCheckedOut
}

type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

type Book struct {
	ID              string `db:"id" json:"_id"`
	Title           string `db:"title" json:"title"`
	Author          string `db:"author" json:"author"`
	Genre           string `db:"genre" json:"genre"`
	Year            int    `db:"year" json:"year"`
	TotalCopies     int    `db:"total_copies" json:"totalCopies"`
	AvailableCopies int    `db:"available_copies" json:"copies"`
	Cover           string `db:"cover" json:"cover"`
	ISBN            string `db:"isbn" json:"isbn"`
	Description     string `db:"description" json:"description"`
}

type BorrowRecord struct {
	BookID       string    `json:"bookId"`
	BorrowedDate time.Time `json:"borrowedDate"`
	DueDate      time.Time `json:"dueDate"`
}

type HistoryRecord struct {
	BookID       string    `json:"bookId"`
	ReturnedDate time.Time `json:"returnedDate"`
}

// BorrowRecords and HistoryRecords are stored as jsonb columns.

type BorrowRecords []BorrowRecord

func (b BorrowRecords) Value() (driver.Value, error) {
	if b == nil {
		b = BorrowRecords{}
	}
	return json.Marshal(b)
}

func (b *BorrowRecords) Scan(src interface{}) error {
	return scanJSON(src, b)
}

type HistoryRecords []HistoryRecord

func (h HistoryRecords) Value() (driver.Value, error) {
	if h == nil {
		h = HistoryRecords{}
	}
	return json.Marshal(h)
}

func (h *HistoryRecords) Scan(src interface{}) error {
	return scanJSON(src, h)
}

func scanJSON(src, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into jsonb field", src)
	}
}

type User struct {
	ID           string         `db:"id" json:"_id"`
	Name         string         `db:"name" json:"name"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	Role         Role           `db:"role" json:"role"`
	Borrowed     BorrowRecords  `db:"borrowed" json:"borrowed"`
	History      HistoryRecords `db:"history" json:"history"`
}

// BorrowRequest is the audit-trail record of the approval workflow.
// BookTitle and StudentName are snapshots taken at submission time and
// are never re-synced with later edits to the book or the user.
type BorrowRequest struct {
	ID             string        `db:"id" json:"_id"`
	BookID         string        `db:"book_id" json:"bookId"`
	BookTitle      string        `db:"book_title" json:"bookTitle"`
	StudentID      string        `db:"student_id" json:"studentId"`
	StudentName    string        `db:"student_name" json:"studentName"`
	Status         RequestStatus `db:"status" json:"status"`
	RequestDate    time.Time     `db:"request_date" json:"requestDate"`
	Token          *string       `db:"token" json:"token,omitempty"`
	PickupDeadline *time.Time    `db:"pickup_deadline" json:"pickupDeadline,omitempty"`
}

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusDone       TaskStatus = "DONE"
)

type OutboxTask struct {
	ID          uuid.UUID       `db:"id"`
	Status      TaskStatus      `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	Topic       string          `db:"topic"`
	Attempts    int             `db:"attempts"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}

type AuditLogPayload struct {
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Handler    string    `json:"handler"`
	StatusCode int       `json:"status_code"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	OldStatus  string    `json:"old_status,omitempty"`
	NewStatus  string    `json:"new_status,omitempty"`
	Request    string    `json:"request,omitempty"`
	Response   string    `json:"response,omitempty"`
}
