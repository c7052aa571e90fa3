package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/openshelf/library/internal/auth"
	"github.com/openshelf/library/internal/repository"
	mock_server "github.com/openshelf/library/internal/server/mocks"
)

func newTestServer(t *testing.T) (*Server, *mock_server.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	service := mock_server.NewMockService(ctrl)
	srv := New(service, auth.NewManager("test-secret"), nil, nil, zap.NewNop())
	return srv, service
}

// withClaims plants an authenticated principal the way the auth
// middleware would.
func withClaims(r *http.Request, userID string, role repository.Role) *http.Request {
	claims := &auth.Claims{UserID: userID, Name: "Test User", Role: role}
	return r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims))
}

func TestHandleRegister(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMocks     func(service *mock_server.MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "successful registration",
			body: `{"name":"Alice","email":"alice@example.com","password":"secret123","role":"student"}`,
			setupMocks: func(service *mock_server.MockService) {
				service.EXPECT().
					Register(gomock.Any(), "Alice", "alice@example.com", "secret123", repository.RoleStudent).
					Return(&repository.User{ID: "u1", Name: "Alice"}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `{"message":"User registered successfully!"}`,
		},
		{
			name:           "invalid body",
			body:           `{not json`,
			setupMocks:     func(*mock_server.MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"message":"Invalid request body"}`,
		},
		{
			name: "duplicate email",
			body: `{"name":"Alice","email":"alice@example.com","password":"secret123"}`,
			setupMocks: func(service *mock_server.MockService) {
				service.EXPECT().
					Register(gomock.Any(), "Alice", "alice@example.com", "secret123", repository.Role("")).
					Return(nil, fmt.Errorf("user already exists: %w", repository.ErrConflict))
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"message":"user already exists: conflict with existing state"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, service := newTestServer(t)
			tc.setupMocks(service)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString(tc.body))
			rr := httptest.NewRecorder()

			srv.handleRegister(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.JSONEq(t, tc.expectedBody, rr.Body.String())
		})
	}
}

func TestHandleLogin(t *testing.T) {
	t.Run("returns user and token", func(t *testing.T) {
		srv, service := newTestServer(t)
		user := &repository.User{ID: "u1", Name: "Alice", Role: repository.RoleStudent}
		service.EXPECT().
			Login(gomock.Any(), "alice@example.com", "secret123", repository.RoleStudent).
			Return(user, nil)

		body := `{"email":"alice@example.com","password":"secret123","role":"student"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()

		srv.handleLogin(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Message string           `json:"message"`
			User    *repository.User `json:"user"`
			Token   string           `json:"token"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "Logged in successfully!", resp.Message)
		assert.Equal(t, "u1", resp.User.ID)

		claims, err := srv.auth.ParseToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID)
		assert.Equal(t, repository.RoleStudent, claims.Role)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		srv, service := newTestServer(t)
		service.EXPECT().
			Login(gomock.Any(), "alice@example.com", "wrong", repository.RoleStudent).
			Return(nil, fmt.Errorf("invalid credentials: %w", repository.ErrInvalidArgument))

		body := `{"email":"alice@example.com","password":"wrong","role":"student"}`
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()

		srv.handleLogin(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"message":"invalid credentials: invalid argument"}`, rr.Body.String())
	})
}

func TestHandleSubmitRequest(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMocks     func(service *mock_server.MockService)
		expectedStatus int
		contains       string
	}{
		{
			name: "successful submit",
			body: `{"bookId":"b1"}`,
			setupMocks: func(service *mock_server.MockService) {
				service.EXPECT().
					Submit(gomock.Any(), "b1", "student-1").
					Return(&repository.BorrowRequest{ID: "r1", BookID: "b1", StudentID: "student-1", Status: repository.StatusPending}, nil)
			},
			expectedStatus: http.StatusCreated,
			contains:       `"status":"pending"`,
		},
		{
			name:           "missing bookId",
			body:           `{}`,
			setupMocks:     func(*mock_server.MockService) {},
			expectedStatus: http.StatusBadRequest,
			contains:       "Missing bookId",
		},
		{
			name: "book unavailable",
			body: `{"bookId":"b1"}`,
			setupMocks: func(service *mock_server.MockService) {
				service.EXPECT().
					Submit(gomock.Any(), "b1", "student-1").
					Return(nil, fmt.Errorf("book %q: %w", "Dune", repository.ErrUnavailable))
			},
			expectedStatus: http.StatusBadRequest,
			contains:       "Book is not available.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, service := newTestServer(t)
			tc.setupMocks(service)

			req := httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString(tc.body))
			req = withClaims(req, "student-1", repository.RoleStudent)
			rr := httptest.NewRecorder()

			srv.handleSubmitRequest(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.contains)
		})
	}
}

func TestHandleApproveRequest(t *testing.T) {
	t.Run("admin approves", func(t *testing.T) {
		srv, service := newTestServer(t)
		token := "123456"
		service.EXPECT().
			Approve(gomock.Any(), "r1").
			Return(&repository.BorrowRequest{ID: "r1", Status: repository.StatusApproved, Token: &token}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/requests/r1/approve", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "r1"})
		req = withClaims(req, "admin-1", repository.RoleAdmin)
		rr := httptest.NewRecorder()

		srv.handleApproveRequest(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"token":"123456"`)
	})

	t.Run("student forbidden", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/requests/r1/approve", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "r1"})
		req = withClaims(req, "student-1", repository.RoleStudent)
		rr := httptest.NewRecorder()

		srv.handleApproveRequest(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.JSONEq(t, `{"message":"Admin access required"}`, rr.Body.String())
	})

	t.Run("invalid transition maps to conflict", func(t *testing.T) {
		srv, service := newTestServer(t)
		service.EXPECT().
			Approve(gomock.Any(), "r1").
			Return(nil, fmt.Errorf("cannot approve request in status %q: %w", "rejected", repository.ErrInvalidTransition))

		req := httptest.NewRequest(http.MethodPost, "/api/requests/r1/approve", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "r1"})
		req = withClaims(req, "admin-1", repository.RoleAdmin)
		rr := httptest.NewRecorder()

		srv.handleApproveRequest(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestHandleListRequests(t *testing.T) {
	t.Run("admin sees the full ledger", func(t *testing.T) {
		srv, service := newTestServer(t)
		service.EXPECT().
			ListRequests(gomock.Any(), "").
			Return([]*repository.BorrowRequest{{ID: "r1"}, {ID: "r2"}}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
		req = withClaims(req, "admin-1", repository.RoleAdmin)
		rr := httptest.NewRecorder()

		srv.handleListRequests(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"r2"`)
	})

	t.Run("student sees only their rows", func(t *testing.T) {
		srv, service := newTestServer(t)
		service.EXPECT().
			ListRequests(gomock.Any(), "student-1").
			Return([]*repository.BorrowRequest{{ID: "r1", StudentID: "student-1"}}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
		req = withClaims(req, "student-1", repository.RoleStudent)
		rr := httptest.NewRecorder()

		srv.handleListRequests(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
		rr := httptest.NewRecorder()

		srv.handleListRequests(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestHandleReturnBook(t *testing.T) {
	t.Run("student returns their own book", func(t *testing.T) {
		srv, service := newTestServer(t)
		service.EXPECT().
			Return(gomock.Any(), "student-1", "b1").
			Return(&repository.User{ID: "student-1"}, nil)

		req := httptest.NewRequest(http.MethodPut, "/api/users/student-1/return", bytes.NewBufferString(`{"bookId":"b1"}`))
		req = mux.SetURLVars(req, map[string]string{"id": "student-1"})
		req = withClaims(req, "student-1", repository.RoleStudent)
		rr := httptest.NewRecorder()

		srv.handleReturnBook(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("student cannot return for someone else", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPut, "/api/users/student-2/return", bytes.NewBufferString(`{"bookId":"b1"}`))
		req = mux.SetURLVars(req, map[string]string{"id": "student-2"})
		req = withClaims(req, "student-1", repository.RoleStudent)
		rr := httptest.NewRecorder()

		srv.handleReturnBook(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("admin returns on behalf of a student", func(t *testing.T) {
		srv, service := newTestServer(t)
		service.EXPECT().
			Return(gomock.Any(), "student-1", "b1").
			Return(&repository.User{ID: "student-1"}, nil)

		req := httptest.NewRequest(http.MethodPut, "/api/users/student-1/return", bytes.NewBufferString(`{"bookId":"b1"}`))
		req = mux.SetURLVars(req, map[string]string{"id": "student-1"})
		req = withClaims(req, "admin-1", repository.RoleAdmin)
		rr := httptest.NewRecorder()

		srv.handleReturnBook(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("not borrowed", func(t *testing.T) {
		srv, service := newTestServer(t)
		service.EXPECT().
			Return(gomock.Any(), "student-1", "b1").
			Return(nil, fmt.Errorf("no borrowed entry for book b1: %w", repository.ErrObjectNotFound))

		req := httptest.NewRequest(http.MethodPut, "/api/users/student-1/return", bytes.NewBufferString(`{"bookId":"b1"}`))
		req = mux.SetURLVars(req, map[string]string{"id": "student-1"})
		req = withClaims(req, "student-1", repository.RoleStudent)
		rr := httptest.NewRecorder()

		srv.handleReturnBook(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestHandleAddBook(t *testing.T) {
	t.Run("admin adds a book", func(t *testing.T) {
		srv, service := newTestServer(t)
		service.EXPECT().
			AddBook(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, book *repository.Book) (*repository.Book, error) {
				assert.Equal(t, "Dune", book.Title)
				book.ID = "b1"
				return book, nil
			})

		body := `{"title":"Dune","author":"Frank Herbert","totalCopies":3}`
		req := httptest.NewRequest(http.MethodPost, "/api/books", bytes.NewBufferString(body))
		req = withClaims(req, "admin-1", repository.RoleAdmin)
		rr := httptest.NewRecorder()

		srv.handleAddBook(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Contains(t, rr.Body.String(), `"_id":"b1"`)
	})

	t.Run("student forbidden", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/books", bytes.NewBufferString(`{"title":"Dune"}`))
		req = withClaims(req, "student-1", repository.RoleStudent)
		rr := httptest.NewRecorder()

		srv.handleAddBook(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestRespondDomainError(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"not found", repository.ErrObjectNotFound, http.StatusNotFound},
		{"unavailable", repository.ErrUnavailable, http.StatusBadRequest},
		{"invalid transition", repository.ErrInvalidTransition, http.StatusConflict},
		{"conflict", repository.ErrConflict, http.StatusConflict},
		{"invalid argument", repository.ErrInvalidArgument, http.StatusBadRequest},
		{"unknown error is opaque", errors.New("pg down"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondDomainError(rr, tc.err)
			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedStatus == http.StatusInternalServerError {
				assert.JSONEq(t, `{"message":"Server error"}`, rr.Body.String())
			}
		})
	}
}

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		method string
		path   string
		public bool
	}{
		{http.MethodPost, "/api/auth/register", true},
		{http.MethodPost, "/api/auth/login", true},
		{http.MethodGet, "/api/books", true},
		{http.MethodPost, "/api/books", false},
		{http.MethodGet, "/api/requests", false},
		{http.MethodGet, "/api/auth/users", false},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		assert.Equal(t, tc.public, isPublicRoute(r), "%s %s", tc.method, tc.path)
	}
}
