//go:generate mockgen -source ./server.go -destination=./mocks/server.go -package=mock_server
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openshelf/library/internal/auth"
	"github.com/openshelf/library/internal/realtime"
	"github.com/openshelf/library/internal/repository"
)

// Service is the command surface the HTTP layer exposes. It is
// implemented by the lifecycle coordinator.
type Service interface {
	Register(ctx context.Context, name, email, password string, role repository.Role) (*repository.User, error)
	Login(ctx context.Context, email, password string, role repository.Role) (*repository.User, error)
	ListUsers(ctx context.Context) ([]*repository.User, error)
	GetUser(ctx context.Context, id string) (*repository.User, error)

	ListBooks(ctx context.Context) ([]*repository.Book, error)
	GetBook(ctx context.Context, id string) (*repository.Book, error)
	AddBook(ctx context.Context, book *repository.Book) (*repository.Book, error)
	UpdateBook(ctx context.Context, book *repository.Book) (*repository.Book, error)
	RemoveBook(ctx context.Context, id string) error
	SetStock(ctx context.Context, bookID string, available, total int) (*repository.Book, error)

	ListRequests(ctx context.Context, studentID string) ([]*repository.BorrowRequest, error)
	Submit(ctx context.Context, bookID, studentID string) (*repository.BorrowRequest, error)
	Approve(ctx context.Context, requestID string) (*repository.BorrowRequest, error)
	Reject(ctx context.Context, requestID string) (*repository.BorrowRequest, error)
	Checkout(ctx context.Context, requestID string) (*repository.BorrowRequest, error)
	Return(ctx context.Context, studentID, bookID string) (*repository.User, error)
	DeleteHistory(ctx context.Context, studentID, bookID string) (*repository.User, error)
}

type Server struct {
	service      Service
	auth         *auth.Manager
	hub          *realtime.Hub
	logger       *zap.Logger
	server       *http.Server
	AuditManager *AuditManager
}

func New(service Service, authManager *auth.Manager, hub *realtime.Hub, auditManager *AuditManager, logger *zap.Logger) *Server {
	return &Server{
		service:      service,
		auth:         authManager,
		hub:          hub,
		AuditManager: auditManager,
		logger:       logger,
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("HTTP server shutdown completed")
	return nil
}

func (s *Server) setupRoutes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	// The websocket upgrade bypasses the audit wrapper: the wrapped
	// writer cannot hijack the connection.
	r.Handle("/ws", s.authMiddleware(http.HandlerFunc(s.handleWS))).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.auditLogMiddleware, s.authMiddleware)

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/users", s.handleListUsers).Methods(http.MethodGet)

	api.HandleFunc("/books", s.handleListBooks).Methods(http.MethodGet)
	api.HandleFunc("/books", s.handleAddBook).Methods(http.MethodPost)
	api.HandleFunc("/books/{id}", s.handleUpdateBook).Methods(http.MethodPut)
	api.HandleFunc("/books/{id}", s.handleRemoveBook).Methods(http.MethodDelete)
	api.HandleFunc("/books/{id}/stock", s.handleSetStock).Methods(http.MethodPut)

	api.HandleFunc("/requests", s.handleListRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests", s.handleSubmitRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/approve", s.handleApproveRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/reject", s.handleRejectRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/checkout", s.handleCheckoutRequest).Methods(http.MethodPost)

	api.HandleFunc("/users/{id}/return", s.handleReturnBook).Methods(http.MethodPut)
	api.HandleFunc("/users/{id}/history/{bookId}", s.handleDeleteHistory).Methods(http.MethodDelete)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// respondDomainError maps the domain error taxonomy onto HTTP status
// codes. 4xx responses carry the wrapped error text; anything unknown
// becomes an opaque 500.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrObjectNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrUnavailable):
		respondError(w, http.StatusBadRequest, "Book is not available.")
	case errors.Is(err, repository.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Server error")
	}
}
