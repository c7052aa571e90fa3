package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openshelf/library/internal/realtime"
	"github.com/openshelf/library/internal/repository"
)

// handleListRequests shows admins the full ledger and students only
// their own rows.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	studentID := claims.UserID
	if claims.Role == repository.RoleAdmin {
		studentID = ""
	}

	requests, err := s.service.ListRequests(r.Context(), studentID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, requests)
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var body struct {
		BookID string `json:"bookId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.BookID == "" {
		respondError(w, http.StatusBadRequest, "Missing bookId")
		return
	}

	req, err := s.service.Submit(r.Context(), body.BookID, claims.UserID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.Approve)
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.Reject)
}

func (s *Server) handleCheckoutRequest(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.Checkout)
}

// handleTransition is the shared shape of the three admin-driven
// transitions: same authorization, same parameter, same response.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, requestID string) (*repository.BorrowRequest, error)) {
	if !requireAdmin(w, r) {
		return
	}

	req, err := transition(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	if err := realtime.ServeWS(s.hub, w, r, claims.UserID, claims.Role); err != nil {
		// Upgrade already wrote its own error response.
		s.logger.Warn("websocket upgrade failed")
	}
}
