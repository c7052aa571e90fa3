package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openshelf/library/internal/repository"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string          `json:"name"`
		Email    string          `json:"email"`
		Password string          `json:"password"`
		Role     repository.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := s.service.Register(r.Context(), body.Name, body.Email, body.Password, body.Role); err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"message": "User registered successfully!",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string          `json:"email"`
		Password string          `json:"password"`
		Role     repository.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.service.Login(r.Context(), body.Email, body.Password, body.Role)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	token, err := s.auth.IssueToken(user)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Logged in successfully!",
		"user":    user,
		"token":   token,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}

	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// handleReturnBook hands one copy back. Students may only return their
// own books; admins may return on a student's behalf.
func (s *Server) handleReturnBook(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	studentID := mux.Vars(r)["id"]
	if claims.Role != repository.RoleAdmin && claims.UserID != studentID {
		respondError(w, http.StatusForbidden, "Cannot return another student's book")
		return
	}

	var body struct {
		BookID string `json:"bookId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.BookID == "" {
		respondError(w, http.StatusBadRequest, "Missing bookId")
		return
	}

	user, err := s.service.Return(r.Context(), studentID, body.BookID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	studentID := vars["id"]
	if claims.Role != repository.RoleAdmin && claims.UserID != studentID {
		respondError(w, http.StatusForbidden, "Cannot edit another student's history")
		return
	}

	user, err := s.service.DeleteHistory(r.Context(), studentID, vars["bookId"])
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}
