package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openshelf/library/internal/repository"
)

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.service.ListBooks(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, books)
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := requireClaims(w, r)
	if !ok {
		return false
	}
	if claims.Role != repository.RoleAdmin {
		respondError(w, http.StatusForbidden, "Admin access required")
		return false
	}
	return true
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var book repository.Book
	if err := json.NewDecoder(r.Body).Decode(&book); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := s.service.AddBook(r.Context(), &book)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var book repository.Book
	if err := json.NewDecoder(r.Body).Decode(&book); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	book.ID = mux.Vars(r)["id"]

	updated, err := s.service.UpdateBook(r.Context(), &book)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	if err := s.service.RemoveBook(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Book deleted successfully"})
}

func (s *Server) handleSetStock(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var body struct {
		AvailableCopies int `json:"copies"`
		TotalCopies     int `json:"totalCopies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	book, err := s.service.SetStock(r.Context(), mux.Vars(r)["id"], body.AvailableCopies, body.TotalCopies)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, book)
}
