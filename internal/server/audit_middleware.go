package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openshelf/library/internal/repository"
)

// auditLogMiddleware records every API call as an audit entry: who
// called what, with which body, and what came back. Runs outside the
// auth middleware, so the principal is resolved here best-effort.
func (s *Server) auditLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuditManager == nil {
			next.ServeHTTP(w, r)
			return
		}

		entry := repository.AuditLogPayload{
			Timestamp: time.Now(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Handler:   handlerName(r.URL.Path, r.Method),
		}

		if raw := bearerToken(r); raw != "" {
			if claims, err := s.auth.ParseToken(raw); err == nil {
				entry.UserID = claims.UserID
			}
		}

		entry.EntityType, entry.EntityID = auditEntity(r.URL.Path)
		if entry.EntityType == "request" {
			entry.NewStatus = transitionTarget(r.URL.Path)
		}

		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(body))
			entry.Request = redactSecrets(r.URL.Path, body)
		}

		wrw := newResponseWriterWrapper(w)

		next.ServeHTTP(wrw, r)

		entry.StatusCode = wrw.GetStatusCode()
		entry.Response = redactSecrets(r.URL.Path, wrw.GetBody())

		s.AuditManager.LogEntry(r.Context(), entry)
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// auditEntity pulls the acted-on entity out of the path.
func auditEntity(path string) (entityType, entityID string) {
	parts := strings.Split(strings.TrimPrefix(path, "/api/"), "/")
	if len(parts) < 2 {
		return "", ""
	}
	switch parts[0] {
	case "requests":
		return "request", parts[1]
	case "books":
		return "book", parts[1]
	case "users":
		return "user", parts[1]
	}
	return "", ""
}

// transitionTarget maps the transition routes to the status they set.
func transitionTarget(path string) string {
	switch {
	case strings.HasSuffix(path, "/approve"):
		return string(repository.StatusApproved)
	case strings.HasSuffix(path, "/reject"):
		return string(repository.StatusRejected)
	case strings.HasSuffix(path, "/checkout"):
		return string(repository.StatusCheckedOut)
	}
	return ""
}

// redactSecrets keeps passwords and issued tokens out of the audit
// trail. Non-JSON bodies pass through unchanged.
func redactSecrets(path string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !strings.HasPrefix(path, "/api/auth/") {
		return string(body)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return string(body)
	}
	for _, key := range []string{"password", "token"} {
		if _, ok := payload[key]; ok {
			payload[key] = "[redacted]"
		}
	}
	redacted, err := json.Marshal(payload)
	if err != nil {
		return string(body)
	}
	return string(redacted)
}

func handlerName(path string, method string) string {
	trimmed := strings.TrimPrefix(path, "/api")
	switch {
	case trimmed == "/auth/register":
		return "handleRegister"
	case trimmed == "/auth/login":
		return "handleLogin"
	case trimmed == "/auth/users":
		return "handleListUsers"
	case strings.HasPrefix(trimmed, "/requests"):
		switch {
		case strings.HasSuffix(trimmed, "/approve"):
			return "handleApproveRequest"
		case strings.HasSuffix(trimmed, "/reject"):
			return "handleRejectRequest"
		case strings.HasSuffix(trimmed, "/checkout"):
			return "handleCheckoutRequest"
		case method == http.MethodPost:
			return "handleSubmitRequest"
		default:
			return "handleListRequests"
		}
	case strings.HasPrefix(trimmed, "/books"):
		switch {
		case strings.HasSuffix(trimmed, "/stock"):
			return "handleSetStock"
		case method == http.MethodPost:
			return "handleAddBook"
		case method == http.MethodPut:
			return "handleUpdateBook"
		case method == http.MethodDelete:
			return "handleRemoveBook"
		default:
			return "handleListBooks"
		}
	case strings.HasPrefix(trimmed, "/users"):
		if strings.HasSuffix(trimmed, "/return") {
			return "handleReturnBook"
		}
		return "handleDeleteHistory"
	}
	return "unknown"
}
