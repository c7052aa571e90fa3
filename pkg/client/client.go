// Package client is a Go session against the library server: it logs
// in, keeps a local copy of the catalogue and the request ledger, and
// follows the realtime feed the way the web client does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openshelf/library/internal/repository"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	token string
	user  *repository.User

	mu       sync.RWMutex
	books    map[string]*repository.Book
	requests map[string]*repository.BorrowRequest
	users    map[string]*repository.User
}

func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		books:      make(map[string]*repository.Book),
		requests:   make(map[string]*repository.BorrowRequest),
		users:      make(map[string]*repository.User),
	}
}

// apiError carries the server's message body alongside the status.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &apiError{StatusCode: resp.StatusCode, Message: payload.Message}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Register creates an account. The session stays logged out.
func (c *Client) Register(ctx context.Context, name, email, password string, role repository.Role) error {
	return c.do(ctx, http.MethodPost, "/api/auth/register", map[string]interface{}{
		"name":     name,
		"email":    email,
		"password": password,
		"role":     role,
	}, nil)
}

// Login authenticates and primes the local state with a full resync.
func (c *Client) Login(ctx context.Context, email, password string, role repository.Role) (*repository.User, error) {
	var resp struct {
		User  *repository.User `json:"user"`
		Token string           `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    email,
		"password": password,
		"role":     role,
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.token = resp.Token
	c.user = resp.User

	if err := c.Resync(ctx); err != nil {
		return nil, fmt.Errorf("initial sync failed: %w", err)
	}
	return resp.User, nil
}

// User returns the logged-in principal, nil before Login.
func (c *Client) User() *repository.User {
	return c.user
}

// Resync re-fetches everything the session tracks. Safe to call at any
// time; it replaces the local state wholesale.
func (c *Client) Resync(ctx context.Context) error {
	var books []*repository.Book
	if err := c.do(ctx, http.MethodGet, "/api/books", nil, &books); err != nil {
		return err
	}

	var requests []*repository.BorrowRequest
	if err := c.do(ctx, http.MethodGet, "/api/requests", nil, &requests); err != nil {
		return err
	}

	var users []*repository.User
	if c.user != nil && c.user.Role == repository.RoleAdmin {
		if err := c.do(ctx, http.MethodGet, "/api/auth/users", nil, &users); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.books = make(map[string]*repository.Book, len(books))
	for _, b := range books {
		c.books[b.ID] = b
	}
	c.requests = make(map[string]*repository.BorrowRequest, len(requests))
	for _, r := range requests {
		c.requests[r.ID] = r
	}
	c.users = make(map[string]*repository.User, len(users))
	for _, u := range users {
		c.users[u.ID] = u
	}
	return nil
}

func (c *Client) Books() []*repository.Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	books := make([]*repository.Book, 0, len(c.books))
	for _, b := range c.books {
		books = append(books, b)
	}
	return books
}

func (c *Client) Requests() []*repository.BorrowRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	requests := make([]*repository.BorrowRequest, 0, len(c.requests))
	for _, r := range c.requests {
		requests = append(requests, r)
	}
	return requests
}

func (c *Client) Users() []*repository.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	users := make([]*repository.User, 0, len(c.users))
	for _, u := range c.users {
		users = append(users, u)
	}
	return users
}

// ---------------------------------------------------------------------
// Commands

func (c *Client) SubmitRequest(ctx context.Context, bookID string) (*repository.BorrowRequest, error) {
	var req repository.BorrowRequest
	err := c.do(ctx, http.MethodPost, "/api/requests", map[string]string{"bookId": bookID}, &req)
	if err != nil {
		return nil, err
	}
	c.patchRequest(&req)
	return &req, nil
}

func (c *Client) ApproveRequest(ctx context.Context, requestID string) (*repository.BorrowRequest, error) {
	return c.transition(ctx, requestID, "approve")
}

func (c *Client) RejectRequest(ctx context.Context, requestID string) (*repository.BorrowRequest, error) {
	return c.transition(ctx, requestID, "reject")
}

func (c *Client) CheckoutRequest(ctx context.Context, requestID string) (*repository.BorrowRequest, error) {
	return c.transition(ctx, requestID, "checkout")
}

func (c *Client) transition(ctx context.Context, requestID, action string) (*repository.BorrowRequest, error) {
	var req repository.BorrowRequest
	err := c.do(ctx, http.MethodPost, "/api/requests/"+url.PathEscape(requestID)+"/"+action, nil, &req)
	if err != nil {
		return nil, err
	}
	c.patchRequest(&req)
	return &req, nil
}

func (c *Client) AddBook(ctx context.Context, book *repository.Book) (*repository.Book, error) {
	var created repository.Book
	if err := c.do(ctx, http.MethodPost, "/api/books", book, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateBook(ctx context.Context, book *repository.Book) (*repository.Book, error) {
	var updated repository.Book
	if err := c.do(ctx, http.MethodPut, "/api/books/"+url.PathEscape(book.ID), book, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) RemoveBook(ctx context.Context, bookID string) error {
	return c.do(ctx, http.MethodDelete, "/api/books/"+url.PathEscape(bookID), nil, nil)
}

func (c *Client) SetStock(ctx context.Context, bookID string, available, total int) (*repository.Book, error) {
	var book repository.Book
	err := c.do(ctx, http.MethodPut, "/api/books/"+url.PathEscape(bookID)+"/stock", map[string]int{
		"copies":      available,
		"totalCopies": total,
	}, &book)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *Client) ReturnBook(ctx context.Context, studentID, bookID string) (*repository.User, error) {
	var resp struct {
		User *repository.User `json:"user"`
	}
	err := c.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(studentID)+"/return",
		map[string]string{"bookId": bookID}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) DeleteHistory(ctx context.Context, studentID, bookID string) (*repository.User, error) {
	var resp struct {
		User *repository.User `json:"user"`
	}
	err := c.do(ctx, http.MethodDelete,
		"/api/users/"+url.PathEscape(studentID)+"/history/"+url.PathEscape(bookID), nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) patchRequest(req *repository.BorrowRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[req.ID] = req
}

// ---------------------------------------------------------------------
// Realtime feed

// event mirrors the server's wire shape.
type event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Listen follows the websocket feed until the context ends. Request
// events that carry the full request are patched into local state by
// id; everything else triggers a full Resync, matching how the web
// client treats notifications as hints rather than state.
func (c *Client) Listen(ctx context.Context, onEvent func(name string)) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("malformed realtime event", zap.Error(err))
			continue
		}

		c.handleEvent(ctx, ev)
		if onEvent != nil {
			onEvent(ev.Name)
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, ev event) {
	switch ev.Name {
	case "requestCreated", "requestUpdated":
		var payload struct {
			Request *repository.BorrowRequest `json:"request"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err == nil && payload.Request != nil {
			c.patchRequest(payload.Request)
			return
		}
	}

	if err := c.Resync(ctx); err != nil {
		c.logger.Warn("resync after event failed",
			zap.String("event", ev.Name), zap.Error(err))
	}
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	return u.String(), nil
}
