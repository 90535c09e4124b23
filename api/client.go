// Package api is the HTTP client for the library REST backend.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"library-console/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client performs calls against the configured backend, attaching the
// session credential when one is held. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. No timeout is set by default.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger routes request logs to l.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the API rooted at baseURL, e.g. http://localhost:8000/api.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// SetToken stores the session credential attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// ClearToken drops the session credential.
func (c *Client) ClearToken() { c.SetToken("") }

// Token returns the current credential, or "" when logged out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// request describes one API call.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// token overrides the stored credential when non-empty.
	token string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	target := c.baseURL + "/" + strings.TrimLeft(r.path, "/")
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", r.method, r.path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", r.method, r.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	token := r.token
	if token == "" {
		token = c.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "api request failed", "method", r.method, "path", r.path, "request_id", requestID, "err", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Kind: ErrNetwork, Message: fmt.Sprintf("network error: %v", ctxErr)}
		}
		return newNetworkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return newNetworkError(err)
	}
	c.logger.DebugContext(ctx, "api request",
		"method", r.method,
		"path", r.path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		if out != nil {
			return &Error{Kind: ErrMalformedResponse, Status: resp.StatusCode, Message: "malformed response: empty body"}
		}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: ErrMalformedResponse, Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

// ------------------ Auth ------------------

// Login exchanges credentials for tokens. It does not store the token.
func (c *Client) Login(ctx context.Context, creds library.Credentials) (library.Tokens, error) {
	var tokens library.Tokens
	err := c.do(ctx, request{method: http.MethodPost, path: "/auth/login", body: creds}, &tokens)
	var apiErr *Error
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
		apiErr.Kind = ErrInvalidCredentials
	}
	if err != nil {
		return library.Tokens{}, err
	}
	if tokens.Access == "" {
		return library.Tokens{}, &Error{Kind: ErrMalformedResponse, Message: "malformed response: no access token"}
	}
	return tokens, nil
}

// Register creates an account. The new account is not logged in.
func (c *Client) Register(ctx context.Context, reg library.Registration) (library.User, error) {
	var user library.User
	err := c.do(ctx, request{method: http.MethodPost, path: "/auth/register", body: reg}, &user)
	return user, err
}

// CurrentUser fetches the identity behind the held credential.
func (c *Client) CurrentUser(ctx context.Context) (library.User, error) {
	var user library.User
	err := c.do(ctx, request{method: http.MethodGet, path: "/auth/me"}, &user)
	return user, err
}

// RevokeToken tells the backend to forget token. It is used after the local
// session has already been cleared, so the token is passed explicitly.
func (c *Client) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return c.do(ctx, request{method: http.MethodPost, path: "/auth/logout", token: token}, nil)
}

// ListUsers returns every account. Admin only.
func (c *Client) ListUsers(ctx context.Context) ([]library.User, error) {
	users := []library.User{}
	err := c.do(ctx, request{method: http.MethodGet, path: "/users/"}, &users)
	return users, err
}

// ------------------ Books ------------------

// ListBooks returns the catalog, narrowed by f.
func (c *Client) ListBooks(ctx context.Context, f library.BookFilter) ([]library.Book, error) {
	q := url.Values{}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Category != 0 {
		q.Set("category", strconv.FormatInt(f.Category, 10))
	}
	if f.Ordering != "" {
		q.Set("ordering", f.Ordering)
	}
	books := []library.Book{}
	err := c.do(ctx, request{method: http.MethodGet, path: "/books/", query: q}, &books)
	return books, err
}

func (c *Client) CreateBook(ctx context.Context, b library.NewBook) (library.Book, error) {
	var book library.Book
	err := c.do(ctx, request{method: http.MethodPost, path: "/books/", body: b}, &book)
	return book, err
}

func (c *Client) ListCategories(ctx context.Context) ([]library.Category, error) {
	categories := []library.Category{}
	err := c.do(ctx, request{method: http.MethodGet, path: "/categories/"}, &categories)
	return categories, err
}

// ------------------ Borrows ------------------

func (c *Client) ListBorrowRecords(ctx context.Context) ([]library.BorrowRecord, error) {
	records := []library.BorrowRecord{}
	err := c.do(ctx, request{method: http.MethodGet, path: "/borrows/"}, &records)
	return records, err
}

func (c *Client) CreateBorrowRecord(ctx context.Context, b library.NewBorrow) (library.BorrowRecord, error) {
	var rec library.BorrowRecord
	err := c.do(ctx, request{method: http.MethodPost, path: "/borrows/", body: b}, &rec)
	return rec, err
}

// ReturnBorrowRecord marks record id returned and yields the backend's acknowledgement.
func (c *Client) ReturnBorrowRecord(ctx context.Context, id int64) (string, error) {
	var msg library.Message
	err := c.do(ctx, request{method: http.MethodPost, path: fmt.Sprintf("/borrows/%d/return_book/", id)}, &msg)
	return msg.Message, err
}

func (c *Client) SendBorrowerEmail(ctx context.Context, e library.BorrowerEmail) (string, error) {
	var msg library.Message
	err := c.do(ctx, request{method: http.MethodPost, path: fmt.Sprintf("/borrows/%d/send_email/", e.ID), body: e}, &msg)
	return msg.Message, err
}

// CheckDueBooks asks the backend to notify every overdue borrower.
func (c *Client) CheckDueBooks(ctx context.Context) (string, error) {
	var msg library.Message
	err := c.do(ctx, request{method: http.MethodGet, path: "/borrows/check_due_books/"}, &msg)
	return msg.Message, err
}
