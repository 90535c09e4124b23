// Package server is the development REST backend the console talks to. It
// serves the library over HTTP with JWT sessions backed by SQLite.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"

	"library-console/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config controls token signing and logging.
type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
	Logger    *slog.Logger
	// Registerer receives the HTTP metrics. Defaults to a private registry.
	Registerer prometheus.Registerer
}

type Server struct {
	lib     *library.LibraryManager
	tokens  *TokenIssuer
	logger  *slog.Logger
	metrics *metrics
	mux     *http.ServeMux
	handler http.Handler
}

func New(lib *library.LibraryManager, cfg Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	s := &Server{
		lib:     lib,
		tokens:  NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		logger:  cfg.Logger,
		metrics: m,
		mux:     http.NewServeMux(),
	}
	s.routes()
	s.handler = s.instrument(s.mux)
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("GET /api/auth/me", s.authenticate(s.handleMe))
	s.mux.HandleFunc("POST /api/auth/logout", s.authenticate(s.handleLogout))
	s.mux.HandleFunc("GET /api/users/{$}", s.requireRole(admin, s.handleListUsers))

	s.mux.HandleFunc("GET /api/books/{$}", s.authenticate(s.handleListBooks))
	s.mux.HandleFunc("POST /api/books/{$}", s.requireRole(staff, s.handleCreateBook))
	s.mux.HandleFunc("GET /api/categories/{$}", s.authenticate(s.handleListCategories))
	s.mux.HandleFunc("POST /api/categories/{$}", s.requireRole(staff, s.handleCreateCategory))

	s.mux.HandleFunc("GET /api/borrows/{$}", s.authenticate(s.handleListBorrows))
	s.mux.HandleFunc("POST /api/borrows/{$}", s.authenticate(s.handleCreateBorrow))
	s.mux.HandleFunc("GET /api/borrows/check_due_books/", s.requireRole(admin, s.handleCheckDueBooks))
	s.mux.HandleFunc("POST /api/borrows/{id}/return_book/", s.authenticate(s.handleReturnBook))
	s.mux.HandleFunc("POST /api/borrows/{id}/send_email/", s.requireRole(staff, s.handleSendEmail))

	s.mux.Handle("GET /metrics", s.metrics.handler())
	s.mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Error("Unable to write healthcheck", "err", err)
		}
	})
}

// ServeHTTP routes through the logging and metrics middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ------------------ Response helpers ------------------

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Unable to encode JSON response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.logger.Debug("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", message)
	s.writeJSON(w, status, map[string]string{"error": message})
}

// fail maps a library error onto a status and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, library.ErrBadCredentials):
		s.writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, library.ErrInvalid):
		s.writeError(w, r, http.StatusBadRequest, trimSentinel(err, library.ErrInvalid))
	case errors.Is(err, library.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, "Not found.")
	case errors.Is(err, library.ErrConflict):
		s.writeError(w, r, http.StatusConflict, trimSentinel(err, library.ErrConflict))
	default:
		s.logger.Error("internal error", "method", r.Method, "path", r.URL.Path, "err", err)
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// trimSentinel drops the "<sentinel>: " prefix wrapped errors carry.
func trimSentinel(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Malformed request body: %v", err))
		return false
	}
	return true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, http.StatusNotFound, "Not found.")
		return 0, false
	}
	return id, true
}

// ------------------ Auth ------------------

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds library.Credentials
	if !s.decode(w, r, &creds) {
		return
	}
	user, err := s.lib.Authenticate(creds)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokens, err := s.issueTokens(user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("user logged in", "username", user.Username, "role", user.Role)
	s.writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg library.Registration
	if !s.decode(w, r, &reg) {
		return
	}
	user, err := s.lib.Register(reg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := s.lib.RevokeToken(claims.ID, claims.ExpiresAt.Time); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.lib.ListUsers()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}

// ------------------ Books ------------------

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := library.BookFilter{
		Search:   q.Get("search"),
		Status:   library.BookStatus(q.Get("status")),
		Ordering: q.Get("ordering"),
	}
	if f.Status != "" && !f.Status.Valid() {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("status: Select a valid choice. %s is not one of the available choices.", f.Status))
		return
	}
	if v := q.Get("category"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "category: Select a valid choice.")
			return
		}
		f.Category = id
	}

	books, err := s.lib.ListBooks(f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var nb library.NewBook
	if !s.decode(w, r, &nb) {
		return
	}
	book, err := s.lib.AddBook(nb)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.lib.GetAllCategories()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	category, err := s.lib.AddCategory(body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, category)
}

// ------------------ Borrows ------------------

func (s *Server) handleListBorrows(w http.ResponseWriter, r *http.Request) {
	records, err := s.lib.BorrowRecords(userFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCreateBorrow(w http.ResponseWriter, r *http.Request) {
	var nb library.NewBorrow
	if !s.decode(w, r, &nb) {
		return
	}
	rec, err := s.lib.Borrow(userFrom(r.Context()), nb)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleReturnBook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.lib.ReturnBook(userFrom(r.Context()), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, library.Message{Message: "Book returned successfully"})
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var e library.BorrowerEmail
	if !s.decode(w, r, &e) {
		return
	}
	if err := s.lib.EmailBorrower(r.Context(), id, e.Subject, e.Message); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, library.Message{Message: "Email sent successfully"})
}

func (s *Server) handleCheckDueBooks(w http.ResponseWriter, r *http.Request) {
	count, err := s.lib.NotifyOverdue(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, library.Message{Message: fmt.Sprintf("Sent %d notifications for overdue books", count)})
}
