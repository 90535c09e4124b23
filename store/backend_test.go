package store

import (
	"context"
	"sync"

	"library-console/api"
	"library-console/library"
)

// fakeBackend is an in-memory Backend. Zero-valued hooks return canned data.
type fakeBackend struct {
	mu    sync.Mutex
	token string
	calls []string

	user      library.User
	loginErr  error
	meErr     error
	books     []library.Book
	records   []library.BorrowRecord
	actionErr error
	message   string
	revoked   chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		user:    library.User{ID: 1, Username: "alice", Email: "alice@example.com", Role: library.RoleMember},
		revoked: make(chan string, 1),
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeBackend) ClearToken() { f.SetToken("") }

func (f *fakeBackend) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeBackend) Login(_ context.Context, creds library.Credentials) (library.Tokens, error) {
	f.record("login")
	if f.loginErr != nil {
		return library.Tokens{}, f.loginErr
	}
	return library.Tokens{Access: "token-" + creds.Username}, nil
}

func (f *fakeBackend) Register(_ context.Context, reg library.Registration) (library.User, error) {
	f.record("register")
	return library.User{ID: 2, Username: reg.Username, Email: reg.Email, Role: reg.Role}, f.actionErr
}

func (f *fakeBackend) CurrentUser(context.Context) (library.User, error) {
	f.record("me")
	if f.meErr != nil {
		return library.User{}, f.meErr
	}
	return f.user, nil
}

func (f *fakeBackend) RevokeToken(_ context.Context, token string) error {
	f.record("logout")
	f.revoked <- token
	return nil
}

func (f *fakeBackend) ListBooks(context.Context, library.BookFilter) ([]library.Book, error) {
	f.record("books")
	return f.books, nil
}

func (f *fakeBackend) CreateBook(_ context.Context, b library.NewBook) (library.Book, error) {
	f.record("createBook")
	if f.actionErr != nil {
		return library.Book{}, f.actionErr
	}
	return library.Book{ID: 99, Title: b.Title, Author: b.Author, Category: b.Category, ISBN: b.ISBN, Status: b.Status}, nil
}

func (f *fakeBackend) ListBorrowRecords(context.Context) ([]library.BorrowRecord, error) {
	f.record("borrows")
	return f.records, nil
}

func (f *fakeBackend) CreateBorrowRecord(_ context.Context, b library.NewBorrow) (library.BorrowRecord, error) {
	f.record("createBorrow")
	if f.actionErr != nil {
		return library.BorrowRecord{}, f.actionErr
	}
	return library.BorrowRecord{ID: 10, Book: library.BookSummary{ID: b.BookID}, DueDate: b.DueDate}, nil
}

func (f *fakeBackend) ReturnBorrowRecord(context.Context, int64) (string, error) {
	f.record("return")
	return f.message, f.actionErr
}

func (f *fakeBackend) SendBorrowerEmail(context.Context, library.BorrowerEmail) (string, error) {
	f.record("email")
	return f.message, f.actionErr
}

func (f *fakeBackend) CheckDueBooks(context.Context) (string, error) {
	f.record("checkDue")
	return f.message, f.actionErr
}

func unauthorized() error {
	return &api.Error{Kind: api.ErrUnauthorized, Status: 401, Message: "Given token not valid for any token type"}
}
