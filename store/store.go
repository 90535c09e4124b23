// Package store holds the client-side application state: the auth, book and
// borrow slices and the operations that move them. Views read immutable
// snapshots and change state only by calling the operations, which dispatch
// named actions through per-slice reducers.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"library-console/library"
)

// Backend is the part of the API client the store drives.
type Backend interface {
	SetToken(token string)
	ClearToken()
	Token() string

	Login(ctx context.Context, creds library.Credentials) (library.Tokens, error)
	Register(ctx context.Context, reg library.Registration) (library.User, error)
	CurrentUser(ctx context.Context) (library.User, error)
	RevokeToken(ctx context.Context, token string) error

	ListBooks(ctx context.Context, f library.BookFilter) ([]library.Book, error)
	CreateBook(ctx context.Context, b library.NewBook) (library.Book, error)

	ListBorrowRecords(ctx context.Context) ([]library.BorrowRecord, error)
	CreateBorrowRecord(ctx context.Context, b library.NewBorrow) (library.BorrowRecord, error)
	ReturnBorrowRecord(ctx context.Context, id int64) (string, error)
	SendBorrowerEmail(ctx context.Context, e library.BorrowerEmail) (string, error)
	CheckDueBooks(ctx context.Context) (string, error)
}

// State is a snapshot of every slice. Snapshots are copies; mutating one has
// no effect on the store.
type State struct {
	Auth    AuthState
	Books   BookState
	Borrows BorrowState
}

func (s State) clone() State {
	if s.Auth.User != nil {
		u := *s.Auth.User
		s.Auth.User = &u
	}
	s.Books.Books = append([]library.Book(nil), s.Books.Books...)
	s.Borrows.Records = append([]library.BorrowRecord(nil), s.Borrows.Records...)
	return s
}

// Phase is the stage of an async operation an action reports.
type Phase int

const (
	// Sync actions complete immediately and carry no network call.
	Sync Phase = iota
	Pending
	Fulfilled
	Rejected
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "sync"
	}
}

// Action is one named state transition.
type Action struct {
	Slice   string
	Op      string
	Phase   Phase
	Payload any
	Err     error
}

// Type renders the action name, e.g. "books/fetchBooks/pending".
func (a Action) Type() string {
	if a.Phase == Sync {
		return a.Slice + "/" + a.Op
	}
	return a.Slice + "/" + a.Op + "/" + a.Phase.String()
}

func reduce(s State, a Action) State {
	s.Auth = reduceAuth(s.Auth, a)
	s.Books = reduceBooks(s.Books, a)
	s.Borrows = reduceBorrows(s.Borrows, a)
	return s
}

// Store is the process-wide state container. It is safe for concurrent use;
// subscribers are notified in dispatch order and must not call operations
// synchronously from the callback.
type Store struct {
	backend        Backend
	logger         *slog.Logger
	now            func() time.Time
	revokeOnLogout bool

	mu     sync.Mutex
	state  State
	subs   []subscriber
	nextID int

	// notifyMu keeps reduce+notify atomic with respect to other dispatches.
	notifyMu sync.Mutex
}

type subscriber struct {
	id int
	fn func(State)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger routes action logs to l.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces time.Now for date validation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRevokeOnLogout controls whether Logout revokes the old token in the background.
func WithRevokeOnLogout(enabled bool) Option {
	return func(s *Store) { s.revokeOnLogout = enabled }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:        backend,
		logger:         slog.Default(),
		now:            time.Now,
		revokeOnLogout: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn to receive a snapshot after every action and returns
// a function that removes it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) dispatch(a Action) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.state = reduce(s.state, a)
	snapshot := s.state.clone()
	subs := append([]subscriber(nil), s.subs...)
	s.mu.Unlock()

	if a.Err != nil {
		s.logger.Debug("dispatch", "action", a.Type(), "err", a.Err)
	} else {
		s.logger.Debug("dispatch", "action", a.Type())
	}
	for _, sub := range subs {
		sub.fn(snapshot.clone())
	}
}

// thunk runs call between a pending and a fulfilled/rejected action.
func thunk[T any](s *Store, slice, op string, call func() (T, error)) (T, error) {
	s.dispatch(Action{Slice: slice, Op: op, Phase: Pending})
	v, err := call()
	if err != nil {
		s.dispatch(Action{Slice: slice, Op: op, Phase: Rejected, Err: err})
		return v, err
	}
	s.dispatch(Action{Slice: slice, Op: op, Phase: Fulfilled, Payload: v})
	return v, nil
}

// errorMessage renders an error for display.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
