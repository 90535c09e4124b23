package store

import (
	"context"
	"strings"

	"library-console/api"
	"library-console/library"
)

const sliceBooks = "books"

const (
	opFetchBooks     = "fetchBooks"
	opSearchBooks    = "searchBooks"
	opCreateBook     = "createBook"
	opClearBookError = "clearBookError"
)

// BookState is the catalog slice.
type BookState struct {
	Books   []library.Book
	Loading bool
	Error   string
}

func reduceBooks(s BookState, a Action) BookState {
	if a.Slice == sliceAuth && a.Op == opLogout {
		return BookState{}
	}
	if a.Slice != sliceBooks {
		return s
	}
	if a.Op == opClearBookError {
		s.Error = ""
		return s
	}

	switch a.Phase {
	case Pending:
		s.Loading = true
		s.Error = ""
	case Rejected:
		s.Loading = false
		s.Error = errorMessage(a.Err)
	case Fulfilled:
		s.Loading = false
		if books, ok := a.Payload.([]library.Book); ok {
			s.Books = books
		}
	}
	return s
}

// FetchBooks replaces the in-memory list with the backend's catalog.
func (s *Store) FetchBooks(ctx context.Context) ([]library.Book, error) {
	return thunk(s, sliceBooks, opFetchBooks, func() ([]library.Book, error) {
		return s.backend.ListBooks(ctx, library.BookFilter{})
	})
}

// SearchBooks replaces the in-memory list with the books matching f.
func (s *Store) SearchBooks(ctx context.Context, f library.BookFilter) ([]library.Book, error) {
	return thunk(s, sliceBooks, opSearchBooks, func() ([]library.Book, error) {
		return s.backend.ListBooks(ctx, f)
	})
}

// CreateBook submits a new book. The list is not touched; refresh it with
// FetchBooks or use CreateBookThenRefresh.
func (s *Store) CreateBook(ctx context.Context, b library.NewBook) (library.Book, error) {
	return thunk(s, sliceBooks, opCreateBook, func() (library.Book, error) {
		if missing := b.Missing(); len(missing) > 0 {
			return library.Book{}, &api.Error{
				Kind:    api.ErrValidation,
				Message: "Please fill in all required fields: " + strings.Join(missing, ", "),
			}
		}
		if b.Status == "" {
			b.Status = library.BookAvailable
		}
		return s.backend.CreateBook(ctx, b)
	})
}

// CreateBookThenRefresh creates the book and then re-fetches the catalog.
func (s *Store) CreateBookThenRefresh(ctx context.Context, b library.NewBook) (library.Book, error) {
	book, err := s.CreateBook(ctx, b)
	if err != nil {
		return book, err
	}
	_, err = s.FetchBooks(ctx)
	return book, err
}

// ClearBookError drops the last book error.
func (s *Store) ClearBookError() {
	s.dispatch(Action{Slice: sliceBooks, Op: opClearBookError})
}
