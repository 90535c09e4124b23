package store

import (
	"context"
	"fmt"
	"strings"

	"library-console/api"
	"library-console/library"
)

const sliceBorrows = "borrows"

const (
	opFetchBorrowRecords = "fetchBorrowRecords"
	opCreateBorrowRecord = "createBorrowRecord"
	opReturnBorrowedBook = "returnBorrowedBook"
	opSendBorrowerEmail  = "sendBorrowerEmail"
	opCheckDueBooks      = "checkDueBooks"
	opClearBorrowError   = "clearBorrowError"
	opClearBorrowSuccess = "clearBorrowSuccess"
)

// BorrowState is the circulation slice.
type BorrowState struct {
	Records []library.BorrowRecord
	Loading bool
	Error   string
	// Success is set by a fulfilled mutation until cleared; Message carries the
	// backend's acknowledgement when it sent one.
	Success bool
	Message string
}

func reduceBorrows(s BorrowState, a Action) BorrowState {
	if a.Slice == sliceAuth && a.Op == opLogout {
		return BorrowState{}
	}
	if a.Slice != sliceBorrows {
		return s
	}
	switch a.Op {
	case opClearBorrowError:
		s.Error = ""
		return s
	case opClearBorrowSuccess:
		s.Success = false
		s.Message = ""
		return s
	}

	switch a.Phase {
	case Pending:
		s.Loading = true
		s.Error = ""
		if a.Op != opFetchBorrowRecords {
			s.Success = false
			s.Message = ""
		}
	case Rejected:
		s.Loading = false
		s.Error = errorMessage(a.Err)
	case Fulfilled:
		s.Loading = false
		switch payload := a.Payload.(type) {
		case []library.BorrowRecord:
			s.Records = payload
		case library.BorrowRecord:
			s.Success = true
			s.Message = "Book borrowed successfully!"
		case string:
			s.Success = true
			s.Message = payload
		}
	}
	return s
}

func validationError(format string, args ...any) error {
	return &api.Error{Kind: api.ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// FetchBorrowRecords replaces the in-memory list. The backend decides the
// scope: own records for members, everything for staff.
func (s *Store) FetchBorrowRecords(ctx context.Context) ([]library.BorrowRecord, error) {
	return thunk(s, sliceBorrows, opFetchBorrowRecords, func() ([]library.BorrowRecord, error) {
		return s.backend.ListBorrowRecords(ctx)
	})
}

// CreateBorrowRecord borrows a book. Missing fields and due dates before
// today are rejected before any request is made.
func (s *Store) CreateBorrowRecord(ctx context.Context, b library.NewBorrow) (library.BorrowRecord, error) {
	return thunk(s, sliceBorrows, opCreateBorrowRecord, func() (library.BorrowRecord, error) {
		if b.BookID == 0 || b.DueDate.IsZero() {
			return library.BorrowRecord{}, validationError("Please select a book and due date")
		}
		today := library.NewDate(s.now())
		if b.DueDate.Before(today.Time) {
			return library.BorrowRecord{}, validationError("due_date: Due date cannot be in the past.")
		}
		return s.backend.CreateBorrowRecord(ctx, b)
	})
}

// CreateBorrowRecordThenRefresh borrows the book and re-fetches the records.
func (s *Store) CreateBorrowRecordThenRefresh(ctx context.Context, b library.NewBorrow) (library.BorrowRecord, error) {
	rec, err := s.CreateBorrowRecord(ctx, b)
	if err != nil {
		return rec, err
	}
	_, err = s.FetchBorrowRecords(ctx)
	return rec, err
}

// ReturnBorrowedBook marks record id returned. The held record is left as is;
// re-fetch to see its return date.
func (s *Store) ReturnBorrowedBook(ctx context.Context, id int64) error {
	_, err := thunk(s, sliceBorrows, opReturnBorrowedBook, func() (string, error) {
		if rec, ok := s.record(id); ok && rec.Returned() {
			return "", &api.Error{Kind: api.ErrConflict, Message: "Book already returned"}
		}
		msg, err := s.backend.ReturnBorrowRecord(ctx, id)
		if err == nil && strings.TrimSpace(msg) == "" {
			msg = "Book returned successfully"
		}
		return msg, err
	})
	return err
}

// ReturnBorrowedBookThenRefresh returns the book and re-fetches the records.
func (s *Store) ReturnBorrowedBookThenRefresh(ctx context.Context, id int64) error {
	if err := s.ReturnBorrowedBook(ctx, id); err != nil {
		return err
	}
	_, err := s.FetchBorrowRecords(ctx)
	return err
}

// SendBorrowerEmail asks the backend to notify the borrower of record e.ID.
// Only the success and error flags change.
func (s *Store) SendBorrowerEmail(ctx context.Context, e library.BorrowerEmail) error {
	_, err := thunk(s, sliceBorrows, opSendBorrowerEmail, func() (string, error) {
		if strings.TrimSpace(e.Subject) == "" || strings.TrimSpace(e.Message) == "" {
			return "", validationError("Subject and message are required")
		}
		msg, err := s.backend.SendBorrowerEmail(ctx, e)
		if err == nil && strings.TrimSpace(msg) == "" {
			msg = "Email sent successfully"
		}
		return msg, err
	})
	return err
}

// CheckDueBooks asks the backend to notify every overdue borrower and records
// its summary in Message.
func (s *Store) CheckDueBooks(ctx context.Context) (string, error) {
	return thunk(s, sliceBorrows, opCheckDueBooks, func() (string, error) {
		return s.backend.CheckDueBooks(ctx)
	})
}

// ClearBorrowError drops the last borrow error.
func (s *Store) ClearBorrowError() {
	s.dispatch(Action{Slice: sliceBorrows, Op: opClearBorrowError})
}

// ClearBorrowSuccess drops the success flag and message.
func (s *Store) ClearBorrowSuccess() {
	s.dispatch(Action{Slice: sliceBorrows, Op: opClearBorrowSuccess})
}

func (s *Store) record(id int64) (library.BorrowRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.state.Borrows.Records {
		if rec.ID == id {
			return rec, true
		}
	}
	return library.BorrowRecord{}, false
}
