package library

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Role is the access level of a library account.
type Role string

const (
	RoleMember    Role = "member"
	RoleLibrarian Role = "librarian"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleLibrarian, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether r may manage books and other members' borrows.
func (r Role) IsStaff() bool { return r == RoleLibrarian || r == RoleAdmin }

// BookStatus is the circulation state of a book.
type BookStatus string

const (
	BookAvailable BookStatus = "available"
	BookBorrowed  BookStatus = "borrowed"
	BookReserved  BookStatus = "reserved"
)

func (s BookStatus) Valid() bool {
	switch s {
	case BookAvailable, BookBorrowed, BookReserved:
		return true
	}
	return false
}

// User is the identity of a logged-in account.
type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Email    string `json:"email" db:"email"`
	Role     Role   `json:"role" db:"role"`
}

// Credentials are submitted to log in.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the profile submitted to create an account.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// Tokens is the login response. Only Access is used by the client.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Book represents a catalog entry and its availability.
type Book struct {
	ID       int64      `json:"id" db:"id"`
	Title    string     `json:"title" db:"title"`
	Author   string     `json:"author" db:"author"`
	Category int64      `json:"category" db:"category_id"`
	ISBN     string     `json:"ISBN" db:"isbn"`
	Status   BookStatus `json:"status" db:"status"`
}

// NewBook is the payload for adding a book.
type NewBook struct {
	Title    string     `json:"title"`
	Author   string     `json:"author"`
	Category int64      `json:"category"`
	ISBN     string     `json:"ISBN"`
	Status   BookStatus `json:"status,omitempty"`
}

// Missing returns the names of required fields that are empty.
func (b NewBook) Missing() []string {
	var missing []string
	if strings.TrimSpace(b.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(b.Author) == "" {
		missing = append(missing, "author")
	}
	if b.Category == 0 {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(b.ISBN) == "" {
		missing = append(missing, "ISBN")
	}
	return missing
}

// BookFilter narrows a book listing. Zero values mean "no constraint".
type BookFilter struct {
	Search   string
	Status   BookStatus
	Category int64
	// Ordering is a field name, optionally prefixed with "-" for descending.
	Ordering string
}

// Category groups books on the shelves.
type Category struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// BookSummary is the denormalized book carried by a borrow record.
type BookSummary struct {
	ID     int64  `json:"id" db:"book_id"`
	Title  string `json:"title" db:"book_title"`
	Author string `json:"author" db:"book_author"`
	ISBN   string `json:"ISBN,omitempty" db:"book_isbn"`
}

// UserInfo is the denormalized borrower shown to staff.
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// BorrowRecord associates a book with a borrower and its dates.
// A nil ReturnDate means the book is still out.
type BorrowRecord struct {
	ID         int64       `json:"id"`
	Book       BookSummary `json:"book"`
	UserInfo   *UserInfo   `json:"user_info,omitempty"`
	BorrowDate Date        `json:"borrow_date"`
	DueDate    Date        `json:"due_date"`
	ReturnDate *Date       `json:"return_date"`
}

// Returned reports whether the record has been closed.
func (r BorrowRecord) Returned() bool { return r.ReturnDate != nil && !r.ReturnDate.IsZero() }

// BorrowStatus is derived from a record's dates, never stored.
type BorrowStatus int

const (
	StatusBorrowed BorrowStatus = iota
	StatusOverdue
	StatusReturned
)

func (s BorrowStatus) String() string {
	switch s {
	case StatusReturned:
		return "Returned"
	case StatusOverdue:
		return "Overdue"
	default:
		return "Borrowed"
	}
}

// StatusAt classifies the record as seen at now. A record becomes overdue
// on the calendar day after its due date.
func (r BorrowRecord) StatusAt(now time.Time) BorrowStatus {
	if r.Returned() {
		return StatusReturned
	}
	due := NewDate(r.DueDate.Time)
	if NewDate(now.In(due.Location())).After(due.Time) {
		return StatusOverdue
	}
	return StatusBorrowed
}

// NewBorrow is the payload for borrowing a book.
type NewBorrow struct {
	BookID  int64 `json:"book_id"`
	DueDate Date  `json:"due_date"`
}

// BorrowerEmail asks the backend to message the borrower of record ID.
type BorrowerEmail struct {
	ID      int64  `json:"-"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Message is the generic acknowledgement body used by action endpoints.
type Message struct {
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Date
// ---------------------------------------------------------------------------

const dateLayout = "2006-01-02"

// Date is a calendar date or timestamp as exchanged with the API.
// Plain dates are interpreted at local midnight.
type Date struct {
	time.Time
	// timestamp is set when the value was parsed from RFC 3339 and must be
	// re-encoded with its clock, even at midnight.
	timestamp bool
}

// NewDate truncates t to its calendar day in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, t.Location())}
}

// ParseDate accepts YYYY-MM-DD or RFC 3339.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(dateLayout, s, time.Local); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date{Time: t, timestamp: true}, nil
}

// String renders plain dates as YYYY-MM-DD and timestamps as RFC 3339.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	if !d.timestamp {
		return d.Format(dateLayout)
	}
	return d.Format(time.RFC3339)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = Date{}
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
