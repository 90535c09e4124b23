package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned when a username/password pair does not match.
var ErrBadCredentials = errors.New("no active account found with the given credentials")

// Mailer delivers borrower notifications.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes messages to the structured log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email sent", "to", to, "subject", subject, "body", body)
	return nil
}

// LibraryManager is a thin façade over the Database holding the business rules
// the HTTP layer relies on.
type LibraryManager struct {
	db     *Database
	mailer Mailer
	now    func() time.Time
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, mailer Mailer) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &LibraryManager{db: db, mailer: mailer, now: time.Now}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Database exposes the storage layer for seeding and maintenance.
func (lm *LibraryManager) Database() *Database { return lm.db }

// ------------------ Accounts ------------------

// Register validates the profile and stores a new account with a bcrypt hash.
func (lm *LibraryManager) Register(reg Registration) (*User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	if reg.Username == "" {
		return nil, fmt.Errorf("%w: username: This field may not be blank.", ErrInvalid)
	}
	if reg.Password == "" {
		return nil, fmt.Errorf("%w: password: This field may not be blank.", ErrInvalid)
	}
	if _, err := mail.ParseAddress(reg.Email); err != nil {
		return nil, fmt.Errorf("%w: email: Enter a valid email address.", ErrInvalid)
	}
	if reg.Role == "" {
		reg.Role = RoleMember
	}
	if !reg.Role.Valid() {
		return nil, fmt.Errorf("%w: role: %q is not a valid choice.", ErrInvalid, reg.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id, err := lm.db.AddUser(reg.Username, reg.Email, string(hash), reg.Role)
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Username: reg.Username, Email: reg.Email, Role: reg.Role}, nil
}

// Authenticate verifies the credentials and returns the matching account.
func (lm *LibraryManager) Authenticate(c Credentials) (*User, error) {
	row, err := lm.db.userByUsername(strings.TrimSpace(c.Username))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(c.Password)); err != nil {
		return nil, ErrBadCredentials
	}
	return &row.User, nil
}

func (lm *LibraryManager) GetUser(id int64) (*User, error) { return lm.db.GetUser(id) }

// ListUsers returns every account ordered by id.
func (lm *LibraryManager) ListUsers() ([]*User, error) { return lm.db.GetAllUsers() }

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddCategory(name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name: This field may not be blank.", ErrInvalid)
	}
	id, err := lm.db.AddCategory(name)
	if err != nil {
		return nil, err
	}
	return &Category{ID: id, Name: name}, nil
}

func (lm *LibraryManager) GetAllCategories() ([]*Category, error) { return lm.db.GetAllCategories() }

// AddBook validates the required fields before inserting.
func (lm *LibraryManager) AddBook(b NewBook) (*Book, error) {
	if missing := b.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: This field is required.", ErrInvalid, strings.Join(missing, ", "))
	}
	if b.Status == "" {
		b.Status = BookAvailable
	}
	if !b.Status.Valid() {
		return nil, fmt.Errorf("%w: status: %q is not a valid choice.", ErrInvalid, b.Status)
	}
	id, err := lm.db.AddBook(b)
	if err != nil {
		return nil, err
	}
	return lm.db.GetBook(id)
}

func (lm *LibraryManager) ListBooks(f BookFilter) ([]*Book, error) { return lm.db.ListBooks(f) }

// ------------------ Circulation ------------------

// Borrow lends an available book to user until due.
func (lm *LibraryManager) Borrow(user *User, req NewBorrow) (*BorrowRecord, error) {
	if req.BookID == 0 {
		return nil, fmt.Errorf("%w: book_id: This field is required.", ErrInvalid)
	}
	if req.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: due_date: This field is required.", ErrInvalid)
	}
	now := lm.now()
	if req.DueDate.Before(NewDate(now).Time) {
		return nil, fmt.Errorf("%w: due_date: Due date cannot be in the past.", ErrInvalid)
	}
	id, err := lm.db.CreateBorrow(req.BookID, user.ID, req.DueDate, now)
	if err != nil {
		return nil, err
	}
	rec, _, err := lm.db.GetBorrowRecord(id)
	if err != nil {
		return nil, err
	}
	return lm.scope(user, *rec), nil
}

// BorrowRecords lists what user may see: everything for staff, their own otherwise.
func (lm *LibraryManager) BorrowRecords(user *User) ([]BorrowRecord, error) {
	var ownerID int64
	if !user.Role.IsStaff() {
		ownerID = user.ID
	}
	records, err := lm.db.ListBorrowRecords(ownerID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i] = *lm.scope(user, records[i])
	}
	return records, nil
}

// scope strips borrower details from records shown to members.
func (lm *LibraryManager) scope(user *User, rec BorrowRecord) *BorrowRecord {
	if !user.Role.IsStaff() {
		rec.UserInfo = nil
	}
	return &rec
}

// visibleRecord loads a record, hiding other members' records as not found.
func (lm *LibraryManager) visibleRecord(user *User, id int64) (*BorrowRecord, error) {
	rec, ownerID, err := lm.db.GetBorrowRecord(id)
	if err != nil {
		return nil, err
	}
	if !user.Role.IsStaff() && ownerID != user.ID {
		return nil, fmt.Errorf("%w: borrow record %d", ErrNotFound, id)
	}
	return rec, nil
}

// ReturnBook closes the record. Members may only return their own loans.
func (lm *LibraryManager) ReturnBook(user *User, recordID int64) error {
	if _, err := lm.visibleRecord(user, recordID); err != nil {
		return err
	}
	return lm.db.ReturnBorrow(recordID, lm.now())
}

// EmailBorrower sends a free-form message to the borrower of recordID.
func (lm *LibraryManager) EmailBorrower(ctx context.Context, recordID int64, subject, body string) error {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: subject and message are required", ErrInvalid)
	}
	rec, _, err := lm.db.GetBorrowRecord(recordID)
	if err != nil {
		return err
	}
	if err := lm.mailer.Send(ctx, rec.UserInfo.Email, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// NotifyOverdue emails every borrower holding a book past its due date and
// returns how many notifications were sent.
func (lm *LibraryManager) NotifyOverdue(ctx context.Context) (int, error) {
	records, err := lm.db.OverdueRecords(lm.now())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range records {
		subject := "Library Due Date Reminder"
		body := fmt.Sprintf("Dear user, the book '%s' was due on %s. Please return it as soon as possible.",
			rec.Book.Title, rec.DueDate.Format(dateLayout))
		if err := lm.mailer.Send(ctx, rec.UserInfo.Email, subject, body); err != nil {
			return count, fmt.Errorf("notify record %d: %w", rec.ID, err)
		}
		count++
	}
	return count, nil
}

// ------------------ Sessions ------------------

func (lm *LibraryManager) RevokeToken(jti string, expiresAt time.Time) error {
	return lm.db.RevokeToken(jti, expiresAt)
}

func (lm *LibraryManager) IsRevoked(jti string) (bool, error) { return lm.db.IsRevoked(jti) }
