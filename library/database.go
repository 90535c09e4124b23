package library

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned when input is rejected by a business rule.
	ErrInvalid = errors.New("invalid input")

	// ErrConflict is returned when the operation clashes with the row's current state.
	ErrConflict = errors.New("conflict")
)

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper

	addUserStmt *sqlx.Stmt
	addBookStmt *sqlx.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db, dialect: goqu.Dialect("sqlite3")}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addUserStmt != nil {
		d.addUserStmt.Close()
	}
	if d.addBookStmt != nil {
		d.addBookStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Dates are TEXT so the driver hands them back verbatim.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member'
        );`,
		`CREATE TABLE IF NOT EXISTS categories (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            category_id INTEGER NOT NULL REFERENCES categories(id),
            isbn TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL DEFAULT 'available'
        );`,
		`CREATE TABLE IF NOT EXISTS borrow_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id INTEGER NOT NULL REFERENCES books(id),
            user_id INTEGER NOT NULL REFERENCES users(id),
            borrow_date TEXT NOT NULL,
            due_date TEXT NOT NULL,
            return_date TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_borrow_records_user ON borrow_records(user_id);`,
		`CREATE TABLE IF NOT EXISTS revoked_tokens (
            jti TEXT PRIMARY KEY,
            expires_at TEXT NOT NULL
        );`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for _, stmt := range stmts {
		args := []any{}
		if strings.Contains(stmt, "?") {
			args = append(args, schemaVersion)
		}
		if _, err := tx.Exec(stmt, args...); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addUserStmt, err = d.db.Preparex(`INSERT INTO users(username,email,password_hash,role) VALUES(?,?,?,?)`); err != nil {
		return err
	}
	if d.addBookStmt, err = d.db.Preparex(`INSERT INTO books(title,author,category_id,isbn,status) VALUES(?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// uniqueViolation turns SQLite constraint failures into friendly errors.
func uniqueViolation(err error, what string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		field := msg[strings.LastIndex(msg, ".")+1:]
		return fmt.Errorf("%w: %s with this %s already exists", ErrInvalid, what, field)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s references a missing row", ErrInvalid, what)
	}
	return err
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// userRow carries the password hash, which never leaves this package's callers.
type userRow struct {
	User
	PasswordHash string `db:"password_hash"`
}

func (d *Database) AddUser(username, email, passwordHash string, role Role) (int64, error) {
	res, err := d.addUserStmt.Exec(username, email, passwordHash, string(role))
	if err != nil {
		return 0, uniqueViolation(err, "user")
	}
	return res.LastInsertId()
}

// GetUser fetches a single account.
func (d *Database) GetUser(id int64) (*User, error) {
	var u User
	err := d.db.Get(&u, `SELECT id,username,email,role FROM users WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *Database) userByUsername(username string) (*userRow, error) {
	var u userRow
	err := d.db.Get(&u, `SELECT id,username,email,role,password_hash FROM users WHERE username=?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetAllUsers returns all accounts ordered by id.
func (d *Database) GetAllUsers() ([]*User, error) {
	var users []*User
	if err := d.db.Select(&users, `SELECT id,username,email,role FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	return users, nil
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

func (d *Database) AddCategory(name string) (int64, error) {
	res, err := d.db.Exec(`INSERT INTO categories(name) VALUES(?)`, name)
	if err != nil {
		return 0, uniqueViolation(err, "category")
	}
	return res.LastInsertId()
}

// CategoryByName looks a category up by its exact name.
func (d *Database) CategoryByName(name string) (*Category, error) {
	var c Category
	err := d.db.Get(&c, `SELECT id,name FROM categories WHERE name=?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: category %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (d *Database) GetAllCategories() ([]*Category, error) {
	categories := []*Category{}
	if err := d.db.Select(&categories, `SELECT id,name FROM categories ORDER BY name`); err != nil {
		return nil, err
	}
	return categories, nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// AddBook inserts a book; status defaults to available.
func (d *Database) AddBook(b NewBook) (int64, error) {
	status := b.Status
	if status == "" {
		status = BookAvailable
	}
	res, err := d.addBookStmt.Exec(b.Title, b.Author, b.Category, b.ISBN, string(status))
	if err != nil {
		return 0, uniqueViolation(err, "book")
	}
	return res.LastInsertId()
}

func (d *Database) GetBook(id int64) (*Book, error) {
	var b Book
	err := d.db.Get(&b, `SELECT id,title,author,category_id,isbn,status FROM books WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: book %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// orderable maps API ordering names to columns.
var orderable = map[string]string{
	"title":  "title",
	"author": "author",
	"id":     "id",
}

// ListBooks returns the books matching f, ordered by id unless f says otherwise.
func (d *Database) ListBooks(f BookFilter) ([]*Book, error) {
	ds := d.dialect.From("books").
		Select("id", "title", "author", "category_id", "isbn", "status")

	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + q + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").Like(like),
			goqu.C("author").Like(like),
			goqu.C("isbn").Like(like),
		))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	if f.Category != 0 {
		ds = ds.Where(goqu.C("category_id").Eq(f.Category))
	}

	ordering := strings.TrimSpace(f.Ordering)
	desc := strings.HasPrefix(ordering, "-")
	col, ok := orderable[strings.TrimPrefix(ordering, "-")]
	switch {
	case !ok:
		ds = ds.Order(goqu.C("id").Asc())
	case desc:
		ds = ds.Order(goqu.C(col).Desc(), goqu.C("id").Asc())
	default:
		ds = ds.Order(goqu.C(col).Asc(), goqu.C("id").Asc())
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}

	books := []*Book{}
	if err := d.db.Select(&books, query, args...); err != nil {
		return nil, err
	}
	return books, nil
}

// ---------------------------------------------------------------------------
// Borrow records
// ---------------------------------------------------------------------------

// borrowRow is the flat join of a record with its book and borrower.
type borrowRow struct {
	ID         int64          `db:"id"`
	UserID     int64          `db:"user_id"`
	BorrowDate string         `db:"borrow_date"`
	DueDate    string         `db:"due_date"`
	ReturnDate sql.NullString `db:"return_date"`
	BookSummary
	Username string `db:"username"`
	Email    string `db:"email"`
}

func (r borrowRow) record() (BorrowRecord, error) {
	rec := BorrowRecord{
		ID:       r.ID,
		Book:     r.BookSummary,
		UserInfo: &UserInfo{ID: r.UserID, Username: r.Username, Email: r.Email},
	}
	var err error
	if rec.BorrowDate, err = ParseDate(r.BorrowDate); err != nil {
		return rec, fmt.Errorf("record %d borrow_date: %w", r.ID, err)
	}
	if rec.DueDate, err = ParseDate(r.DueDate); err != nil {
		return rec, fmt.Errorf("record %d due_date: %w", r.ID, err)
	}
	if r.ReturnDate.Valid {
		ret, err := ParseDate(r.ReturnDate.String)
		if err != nil {
			return rec, fmt.Errorf("record %d return_date: %w", r.ID, err)
		}
		rec.ReturnDate = &ret
	}
	return rec, nil
}

const borrowSelect = `
    SELECT r.id, r.user_id, r.borrow_date, r.due_date, r.return_date,
           b.id AS book_id, b.title AS book_title, b.author AS book_author, b.isbn AS book_isbn,
           u.username, u.email
    FROM borrow_records r
    JOIN books b ON b.id = r.book_id
    JOIN users u ON u.id = r.user_id`

func (d *Database) selectBorrows(query string, args ...any) ([]BorrowRecord, error) {
	var rows []borrowRow
	if err := d.db.Select(&rows, borrowSelect+" "+query, args...); err != nil {
		return nil, err
	}
	records := make([]BorrowRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// CreateBorrow records the loan and marks the book borrowed in one transaction.
func (d *Database) CreateBorrow(bookID, userID int64, due Date, now time.Time) (int64, error) {
	tx, err := d.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var status string
	err = tx.Get(&status, `SELECT status FROM books WHERE id=?`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: book %d does not exist", ErrInvalid, bookID)
	}
	if err != nil {
		return 0, err
	}
	if BookStatus(status) != BookAvailable {
		return 0, fmt.Errorf("%w: This book is not available for borrowing", ErrInvalid)
	}

	res, err := tx.Exec(`INSERT INTO borrow_records(book_id,user_id,borrow_date,due_date) VALUES(?,?,?,?)`,
		bookID, userID, now.UTC().Format(time.RFC3339), due.Format(dateLayout))
	if err != nil {
		return 0, uniqueViolation(err, "borrow record")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`UPDATE books SET status=? WHERE id=?`, string(BookBorrowed), bookID); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// GetBorrowRecord fetches one record with its owner's id.
func (d *Database) GetBorrowRecord(id int64) (*BorrowRecord, int64, error) {
	var row borrowRow
	err := d.db.Get(&row, borrowSelect+` WHERE r.id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("%w: borrow record %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, 0, err
	}
	rec, err := row.record()
	if err != nil {
		return nil, 0, err
	}
	return &rec, row.UserID, nil
}

// ListBorrowRecords returns every record, or only userID's when userID is non-zero.
func (d *Database) ListBorrowRecords(userID int64) ([]BorrowRecord, error) {
	if userID == 0 {
		return d.selectBorrows(`ORDER BY r.id`)
	}
	return d.selectBorrows(`WHERE r.user_id=? ORDER BY r.id`, userID)
}

// OverdueRecords returns outstanding records whose due date is on or before today.
func (d *Database) OverdueRecords(now time.Time) ([]BorrowRecord, error) {
	return d.selectBorrows(`WHERE r.return_date IS NULL AND r.due_date <= ? ORDER BY r.due_date, r.id`,
		now.Format(dateLayout))
}

// ReturnBorrow closes the record and makes the book available again.
func (d *Database) ReturnBorrow(id int64, now time.Time) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var row struct {
		BookID     int64          `db:"book_id"`
		ReturnDate sql.NullString `db:"return_date"`
	}
	err = tx.Get(&row, `SELECT book_id, return_date FROM borrow_records WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: borrow record %d", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if row.ReturnDate.Valid {
		return fmt.Errorf("%w: Book already returned", ErrConflict)
	}

	if _, err := tx.Exec(`UPDATE borrow_records SET return_date=? WHERE id=?`, now.UTC().Format(time.RFC3339), id); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE books SET status=? WHERE id=?`, string(BookAvailable), row.BookID); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Token revocation
// ---------------------------------------------------------------------------

// RevokeToken remembers jti until expiresAt. Revoking twice is a no-op.
func (d *Database) RevokeToken(jti string, expiresAt time.Time) error {
	_, err := d.db.Exec(`INSERT INTO revoked_tokens(jti,expires_at) VALUES(?,?) ON CONFLICT(jti) DO NOTHING`,
		jti, expiresAt.UTC().Format(time.RFC3339))
	return err
}

func (d *Database) IsRevoked(jti string) (bool, error) {
	var exists bool
	if err := d.db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=?)`, jti); err != nil {
		return false, err
	}
	return exists, nil
}

// PurgeRevokedTokens drops revocations whose tokens have expired anyway.
func (d *Database) PurgeRevokedTokens(now time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
