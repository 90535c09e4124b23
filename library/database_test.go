package library

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedBook adds a category and a book in it.
func seedBook(t *testing.T, db *Database, title, isbn string) int64 {
	t.Helper()
	catID, err := db.AddCategory("Shelf " + isbn)
	if err != nil {
		t.Fatalf("add category: %v", err)
	}
	id, err := db.AddBook(NewBook{Title: title, Author: "Author " + title, Category: catID, ISBN: isbn})
	if err != nil {
		t.Fatalf("add book: %v", err)
	}
	return id
}

func seedUser(t *testing.T, db *Database, name string, role Role) int64 {
	t.Helper()
	id, err := db.AddUser(name, name+"@example.com", "hash", role)
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	return id
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	for i := 0; i < 2; i++ {
		db, err := NewDatabase(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		db.Close()
	}
}

func TestDuplicateISBNRejected(t *testing.T) {
	db := tempDB(t)
	seedBook(t, db, "Dune", "111")

	catID, _ := db.AddCategory("Other")
	_, err := db.AddBook(NewBook{Title: "Dune again", Author: "Herbert", Category: catID, ISBN: "111"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestBookNeedsExistingCategory(t *testing.T) {
	db := tempDB(t)
	_, err := db.AddBook(NewBook{Title: "Orphan", Author: "Nobody", Category: 99, ISBN: "x"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid for missing category, got %v", err)
	}
}

func TestListBooksFilters(t *testing.T) {
	db := tempDB(t)
	fiction, _ := db.AddCategory("Fiction")
	history, _ := db.AddCategory("History")
	for _, b := range []NewBook{
		{Title: "Dune", Author: "Frank Herbert", Category: fiction, ISBN: "1"},
		{Title: "Anathem", Author: "Neal Stephenson", Category: fiction, ISBN: "2", Status: BookBorrowed},
		{Title: "SPQR", Author: "Mary Beard", Category: history, ISBN: "3"},
	} {
		if _, err := db.AddBook(b); err != nil {
			t.Fatalf("add %s: %v", b.Title, err)
		}
	}

	tests := []struct {
		name   string
		filter BookFilter
		want   []string
	}{
		{"all by id", BookFilter{}, []string{"Dune", "Anathem", "SPQR"}},
		{"search author", BookFilter{Search: "herbert"}, []string{"Dune"}},
		{"search isbn", BookFilter{Search: "3"}, []string{"SPQR"}},
		{"status", BookFilter{Status: BookAvailable}, []string{"Dune", "SPQR"}},
		{"category", BookFilter{Category: fiction}, []string{"Dune", "Anathem"}},
		{"ordering", BookFilter{Ordering: "title"}, []string{"Anathem", "Dune", "SPQR"}},
		{"descending", BookFilter{Ordering: "-title"}, []string{"SPQR", "Dune", "Anathem"}},
		{"unknown ordering falls back", BookFilter{Ordering: "isbn; DROP"}, []string{"Dune", "Anathem", "SPQR"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books, err := db.ListBooks(tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			var got []string
			for _, b := range books {
				got = append(got, b.Title)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("want %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestBorrowAndReturnFlow(t *testing.T) {
	db := tempDB(t)
	bookID := seedBook(t, db, "Book", "100")
	userID := seedUser(t, db, "alice", RoleMember)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	due := NewDate(now.AddDate(0, 0, 14))

	recID, err := db.CreateBorrow(bookID, userID, due, now)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	book, _ := db.GetBook(bookID)
	if book.Status != BookBorrowed {
		t.Fatalf("want borrowed, got %s", book.Status)
	}

	if _, err := db.CreateBorrow(bookID, userID, due, now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("second borrow: want ErrInvalid, got %v", err)
	}

	rec, owner, err := db.GetBorrowRecord(recID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if owner != userID || rec.Book.Title != "Book" || rec.UserInfo.Username != "alice" {
		t.Fatalf("unexpected record %+v owner %d", rec, owner)
	}
	if !rec.DueDate.Equal(due.Time) {
		t.Fatalf("due date: want %v, got %v", due, rec.DueDate)
	}
	if rec.Returned() {
		t.Fatalf("new record already returned")
	}

	if err := db.ReturnBorrow(recID, now.Add(time.Hour)); err != nil {
		t.Fatalf("return: %v", err)
	}
	if err := db.ReturnBorrow(recID, now.Add(2*time.Hour)); !errors.Is(err, ErrConflict) {
		t.Fatalf("second return: want ErrConflict, got %v", err)
	}
	if err := db.ReturnBorrow(999, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record: want ErrNotFound, got %v", err)
	}

	book, _ = db.GetBook(bookID)
	if book.Status != BookAvailable {
		t.Fatalf("want available after return, got %s", book.Status)
	}
	rec, _, _ = db.GetBorrowRecord(recID)
	if !rec.Returned() {
		t.Fatalf("record not marked returned")
	}
}

func TestListBorrowRecordsScope(t *testing.T) {
	db := tempDB(t)
	alice := seedUser(t, db, "alice", RoleMember)
	bob := seedUser(t, db, "bob", RoleMember)
	now := time.Now()
	due := NewDate(now.AddDate(0, 0, 7))

	if _, err := db.CreateBorrow(seedBook(t, db, "A", "1"), alice, due, now); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := db.CreateBorrow(seedBook(t, db, "B", "2"), bob, due, now); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	all, err := db.ListBorrowRecords(0)
	if err != nil || len(all) != 2 {
		t.Fatalf("all: want 2, got %d (%v)", len(all), err)
	}
	mine, err := db.ListBorrowRecords(alice)
	if err != nil || len(mine) != 1 || mine[0].Book.Title != "A" {
		t.Fatalf("alice: unexpected %+v (%v)", mine, err)
	}
}

func TestOverdueRecords(t *testing.T) {
	db := tempDB(t)
	userID := seedUser(t, db, "carol", RoleMember)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)

	late, _ := db.CreateBorrow(seedBook(t, db, "Late", "1"), userID, NewDate(now.AddDate(0, 0, -3)), now.AddDate(0, 0, -10))
	dueToday, _ := db.CreateBorrow(seedBook(t, db, "Today", "2"), userID, NewDate(now), now.AddDate(0, 0, -7))
	if _, err := db.CreateBorrow(seedBook(t, db, "Future", "3"), userID, NewDate(now.AddDate(0, 0, 5)), now); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	returned, _ := db.CreateBorrow(seedBook(t, db, "Back", "4"), userID, NewDate(now.AddDate(0, 0, -1)), now.AddDate(0, 0, -8))
	if err := db.ReturnBorrow(returned, now); err != nil {
		t.Fatalf("return: %v", err)
	}

	records, err := db.OverdueRecords(now)
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(records) != 2 || records[0].ID != late || records[1].ID != dueToday {
		t.Fatalf("want records %d and %d, got %+v", late, dueToday, records)
	}
}

func TestRevokedTokens(t *testing.T) {
	db := tempDB(t)
	now := time.Now()

	if err := db.RevokeToken("live", now.Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := db.RevokeToken("live", now.Add(time.Hour)); err != nil {
		t.Fatalf("revoke twice: %v", err)
	}
	if err := db.RevokeToken("stale", now.Add(-time.Hour)); err != nil {
		t.Fatalf("revoke stale: %v", err)
	}

	if ok, _ := db.IsRevoked("live"); !ok {
		t.Fatalf("live token should be revoked")
	}
	if ok, _ := db.IsRevoked("unknown"); ok {
		t.Fatalf("unknown token reported revoked")
	}

	n, err := db.PurgeRevokedTokens(now)
	if err != nil || n != 1 {
		t.Fatalf("purge: want 1, got %d (%v)", n, err)
	}
	if ok, _ := db.IsRevoked("stale"); ok {
		t.Fatalf("stale token survived purge")
	}
}
