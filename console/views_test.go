package console

import (
	"bytes"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"library-console/library"
)

var (
	member    = &library.User{ID: 1, Username: "alice", Email: "alice@example.com", Role: library.RoleMember}
	librarian = &library.User{ID: 2, Username: "libby", Email: "libby@example.com", Role: library.RoleLibrarian}
	admin     = &library.User{ID: 3, Username: "root", Email: "root@example.com", Role: library.RoleAdmin}
)

func TestCapabilitiesFor(t *testing.T) {
	assert.Equal(t, Capabilities{}, CapabilitiesFor(nil))
	assert.Equal(t, Capabilities{}, CapabilitiesFor(member))
	assert.Equal(t, Capabilities{CreateBook: true, SendEmail: true, ReturnBook: true, SeeBorrowers: true}, CapabilitiesFor(librarian))
	assert.True(t, CapabilitiesFor(admin).CheckDueBooks)
	assert.True(t, CapabilitiesFor(admin).ListUsers)
	assert.False(t, CapabilitiesFor(librarian).ListUsers)
}

func TestRenderUsers(t *testing.T) {
	var buf bytes.Buffer
	RenderUsers(&buf, []library.User{*member, *admin})
	out := buf.String()
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, "admin")

	buf.Reset()
	RenderUsers(&buf, nil)
	assert.Equal(t, "No users found.\n", buf.String())
}

func sampleRecords(now time.Time) []library.BorrowRecord {
	returned := library.NewDate(time.Date(2025, 3, 9, 0, 0, 0, 0, time.Local))
	info := &library.UserInfo{ID: 1, Username: "alice", Email: "alice@example.com"}
	return []library.BorrowRecord{
		{ID: 1, Book: library.BookSummary{Title: "Dune", Author: "Frank Herbert"}, UserInfo: info,
			BorrowDate: library.NewDate(now.AddDate(0, 0, -3)), DueDate: library.NewDate(now.AddDate(0, 0, 10))},
		{ID: 2, Book: library.BookSummary{Title: "Emma", Author: "Jane Austen"}, UserInfo: info,
			BorrowDate: library.NewDate(now.AddDate(0, 0, -20)), DueDate: library.NewDate(now.AddDate(0, 0, -2))},
		{ID: 3, Book: library.BookSummary{}, UserInfo: info,
			BorrowDate: library.NewDate(now.AddDate(0, 0, -20)), DueDate: library.NewDate(now.AddDate(0, 0, -8)), ReturnDate: &returned},
	}
}

func TestRenderBorrowRecordsForMember(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.Local)
	var buf bytes.Buffer
	RenderBorrowRecords(&buf, sampleRecords(now), member, now)
	out := buf.String()

	assert.Contains(t, out, "Your Borrowed Books")
	assert.NotContains(t, out, "Borrowed by")
	assert.NotContains(t, out, "alice@example.com")
	assert.Contains(t, out, "25 Mar 2025")
	assert.Contains(t, out, "Overdue")
	assert.Contains(t, out, "Returned on 09 Mar 2025")
	assert.Contains(t, out, "Unknown Title")
	assert.Contains(t, out, "N/A")
}

func TestRenderBorrowRecordsForStaff(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.Local)
	var buf bytes.Buffer
	RenderBorrowRecords(&buf, sampleRecords(now), librarian, now)
	out := buf.String()

	assert.Contains(t, out, "All Borrowed Books")
	assert.Contains(t, out, "Borrowed by")
	assert.Contains(t, out, "alice@example.com")
}

func TestRenderBorrowRecordsEmpty(t *testing.T) {
	var buf bytes.Buffer
	RenderBorrowRecords(&buf, nil, member, time.Now())
	assert.Equal(t, "You have not borrowed any books yet.\n", buf.String())

	buf.Reset()
	RenderBorrowRecords(&buf, nil, admin, time.Now())
	assert.Equal(t, "No borrow records found.\n", buf.String())
}

func TestRenderBooks(t *testing.T) {
	var buf bytes.Buffer
	RenderBooks(&buf, []library.Book{
		{ID: 1, Title: "A Very Long Title That Will Not Fit In The Column", Author: "Someone", Category: 1, ISBN: "1", Status: library.BookAvailable},
		{ID: 2, Title: "Short", Author: "Other", Category: 9, ISBN: "2", Status: library.BookBorrowed},
	}, map[int64]string{1: "Fiction"})
	out := buf.String()

	assert.Contains(t, out, "A Very Long Title That Will...")
	assert.Contains(t, out, "Fiction")
	assert.Contains(t, out, "#9")
	assert.Contains(t, out, "borrowed")

	buf.Reset()
	RenderBooks(&buf, nil, nil)
	assert.Equal(t, "No books in library.\n", buf.String())
}

func TestRenderBooksKeepsMultibyteTitlesValid(t *testing.T) {
	var buf bytes.Buffer
	RenderBooks(&buf, []library.Book{
		{ID: 1, Title: "aaaaaaaaaaaaaaaaaaaaaaaaaaé long title here", Author: "Gabriel García Márquez", Category: 1, ISBN: "1", Status: library.BookAvailable},
	}, map[int64]string{1: "Ficción"})
	out := buf.Bytes()

	assert.True(t, utf8.Valid(out), "rendered table is not valid UTF-8: %q", out)
	assert.Contains(t, string(out), "aaaaaaaaaaaaaaaaaaaaaaaaaaé...")
	assert.Contains(t, string(out), "Gabriel García Márquez")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Dune", Truncate("Dune", 10))
	assert.Equal(t, "Cien años...", Truncate("Cien años de soledad", 12))
	assert.Equal(t, "ñño", Truncate("ñños", 3))
	assert.True(t, utf8.ValidString(Truncate("日本語のタイトルです", 6)))
	assert.Equal(t, "日本語...", Truncate("日本語のタイトルです", 6))
}

func TestStatusLabelDueToday(t *testing.T) {
	due, err := library.ParseDate("2025-03-15")
	assert.NoError(t, err)
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.Local)
	assert.Equal(t, "Borrowed", StatusLabel(library.BorrowRecord{DueDate: due}, now))
	assert.Equal(t, "Overdue", StatusLabel(library.BorrowRecord{DueDate: due}, now.AddDate(0, 0, 1)))
}

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	RenderDashboard(&buf, member)
	out := buf.String()
	assert.Contains(t, out, "Welcome, alice!")
	assert.NotContains(t, out, "add book")
	assert.NotContains(t, out, "Admin features")

	buf.Reset()
	RenderDashboard(&buf, admin)
	out = buf.String()
	assert.Contains(t, out, "add book")
	assert.Contains(t, out, "return, send email, check due")
	assert.Contains(t, out, "Admin features available")
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "-", FormatDate(library.Date{}))
	d, err := library.ParseDate("2024-12-01")
	assert.NoError(t, err)
	assert.Equal(t, "01 Dec 2024", FormatDate(d))
}
