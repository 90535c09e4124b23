package console

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"library-console/library"
)

// DisplayDate is the layout every date is rendered with.
const DisplayDate = "02 Jan 2006"

// Capabilities lists the role-gated controls a session may see. The backend
// still authorizes every request; this only decides what is offered.
type Capabilities struct {
	CreateBook    bool
	SendEmail     bool
	ReturnBook    bool
	SeeBorrowers  bool
	CheckDueBooks bool
	ListUsers     bool
}

// CapabilitiesFor returns the controls shown to user. A nil user sees none.
func CapabilitiesFor(user *library.User) Capabilities {
	if user == nil {
		return Capabilities{}
	}
	staff := user.Role.IsStaff()
	return Capabilities{
		CreateBook:    staff,
		SendEmail:     staff,
		ReturnBook:    staff,
		SeeBorrowers:  staff,
		CheckDueBooks: user.Role == library.RoleAdmin,
		ListUsers:     user.Role == library.RoleAdmin,
	}
}

// FormatDate renders d in local time, or "-" when unset.
func FormatDate(d library.Date) string {
	if d.IsZero() {
		return "-"
	}
	return d.Local().Format(DisplayDate)
}

// StatusLabel describes rec as seen at now.
func StatusLabel(rec library.BorrowRecord, now time.Time) string {
	switch rec.StatusAt(now) {
	case library.StatusReturned:
		return "Returned on " + FormatDate(*rec.ReturnDate)
	case library.StatusOverdue:
		return "Overdue"
	default:
		return "Borrowed"
	}
}

// RenderBooks prints the catalog. categories maps ids to names; unknown ids
// are shown as numbers.
func RenderBooks(w io.Writer, books []library.Book, categories map[int64]string) {
	if len(books) == 0 {
		fmt.Fprintln(w, "No books in library.")
		return
	}

	fmt.Fprintf(w, "%-5s %-30s %-25s %-15s %-15s %s\n", "ID", "Title", "Author", "Category", "ISBN", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 105))
	for _, b := range books {
		category, ok := categories[b.Category]
		if !ok {
			category = fmt.Sprintf("#%d", b.Category)
		}
		fmt.Fprintf(w, "%-5d %-30s %-25s %-15s %-15s %s\n",
			b.ID,
			Truncate(b.Title, 30),
			Truncate(b.Author, 25),
			Truncate(category, 15),
			Truncate(b.ISBN, 15),
			b.Status)
	}
}

// RenderCategories prints the category options a book form offers.
func RenderCategories(w io.Writer, categories []library.Category) {
	if len(categories) == 0 {
		fmt.Fprintln(w, "No categories defined.")
		return
	}
	fmt.Fprintf(w, "%-5s %s\n", "ID", "Name")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, c := range categories {
		fmt.Fprintf(w, "%-5d %s\n", c.ID, c.Name)
	}
}

// RenderBorrowRecords prints the borrow list. Staff see every record with its
// borrower; members see their own.
func RenderBorrowRecords(w io.Writer, records []library.BorrowRecord, user *library.User, now time.Time) {
	caps := CapabilitiesFor(user)
	if len(records) == 0 {
		if user != nil && user.Role == library.RoleMember {
			fmt.Fprintln(w, "You have not borrowed any books yet.")
		} else {
			fmt.Fprintln(w, "No borrow records found.")
		}
		return
	}

	if caps.SeeBorrowers {
		fmt.Fprintln(w, "All Borrowed Books")
		fmt.Fprintf(w, "%-5s %-28s %-20s %-15s %-25s %-12s %-12s %s\n",
			"ID", "Title", "Author", "Borrowed by", "Email", "Borrowed on", "Due Date", "Status")
		fmt.Fprintln(w, strings.Repeat("-", 150))
	} else {
		fmt.Fprintln(w, "Your Borrowed Books")
		fmt.Fprintf(w, "%-5s %-28s %-20s %-12s %-12s %s\n",
			"ID", "Title", "Author", "Borrowed on", "Due Date", "Status")
		fmt.Fprintln(w, strings.Repeat("-", 100))
	}

	for _, rec := range records {
		title := rec.Book.Title
		if title == "" {
			title = "Unknown Title"
		}
		author := rec.Book.Author
		if author == "" {
			author = "N/A"
		}
		status := StatusLabel(rec, now)

		if caps.SeeBorrowers {
			borrower, email := "-", "-"
			if rec.UserInfo != nil {
				borrower, email = rec.UserInfo.Username, rec.UserInfo.Email
			}
			fmt.Fprintf(w, "%-5d %-28s %-20s %-15s %-25s %-12s %-12s %s\n",
				rec.ID,
				Truncate(title, 28),
				Truncate(author, 20),
				Truncate(borrower, 15),
				Truncate(email, 25),
				FormatDate(rec.BorrowDate),
				FormatDate(rec.DueDate),
				status)
			continue
		}
		fmt.Fprintf(w, "%-5d %-28s %-20s %-12s %-12s %s\n",
			rec.ID,
			Truncate(title, 28),
			Truncate(author, 20),
			FormatDate(rec.BorrowDate),
			FormatDate(rec.DueDate),
			status)
	}
}

// RenderUsers prints the account directory.
func RenderUsers(w io.Writer, users []library.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found.")
		return
	}
	fmt.Fprintf(w, "%-5s %-20s %-30s %-10s\n", "ID", "Username", "Email", "Role")
	fmt.Fprintln(w, strings.Repeat("-", 68))
	for _, u := range users {
		fmt.Fprintf(w, "%-5d %-20s %-30s %-10s\n", u.ID, Truncate(u.Username, 20), Truncate(u.Email, 30), u.Role)
	}
}

// RenderDashboard greets user and lists the commands their role may use.
func RenderDashboard(w io.Writer, user *library.User) {
	if user == nil {
		fmt.Fprintln(w, "Loading your profile...")
		return
	}
	caps := CapabilitiesFor(user)

	fmt.Fprintf(w, "Welcome, %s!\n", user.Username)
	fmt.Fprintf(w, "  Username: %s\n  Email:    %s\n  Role:     %s\n  User ID:  %d\n",
		user.Username, user.Email, user.Role, user.ID)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Available commands:")
	fmt.Fprintln(w, "  Books: list books, search books, list categories")
	if caps.CreateBook {
		fmt.Fprintln(w, "         add book")
	}
	fmt.Fprintln(w, "  Borrowing: borrow, list borrows")
	var staff []string
	if caps.ReturnBook {
		staff = append(staff, "return")
	}
	if caps.SendEmail {
		staff = append(staff, "send email")
	}
	if caps.CheckDueBooks {
		staff = append(staff, "check due")
	}
	if len(staff) > 0 {
		fmt.Fprintf(w, "             %s\n", strings.Join(staff, ", "))
	}
	if caps.ListUsers {
		fmt.Fprintln(w, "  Users: list users")
	}
	fmt.Fprintln(w, "  Session: dashboard, logout, exit")

	if user.Role == library.RoleAdmin {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Admin features available: manage books and view all borrow records.")
	}
}

// Truncate shortens s to at most maxLength runes, ending in "..." when cut.
func Truncate(s string, maxLength int) string {
	if utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	runes := []rune(s)
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-3]) + "..."
}
