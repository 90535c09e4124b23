// Package console is the terminal front end: it collects input, calls store
// operations and renders the resulting state.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"library-console/api"
	"library-console/library"
	"library-console/store"
)

// Catalog supplies the read-only lookups the forms need without touching the
// store's book list.
type Catalog interface {
	ListCategories(ctx context.Context) ([]library.Category, error)
	ListBooks(ctx context.Context, f library.BookFilter) ([]library.Book, error)
	ListUsers(ctx context.Context) ([]library.User, error)
}

// PasswordReader prompts for and returns a secret.
type PasswordReader func(prompt string) (string, error)

type redirect int

const (
	stay redirect = iota
	toDashboard
	toLogin
)

type command struct {
	run     func(ctx context.Context)
	auth    bool
	allowed func(Capabilities) bool
	denied  string
}

// Console is the interactive session.
type Console struct {
	store   *store.Store
	catalog Catalog
	sc      *bufio.Scanner
	out     io.Writer
	logger  *slog.Logger
	now     func() time.Time

	readPassword PasswordReader
	commands     map[string]command

	mu            sync.Mutex
	authenticated bool
	pending       redirect
	unsubscribe   func()
}

// Option configures a Console.
type Option func(*Console)

// WithPasswordReader replaces the password prompt. By default passwords are
// read as plain lines from the input.
func WithPasswordReader(r PasswordReader) Option {
	return func(c *Console) { c.readPassword = r }
}

// WithClock replaces time.Now for overdue labels.
func WithClock(now func() time.Time) Option {
	return func(c *Console) { c.now = now }
}

// WithLogger routes console diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(c *Console) { c.logger = l }
}

func New(st *store.Store, catalog Catalog, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		store:   st,
		catalog: catalog,
		sc:      bufio.NewScanner(in),
		out:     out,
		logger:  slog.Default(),
		now:     time.Now,
	}
	c.readPassword = c.readPlainPassword
	for _, opt := range opts {
		opt(c)
	}
	c.authenticated = st.State().Auth.IsAuthenticated
	c.unsubscribe = st.Subscribe(c.onState)

	staffOnly := func(what string) string {
		return fmt.Sprintf("Access denied. Only librarians and admins can %s.", what)
	}
	c.commands = map[string]command{
		"login":           {run: c.handleLogin},
		"register":        {run: c.handleRegister},
		"logout":          {run: c.handleLogout},
		"help":            {run: func(context.Context) { c.printHelp() }},
		"dashboard":       {run: c.handleDashboard, auth: true},
		"list books":      {run: c.handleListBooks, auth: true},
		"search books":    {run: c.handleSearchBooks, auth: true},
		"list categories": {run: c.handleListCategories, auth: true},
		"borrow":          {run: c.handleBorrow, auth: true},
		"list borrows":    {run: c.handleListBorrows, auth: true},
		"add book": {
			run: c.handleAddBook, auth: true,
			allowed: func(caps Capabilities) bool { return caps.CreateBook },
			denied:  staffOnly("add books"),
		},
		"return": {
			run: c.handleReturn, auth: true,
			allowed: func(caps Capabilities) bool { return caps.ReturnBook },
			denied:  staffOnly("mark books as returned"),
		},
		"send email": {
			run: c.handleSendEmail, auth: true,
			allowed: func(caps Capabilities) bool { return caps.SendEmail },
			denied:  staffOnly("email borrowers"),
		},
		"check due": {
			run: c.handleCheckDue, auth: true,
			allowed: func(caps Capabilities) bool { return caps.CheckDueBooks },
			denied:  "Access denied. Only admins can check due books.",
		},
		"list users": {
			run: c.handleListUsers, auth: true,
			allowed: func(caps Capabilities) bool { return caps.ListUsers },
			denied:  "Access denied. Only admins can list users.",
		},
	}
	return c
}

// Close detaches the console from the store.
func (c *Console) Close() {
	c.unsubscribe()
}

// Run reads commands until exit or end of input.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Welcome to the Library Management System!")
	c.printHelp()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(c.out, "\n> ")
		if !c.sc.Scan() {
			return c.sc.Err()
		}
		name := strings.Join(strings.Fields(strings.ToLower(c.sc.Text())), " ")
		switch name {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}
		c.Execute(ctx, name)
	}
}

// Execute runs a single command and then follows any auth redirect it caused.
func (c *Console) Execute(ctx context.Context, name string) {
	cmd, ok := c.commands[name]
	switch {
	case !ok:
		fmt.Fprintln(c.out, "Unknown command. Type 'help' to list the available commands.")
	case cmd.auth && !c.store.State().Auth.IsAuthenticated:
		fmt.Fprintln(c.out, "Please log in first. Type 'login' to sign in.")
	case cmd.allowed != nil && !cmd.allowed(CapabilitiesFor(c.currentUser(ctx))):
		fmt.Fprintln(c.out, cmd.denied)
	default:
		cmd.run(ctx)
	}
	c.followRedirect(ctx)
}

// onState records authentication flips. It runs inside dispatch and so only
// updates fields.
func (c *Console) onState(st store.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.Auth.IsAuthenticated == c.authenticated {
		return
	}
	c.authenticated = st.Auth.IsAuthenticated
	if c.authenticated {
		c.pending = toDashboard
	} else {
		c.pending = toLogin
	}
}

func (c *Console) followRedirect(ctx context.Context) {
	c.mu.Lock()
	target := c.pending
	c.pending = stay
	c.mu.Unlock()

	switch target {
	case toDashboard:
		fmt.Fprintln(c.out)
		c.handleDashboard(ctx)
	case toLogin:
		fmt.Fprintln(c.out, "You are logged out. Type 'login' to sign in or 'register' to create an account.")
	}
}

// currentUser returns the session user, loading it when only the token is held.
func (c *Console) currentUser(ctx context.Context) *library.User {
	if u := c.store.State().Auth.User; u != nil {
		return u
	}
	if _, err := c.store.FetchCurrentUser(ctx); err != nil {
		c.logger.Debug("fetch current user", "err", err)
		return nil
	}
	return c.store.State().Auth.User
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "Available commands:")
	fmt.Fprintln(c.out, "  Account: login, register, logout, dashboard")
	fmt.Fprintln(c.out, "  Books: list books, search books, list categories, add book")
	fmt.Fprintln(c.out, "  Borrowing: borrow, list borrows, return, send email, check due")
	fmt.Fprintln(c.out, "  Users: list users")
	fmt.Fprintln(c.out, "  System: help, exit")
}

func (c *Console) prompt(label string) (string, bool) {
	fmt.Fprint(c.out, label)
	if !c.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.sc.Text()), true
}

func (c *Console) readPlainPassword(label string) (string, error) {
	s, ok := c.prompt(label)
	if !ok {
		if err := c.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s, nil
}

func (c *Console) promptID(label string) (int64, bool) {
	s, ok := c.prompt(label)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintln(c.out, "Invalid ID.")
		return 0, false
	}
	return id, true
}

// printError reports a failed operation. An unauthorized response ends the
// session so the login hint follows.
func (c *Console) printError(action string, err error) {
	fmt.Fprintf(c.out, "%s: %v\n", action, err)
	if errors.Is(err, api.ErrUnauthorized) && c.store.State().Auth.IsAuthenticated {
		fmt.Fprintln(c.out, "Your session has expired.")
		c.store.Logout()
	}
}

func (c *Console) handleLogin(ctx context.Context) {
	if c.store.State().Auth.IsAuthenticated {
		fmt.Fprintln(c.out, "You are already logged in. Type 'logout' to switch accounts.")
		return
	}
	username, ok := c.prompt("Username: ")
	if !ok {
		return
	}
	password, err := c.readPassword("Password: ")
	if err != nil {
		fmt.Fprintf(c.out, "Failed to read password: %v\n", err)
		return
	}
	if username == "" || password == "" {
		fmt.Fprintln(c.out, "Username and password are required.")
		return
	}

	c.store.ClearError()
	if _, err := c.store.LoginAndFetchUser(ctx, library.Credentials{Username: username, Password: password}); err != nil {
		c.printError("Login failed", err)
	}
}

func (c *Console) handleRegister(ctx context.Context) {
	username, ok := c.prompt("Username: ")
	if !ok {
		return
	}
	email, ok := c.prompt("Email: ")
	if !ok {
		return
	}
	password, err := c.readPassword("Password: ")
	if err != nil {
		fmt.Fprintf(c.out, "Failed to read password: %v\n", err)
		return
	}
	confirm, err := c.readPassword("Confirm password: ")
	if err != nil {
		fmt.Fprintf(c.out, "Failed to read password: %v\n", err)
		return
	}
	if password != confirm {
		fmt.Fprintln(c.out, "Passwords do not match.")
		return
	}
	roleText, ok := c.prompt("Role (member, librarian, admin) [member]: ")
	if !ok {
		return
	}
	role := library.RoleMember
	if roleText != "" {
		role = library.Role(strings.ToLower(roleText))
		if !role.Valid() {
			fmt.Fprintf(c.out, "Unknown role %q.\n", roleText)
			return
		}
	}

	c.store.ClearError()
	reg := library.Registration{Username: username, Email: email, Password: password, Role: role}
	if _, err := c.store.Register(ctx, reg); err != nil {
		c.printError("Registration failed", err)
		return
	}
	fmt.Fprintln(c.out, "Registration successful! Type 'login' to sign in.")
}

func (c *Console) handleLogout(context.Context) {
	if !c.store.State().Auth.IsAuthenticated {
		fmt.Fprintln(c.out, "You are not logged in.")
		return
	}
	c.store.Logout()
}

func (c *Console) handleDashboard(ctx context.Context) {
	user := c.currentUser(ctx)
	if user == nil {
		if msg := c.store.State().Auth.Error; msg != "" {
			fmt.Fprintf(c.out, "Could not load your profile: %s\n", msg)
			return
		}
	}
	RenderDashboard(c.out, user)
}

// categoryNames maps category ids to names for display. Lookup failures only
// cost the names.
func (c *Console) categoryNames(ctx context.Context) map[int64]string {
	names := make(map[int64]string)
	categories, err := c.catalog.ListCategories(ctx)
	if err != nil {
		c.logger.Debug("list categories", "err", err)
		return names
	}
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}
	return names
}

func (c *Console) handleListBooks(ctx context.Context) {
	if _, err := c.store.FetchBooks(ctx); err != nil {
		c.printError("Error loading books", err)
		return
	}
	RenderBooks(c.out, c.store.State().Books.Books, c.categoryNames(ctx))
}

func (c *Console) handleSearchBooks(ctx context.Context) {
	var f library.BookFilter
	var ok bool
	if f.Search, ok = c.prompt("Search (title, author or ISBN, blank for all): "); !ok {
		return
	}
	status, ok := c.prompt("Status (available, borrowed, blank for any): ")
	if !ok {
		return
	}
	if status != "" {
		f.Status = library.BookStatus(strings.ToLower(status))
		if !f.Status.Valid() {
			fmt.Fprintf(c.out, "Unknown status %q.\n", status)
			return
		}
	}
	category, ok := c.prompt("Category ID (blank for any): ")
	if !ok {
		return
	}
	if category != "" {
		id, err := strconv.ParseInt(category, 10, 64)
		if err != nil {
			fmt.Fprintln(c.out, "Invalid category ID.")
			return
		}
		f.Category = id
	}
	if f.Ordering, ok = c.prompt("Order by (title, author, -title, ... blank for default): "); !ok {
		return
	}

	if _, err := c.store.SearchBooks(ctx, f); err != nil {
		c.printError("Error searching books", err)
		return
	}
	books := c.store.State().Books.Books
	if len(books) == 0 {
		fmt.Fprintln(c.out, "No books found.")
		return
	}
	RenderBooks(c.out, books, c.categoryNames(ctx))
}

func (c *Console) handleListCategories(ctx context.Context) {
	categories, err := c.catalog.ListCategories(ctx)
	if err != nil {
		c.printError("Error loading categories", err)
		return
	}
	RenderCategories(c.out, categories)
}

func (c *Console) handleListUsers(ctx context.Context) {
	users, err := c.catalog.ListUsers(ctx)
	if err != nil {
		c.printError("Error loading users", err)
		return
	}
	RenderUsers(c.out, users)
}

// resolveCategory accepts an id or a case-insensitive name.
func resolveCategory(input string, categories []library.Category) (int64, bool) {
	if id, err := strconv.ParseInt(input, 10, 64); err == nil {
		for _, cat := range categories {
			if cat.ID == id {
				return id, true
			}
		}
		return 0, false
	}
	for _, cat := range categories {
		if strings.EqualFold(cat.Name, input) {
			return cat.ID, true
		}
	}
	return 0, false
}

func (c *Console) handleAddBook(ctx context.Context) {
	categories, err := c.catalog.ListCategories(ctx)
	if err != nil {
		c.printError("Error loading categories", err)
		return
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	RenderCategories(c.out, categories)

	var b library.NewBook
	var ok bool
	if b.Title, ok = c.prompt("Title: "); !ok {
		return
	}
	if b.Author, ok = c.prompt("Author: "); !ok {
		return
	}
	category, ok := c.prompt("Category (ID or name): ")
	if !ok {
		return
	}
	if category != "" {
		id, found := resolveCategory(category, categories)
		if !found {
			fmt.Fprintf(c.out, "Unknown category %q.\n", category)
			return
		}
		b.Category = id
	}
	if b.ISBN, ok = c.prompt("ISBN: "); !ok {
		return
	}
	status, ok := c.prompt("Status (available, borrowed) [available]: ")
	if !ok {
		return
	}
	if status != "" {
		b.Status = library.BookStatus(strings.ToLower(status))
		if !b.Status.Valid() {
			fmt.Fprintf(c.out, "Unknown status %q.\n", status)
			return
		}
	}

	c.store.ClearBookError()
	book, err := c.store.CreateBookThenRefresh(ctx, b)
	if book.ID != 0 {
		fmt.Fprintf(c.out, "Book added successfully! (ID %d)\n", book.ID)
	}
	if err != nil {
		c.printError("Error adding book", err)
	}
}

func (c *Console) handleBorrow(ctx context.Context) {
	books, err := c.catalog.ListBooks(ctx, library.BookFilter{Status: library.BookAvailable})
	if err != nil {
		c.printError("Error loading books", err)
		return
	}
	if len(books) == 0 {
		fmt.Fprintln(c.out, "No books are available for borrowing right now.")
		return
	}
	fmt.Fprintln(c.out, "Available books:")
	RenderBooks(c.out, books, c.categoryNames(ctx))

	var nb library.NewBorrow
	bookID, ok := c.prompt("Book ID: ")
	if !ok {
		return
	}
	if bookID != "" {
		id, err := strconv.ParseInt(bookID, 10, 64)
		if err != nil {
			fmt.Fprintln(c.out, "Invalid book ID.")
			return
		}
		nb.BookID = id
	}
	due, ok := c.prompt("Due date (YYYY-MM-DD): ")
	if !ok {
		return
	}
	if due != "" {
		if nb.DueDate, err = library.ParseDate(due); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
	}

	c.store.ClearBorrowError()
	_, err = c.store.CreateBorrowRecordThenRefresh(ctx, nb)
	c.reportSuccess()
	if err != nil {
		c.printError("Error borrowing book", err)
	}
}

// reportSuccess prints and clears the borrow slice's acknowledgement.
func (c *Console) reportSuccess() {
	st := c.store.State().Borrows
	if !st.Success {
		return
	}
	if st.Message != "" {
		fmt.Fprintln(c.out, st.Message)
	}
	c.store.ClearBorrowSuccess()
}

func (c *Console) handleListBorrows(ctx context.Context) {
	if _, err := c.store.FetchBorrowRecords(ctx); err != nil {
		c.printError("Error loading borrow records", err)
		return
	}
	RenderBorrowRecords(c.out, c.store.State().Borrows.Records, c.currentUser(ctx), c.now())
}

func (c *Console) handleReturn(ctx context.Context) {
	id, ok := c.promptID("Borrow record ID: ")
	if !ok {
		return
	}
	// The already-returned check runs against the held list.
	if len(c.store.State().Borrows.Records) == 0 {
		if _, err := c.store.FetchBorrowRecords(ctx); err != nil {
			c.logger.Debug("prefetch borrow records", "err", err)
		}
	}

	c.store.ClearBorrowError()
	err := c.store.ReturnBorrowedBookThenRefresh(ctx, id)
	c.reportSuccess()
	if err != nil {
		c.printError("Error returning book", err)
	}
}

func (c *Console) handleSendEmail(ctx context.Context) {
	id, ok := c.promptID("Borrow record ID: ")
	if !ok {
		return
	}
	subject, ok := c.prompt("Subject: ")
	if !ok {
		return
	}
	message, ok := c.prompt("Message: ")
	if !ok {
		return
	}

	c.store.ClearBorrowError()
	err := c.store.SendBorrowerEmail(ctx, library.BorrowerEmail{ID: id, Subject: subject, Message: message})
	c.reportSuccess()
	if err != nil {
		c.printError("Error sending email", err)
	}
}

func (c *Console) handleCheckDue(ctx context.Context) {
	c.store.ClearBorrowError()
	_, err := c.store.CheckDueBooks(ctx)
	c.reportSuccess()
	if err != nil {
		c.printError("Error checking due books", err)
	}
}
