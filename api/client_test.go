package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-console/library"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/api/")
}

func TestLoginDoesNotStoreToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"username":"alice","password":"pw"}`, string(body))
		w.Write([]byte(`{"access":"tok-a","refresh":"tok-r"}`))
	})

	tokens, err := c.Login(context.Background(), library.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "tok-a", tokens.Access)
	assert.Empty(t, c.Token())
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
		msg    string
	}{
		{"bad credentials", http.StatusUnauthorized, `{"detail":"No active account found with the given credentials"}`, ErrInvalidCredentials, "No active account found with the given credentials"},
		{"missing fields", http.StatusBadRequest, `{"password":["This field is required."]}`, ErrInvalidCredentials, "password: This field is required."},
		{"server down", http.StatusBadGateway, `<html>bad gateway</html>`, ErrServer, "<html>bad gateway</html>"},
		{"no access token", http.StatusOK, `{"refresh":"x"}`, ErrMalformedResponse, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.Login(context.Background(), library.Credentials{Username: "a", Password: "b"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, err.Error())
			}
		})
	}
}

func TestBearerHeaderAttached(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"id":7,"username":"alice","email":"a@example.com","role":"member"}`))
	})
	c.SetToken("abc")

	user, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", got)
	assert.Equal(t, library.RoleMember, user.Role)

	c.ClearToken()
	_, err = c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRevokeTokenUsesExplicitToken(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, c.RevokeToken(context.Background(), "old"))
	assert.Equal(t, "Bearer old", got)
}

func TestListBooksQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/books/", r.URL.Path)
		assert.Equal(t, "dune", q.Get("search"))
		assert.Equal(t, "available", q.Get("status"))
		assert.Equal(t, "3", q.Get("category"))
		assert.Equal(t, "-title", q.Get("ordering"))
		w.Write([]byte(`[{"id":1,"title":"Dune","author":"Herbert","category":3,"ISBN":"123","status":"available"}]`))
	})

	books, err := c.ListBooks(context.Background(), library.BookFilter{
		Search: "dune", Status: library.BookAvailable, Category: 3, Ordering: "-title",
	})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "123", books[0].ISBN)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   error
		msg    string
	}{
		{http.StatusBadRequest, `{"ISBN":["book with this ISBN already exists."]}`, ErrValidation, "ISBN: book with this ISBN already exists."},
		{http.StatusBadRequest, `["This book is not available for borrowing"]`, ErrValidation, "This book is not available for borrowing"},
		{http.StatusUnauthorized, `{"detail":"Given token not valid for any token type"}`, ErrUnauthorized, "Given token not valid for any token type"},
		{http.StatusForbidden, `{"detail":"You do not have permission to perform this action."}`, ErrForbidden, "You do not have permission to perform this action."},
		{http.StatusNotFound, ``, ErrNotFound, "Not Found"},
		{http.StatusConflict, `{"error":"Book already returned"}`, ErrConflict, "Book already returned"},
		{http.StatusInternalServerError, `{"non_field_errors":["boom"]}`, ErrServer, "boom"},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		})
		_, err := c.ReturnBorrowRecord(context.Background(), 5)
		require.Error(t, err)
		assert.ErrorIs(t, err, tt.kind, "status %d", tt.status)
		assert.Equal(t, tt.msg, err.Error(), "status %d", tt.status)

		var apiErr *Error
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, tt.status, apiErr.Status)
	}
}

func TestActionEndpoints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/borrows/9/send_email/":
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"subject":"Due","message":"Please return"}`, string(body))
			w.Write([]byte(`{"message":"Email sent successfully"}`))
		case "/api/borrows/check_due_books/":
			assert.Equal(t, http.MethodGet, r.Method)
			w.Write([]byte(`{"message":"Sent 2 notifications for overdue books"}`))
		default:
			http.NotFound(w, r)
		}
	})

	msg, err := c.SendBorrowerEmail(context.Background(), library.BorrowerEmail{ID: 9, Subject: "Due", Message: "Please return"})
	require.NoError(t, err)
	assert.Equal(t, "Email sent successfully", msg)

	msg, err = c.CheckDueBooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sent 2 notifications for overdue books", msg)
}

func TestMalformedAndNetworkErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "not a number"`))
	})
	_, err := c.ListCategories(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	_, err = New(srv.URL).ListCategories(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestListUsers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/users/", r.URL.Path)
		w.Write([]byte(`[{"id":1,"username":"admin","email":"admin@example.com","role":"admin"}]`))
	})

	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, library.RoleAdmin, users[0].Role)
}
