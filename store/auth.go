package store

import (
	"context"
	"errors"

	"library-console/api"
	"library-console/library"
)

const sliceAuth = "auth"

const (
	opLogin            = "login"
	opRegister         = "register"
	opFetchCurrentUser = "fetchCurrentUser"
	opLogout           = "logout"
	opClearError       = "clearError"
)

// AuthPhase is the session state machine position.
type AuthPhase int

const (
	Anonymous AuthPhase = iota
	Authenticating
	Authenticated
)

func (p AuthPhase) String() string {
	switch p {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// AuthState is the session slice.
type AuthState struct {
	User            *library.User
	IsAuthenticated bool
	Loading         bool
	Error           string
	// Registered is set by a successful Register until the next auth action.
	Registered bool
}

// Phase derives the state machine position from the flags.
func (a AuthState) Phase() AuthPhase {
	switch {
	case a.IsAuthenticated:
		return Authenticated
	case a.Loading:
		return Authenticating
	default:
		return Anonymous
	}
}

func reduceAuth(s AuthState, a Action) AuthState {
	if a.Slice != sliceAuth {
		return s
	}
	switch a.Op {
	case opLogout:
		return AuthState{}
	case opClearError:
		s.Error = ""
		return s
	}

	switch a.Phase {
	case Pending:
		s.Loading = true
		s.Error = ""
		s.Registered = false
	case Rejected:
		s.Loading = false
		s.Error = errorMessage(a.Err)
		switch {
		case a.Op == opLogin:
			s.IsAuthenticated = false
			s.User = nil
		case a.Op == opFetchCurrentUser && errors.Is(a.Err, api.ErrUnauthorized):
			s.IsAuthenticated = false
			s.User = nil
		}
	case Fulfilled:
		switch a.Op {
		case opLogin:
			s.IsAuthenticated = true
		case opFetchCurrentUser:
			u := a.Payload.(library.User)
			s.IsAuthenticated = true
			s.User = &u
		case opRegister:
			s.Registered = true
		}
		s.Loading = false
	}
	return s
}

// Login posts the credentials and, on success, stores the access token in the
// API client and marks the session authenticated. Call FetchCurrentUser next
// to populate the profile.
func (s *Store) Login(ctx context.Context, creds library.Credentials) error {
	_, err := thunk(s, sliceAuth, opLogin, func() (struct{}, error) {
		tokens, err := s.backend.Login(ctx, creds)
		if err != nil {
			return struct{}{}, err
		}
		s.backend.SetToken(tokens.Access)
		return struct{}{}, nil
	})
	return err
}

// FetchCurrentUser loads the identity for the held credential. A missing or
// rejected credential ends the session.
func (s *Store) FetchCurrentUser(ctx context.Context) (library.User, error) {
	return thunk(s, sliceAuth, opFetchCurrentUser, func() (library.User, error) {
		if s.backend.Token() == "" {
			return library.User{}, &api.Error{Kind: api.ErrUnauthorized, Message: "Authentication credentials were not provided."}
		}
		user, err := s.backend.CurrentUser(ctx)
		if errors.Is(err, api.ErrUnauthorized) {
			s.backend.ClearToken()
		}
		return user, err
	})
}

// LoginAndFetchUser is the explicit two-step sign-in the login form performs.
func (s *Store) LoginAndFetchUser(ctx context.Context, creds library.Credentials) (library.User, error) {
	if err := s.Login(ctx, creds); err != nil {
		return library.User{}, err
	}
	return s.FetchCurrentUser(ctx)
}

// Register creates an account without logging in.
func (s *Store) Register(ctx context.Context, reg library.Registration) (library.User, error) {
	return thunk(s, sliceAuth, opRegister, func() (library.User, error) {
		return s.backend.Register(ctx, reg)
	})
}

// Logout clears the session synchronously. The old token is revoked in the
// background; callers never wait for it.
func (s *Store) Logout() {
	token := s.backend.Token()
	s.backend.ClearToken()
	s.dispatch(Action{Slice: sliceAuth, Op: opLogout})

	if token == "" || !s.revokeOnLogout {
		return
	}
	go func() {
		if err := s.backend.RevokeToken(context.Background(), token); err != nil {
			s.logger.Debug("token revocation failed", "err", err)
		}
	}()
}

// ClearError drops the last auth error.
func (s *Store) ClearError() {
	s.dispatch(Action{Slice: sliceAuth, Op: opClearError})
}
