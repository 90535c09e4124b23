package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"library-console/library"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

// Claims carried by every token the server issues.
type Claims struct {
	UserID    int64        `json:"user_id"`
	Username  string       `json:"username"`
	Role      library.Role `json:"role"`
	TokenType string       `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token of kind for user. Refresh tokens live seven
// times longer than access tokens.
func (t *TokenIssuer) Issue(user *library.User, kind string) (string, error) {
	now := t.now()
	ttl := t.ttl
	if kind == tokenRefresh {
		ttl *= 7
	}
	claims := Claims{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.Username,
			Issuer:    "library-console",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies signature and expiry and returns the claims.
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type ctxKey int

const (
	userKey ctxKey = iota
	claimsKey
)

func userFrom(ctx context.Context) *library.User {
	u, _ := ctx.Value(userKey).(*library.User)
	return u
}

func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// authenticate rejects requests without a valid, unrevoked access token and
// stores the caller in the request context.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, r, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		claims, err := s.tokens.Parse(token)
		if err != nil || claims.TokenType != tokenAccess {
			s.logger.Debug("rejected token", "err", err)
			s.writeError(w, r, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		revoked, err := s.lib.IsRevoked(claims.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if revoked {
			s.writeError(w, r, http.StatusUnauthorized, "Token is blacklisted")
			return
		}
		user, err := s.lib.GetUser(claims.UserID)
		if errors.Is(err, library.ErrNotFound) {
			s.writeError(w, r, http.StatusUnauthorized, "User not found")
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// requireRole admits authenticated callers whose role passes allowed.
func (s *Server) requireRole(allowed func(library.Role) bool, next http.HandlerFunc) http.HandlerFunc {
	return s.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if user := userFrom(r.Context()); !allowed(user.Role) {
			s.writeError(w, r, http.StatusForbidden, "You do not have permission to perform this action.")
			return
		}
		next(w, r)
	})
}

func staff(r library.Role) bool { return r.IsStaff() }

func admin(r library.Role) bool { return r == library.RoleAdmin }

func (s *Server) issueTokens(user *library.User) (library.Tokens, error) {
	access, err := s.tokens.Issue(user, tokenAccess)
	if err != nil {
		return library.Tokens{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.tokens.Issue(user, tokenRefresh)
	if err != nil {
		return library.Tokens{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return library.Tokens{Access: access, Refresh: refresh}, nil
}
