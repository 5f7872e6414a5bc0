package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY
// Tokens are issued elsewhere; this service only verifies them and reads uid.
// ══════════════════════════════════════════════════════════════════════════════

// Claims are the identity claims of an access token.
type Claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

type identityKey struct{}

// Identity verifies HS256 bearer tokens.
type Identity struct {
	secret []byte
	issuer string
}

// NewIdentity creates a verifier. An empty secret disables verification.
func NewIdentity(secret, issuer string) *Identity {
	return &Identity{secret: []byte(secret), issuer: issuer}
}

// Enabled reports whether tokens are verified at all.
func (i *Identity) Enabled() bool {
	return i != nil && len(i.secret) > 0
}

// Sign issues a token for uid. Used by the CLI and tests.
func (i *Identity) Sign(uid string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func (i *Identity) parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	t, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.UID == "" {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// Middleware attaches verified claims to the request context. Requests
// without a token pass through; routes decide whether identity is required.
// A present but invalid token is rejected.
func (i *Identity) Middleware(next http.Handler) http.Handler {
	if !i.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			next.ServeHTTP(w, r)
			return
		}
		c, err := i.parse(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
		if err != nil {
			writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", "invalid access token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, c)))
	})
}

// authorize checks that the caller acts as user. With verification disabled
// every caller may act as anyone.
func (i *Identity) authorize(ctx context.Context, user shared.UserID) error {
	if !i.Enabled() {
		return nil
	}
	c, ok := ctx.Value(identityKey{}).(*Claims)
	if !ok {
		return shared.NewDomainError("auth", "Authorize", shared.ErrUnauthorized, "access token required")
	}
	if c.UID != user.String() {
		return shared.AuthorizationError("auth", "Authorize", "token does not belong to this user")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// API KEYS
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth guards operator endpoints. With no keys configured every
// request is refused.
type APIKeyAuth struct {
	headerName string
	keys       [][]byte
}

// NewAPIKeyAuth creates an authenticator over keys.
func NewAPIKeyAuth(headerName string, keys []string) *APIKeyAuth {
	a := &APIKeyAuth{headerName: headerName}
	for _, k := range keys {
		if k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

// IsValid compares key against every configured key in constant time.
func (a *APIKeyAuth) IsValid(key string) bool {
	if key == "" {
		return false
	}
	valid := false
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
			valid = true
		}
	}
	return valid
}

// Wrap protects a single handler.
func (a *APIKeyAuth) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(a.headerName)
		if key == "" {
			writeJSONError(w, r, http.StatusUnauthorized, "missing_api_key", "API key is required")
			return
		}
		if !a.IsValid(key) {
			writeJSONError(w, r, http.StatusUnauthorized, "invalid_api_key", "invalid API key")
			return
		}
		next(w, r)
	}
}
