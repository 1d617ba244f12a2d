// Package auth carries the role model and the session-resolution seam. The
// event core never verifies credentials itself; a Resolver collaborator
// turns an incoming request into a principal, and streaming endpoints gate
// on the resolved role.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Role is a viewer class.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleStaff    Role = "STAFF"
	RoleOwner    Role = "OWNER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleOwner:
		return true
	}
	return false
}

// Principal is a resolved caller identity.
type Principal struct {
	UserID string
	Role   Role
}

var (
	// ErrUnauthorized means no usable credentials were presented.
	ErrUnauthorized = errors.New("auth: no valid session")
	// ErrForbidden means the principal's role does not match the endpoint.
	ErrForbidden = errors.New("auth: role not allowed")
)

// Resolver resolves a request to a principal. Implementations must not
// block on anything slower than a local lookup; streaming handlers call
// this before opening the stream.
type Resolver interface {
	Resolve(r *http.Request) (Principal, error)
}

// TokenMap resolves bearer tokens against a static token -> principal map,
// typically loaded from configuration.
type TokenMap struct {
	tokens map[string]Principal
}

// NewTokenMap copies the provided mapping.
func NewTokenMap(tokens map[string]Principal) *TokenMap {
	m := make(map[string]Principal, len(tokens))
	for k, v := range tokens {
		m[k] = v
	}
	return &TokenMap{tokens: m}
}

// Resolve reads the Authorization bearer token (or a `token` query
// parameter, since EventSource clients cannot set headers).
func (t *TokenMap) Resolve(r *http.Request) (Principal, error) {
	tok := bearerToken(r)
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		return Principal{}, ErrUnauthorized
	}
	p, ok := t.tokens[tok]
	if !ok {
		return Principal{}, ErrUnauthorized
	}
	return p, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Static always resolves to a fixed principal. Test helper.
type Static struct {
	P   Principal
	Err error
}

// Resolve returns the fixed principal or error.
func (s Static) Resolve(*http.Request) (Principal, error) {
	return s.P, s.Err
}
