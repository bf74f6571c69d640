// Package auth resolves the principal behind an incoming realtime connection.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Role is the marketplace role of a user.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
	RoleAdmin  Role = "ADMIN"
)

// ErrUnauthenticated is returned when no valid credential is presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal identifies the authenticated user of a connection.
type Principal struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

// Resolver maps a request to a principal before the websocket upgrade.
type Resolver interface {
	Resolve(r *http.Request) (Principal, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (Principal, error)

func (f ResolverFunc) Resolve(r *http.Request) (Principal, error) { return f(r) }

// Chain tries each resolver in order and returns the first principal found.
type Chain []Resolver

func (c Chain) Resolve(r *http.Request) (Principal, error) {
	var lastErr error = ErrUnauthenticated
	for _, res := range c {
		p, err := res.Resolve(r)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return Principal{}, lastErr
}

func normalizeRole(raw string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleSeller:
		return RoleSeller
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleBuyer
	}
}
