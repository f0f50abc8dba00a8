// Package auth decides whether a caller may run an operation on a client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnauthorized is returned when the caller is not identified.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller may not run the operation.
	ErrForbidden = errors.New("forbidden")
)

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionRebuild Action = "rebuild"
	ActionIngest  Action = "ingest"
	ActionAdmin   Action = "admin"
)

// Can reports whether role permits action.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionRebuild || action == ActionIngest
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown roles to viewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// AllClients in Principal.Clients grants access to every client.
const AllClients = "*"

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Role    Role
	// Clients limits the caller to these client ids. Admins are not limited.
	Clients []string
}

func (p Principal) mayAccess(clientID string) bool {
	if p.Role == RoleAdmin || clientID == "" {
		return true
	}
	return slices.Contains(p.Clients, AllClients) || slices.Contains(p.Clients, clientID)
}

// Authorizer is checked before every operation. clientID is "" for
// operations that are not scoped to one client.
type Authorizer interface {
	Authorize(ctx context.Context, p Principal, action Action, clientID string) error
}

// AllowAll authorizes everything. It is meant for local, single-user use.
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, p Principal, action Action, clientID string) error {
	return nil
}

// StaticPolicy authenticates bearer tokens from a fixed table and
// authorizes by role and client list.
type StaticPolicy struct {
	tokens map[string]Principal
}

// NewStaticPolicy returns a policy over tokens. Roles are normalized.
func NewStaticPolicy(tokens map[string]Principal) *StaticPolicy {
	m := make(map[string]Principal, len(tokens))
	for tok, p := range tokens {
		p.Role = Normalize(string(p.Role))
		m[tok] = p
	}
	return &StaticPolicy{tokens: m}
}

// Authenticate returns the principal of token.
func (s *StaticPolicy) Authenticate(token string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("%w: no token", ErrUnauthorized)
	}
	p, ok := s.tokens[token]
	if !ok {
		return Principal{}, fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	return p, nil
}

func (s *StaticPolicy) Authorize(ctx context.Context, p Principal, action Action, clientID string) error {
	if p.Subject == "" {
		return ErrUnauthorized
	}
	if !Can(p.Role, action) {
		return fmt.Errorf("%w: %s may not %s", ErrForbidden, p.Subject, action)
	}
	if !p.mayAccess(clientID) {
		return fmt.Errorf("%w: %s has no access to client %q", ErrForbidden, p.Subject, clientID)
	}
	return nil
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
