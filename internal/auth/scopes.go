package auth

import (
	"errors"
	"strings"

	"github.com/mcpgate/mcpgate/internal/model"
)

// Scopes attached to API keys and required by gateway endpoints.
const (
	ScopeAdmin        = "admin"
	ScopeGatewayRead  = "gateway:read"
	ScopeGatewayWrite = "gateway:write"
	ScopeToolsCall    = "tools:call"
)

// ErrUnauthenticated means no valid credential was presented at all. It is
// distinct from ErrInsufficientScope, which means the credential is valid but
// lacks a required scope.
var ErrUnauthenticated = errors.New("not authenticated")

// ErrInsufficientScope is the sentinel matched by errors.Is for scope
// failures; the concrete error is a *ScopeError naming the missing scopes.
var ErrInsufficientScope = errors.New("insufficient permissions")

/// Subject is the authenticated entity behind a request: a user resolved from
// a JWT, or an API key. At most one field is non-nil.
type Subject struct {
	User   *model.User
	APIKey *model.APIKey
}

// Authenticated reports whether any credential was resolved.
func (s Subject) Authenticated() bool {
	return s.User != nil || s.APIKey != nil
}

// ScopeError reports which required scopes the subject's key lacks. Scopes
// are not secrets, so naming them is operator debuggability, not a leak.
type ScopeError struct {
	Missing []string
}

func (e *ScopeError) Error() string {
	return "insufficient permissions: missing scopes: " + strings.Join(e.Missing, ", ")
}

func (e *ScopeError) Is(target error) bool {
	return target == ErrInsufficientScope
}

// CheckScopes decides whether the subject may perform an operation requiring
// the given scopes.
//
// User subjects currently always pass: superusers by design, regular users
// because role-based restriction is a declared future extension that is not
// implemented. API keys pass only if every required scope is in their scope
// set. An unresolved subject is rejected as unauthenticated.
func CheckScopes(subject Subject, required ...string) error {
	switch {
	case subject.User != nil:
		return nil
	case subject.APIKey != nil:
		var missing []string
		have := make(map[string]struct{}, len(subject.APIKey.Scopes))
		for _, s := range subject.APIKey.Scopes {
			have[s] = struct{}{}
		}
		for _, s := range required {
			if _, ok := have[s]; !ok {
				missing = append(missing, s)
			}
		}
		if len(missing) > 0 {
			return &ScopeError{Missing: missing}
		}
		return nil
	default:
		return ErrUnauthenticated
	}
}

// RequireScopes returns a guard closed over a required scope set.
func RequireScopes(required ...string) func(Subject) error {
	return func(s Subject) error {
		return CheckScopes(s, required...)
	}
}
