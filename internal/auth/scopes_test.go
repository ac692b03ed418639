package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/mcpgate/mcpgate/internal/model"
)

func keySubject(scopes ...string) Subject {
	return Subject{APIKey: &model.APIKey{ID: 1, Name: "test", Scopes: scopes, IsActive: true}}
}

func TestCheckScopes(t *testing.T) {
	tests := []struct {
		name     string
		subject  Subject
		required []string
		want     error
	}{
		{"unauthenticated", Subject{}, []string{ScopeGatewayRead}, ErrUnauthenticated},
		{"unauthenticated no requirements", Subject{}, nil, ErrUnauthenticated},
		{"user passes regardless of scopes", Subject{User: &model.User{ID: 1}}, []string{ScopeAdmin}, nil},
		{"key with exact scopes", keySubject(ScopeGatewayRead, ScopeGatewayWrite), []string{ScopeGatewayRead, ScopeGatewayWrite}, nil},
		{"key with superset", keySubject(ScopeGatewayRead, ScopeGatewayWrite, ScopeToolsCall), []string{ScopeGatewayRead, ScopeGatewayWrite}, nil},
		{"key missing one scope", keySubject(ScopeGatewayRead), []string{ScopeGatewayRead, ScopeGatewayWrite}, ErrInsufficientScope},
		{"key with no scopes", keySubject(), []string{ScopeToolsCall}, ErrInsufficientScope},
		{"key no requirements", keySubject(), nil, nil},
		// admin is a literal scope, not a wildcard over the others
		{"admin does not imply others", keySubject(ScopeAdmin), []string{ScopeToolsCall}, ErrInsufficientScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckScopes(tt.subject, tt.required...)
			if !errors.Is(err, tt.want) {
				t.Errorf("CheckScopes() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScopeErrorNamesMissing(t *testing.T) {
	err := CheckScopes(keySubject(ScopeGatewayRead), ScopeGatewayRead, ScopeGatewayWrite, ScopeToolsCall)
	if !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("expected ErrInsufficientScope, got %v", err)
	}

	var scopeErr *ScopeError
	if !errors.As(err, &scopeErr) {
		t.Fatalf("expected *ScopeError, got %T", err)
	}
	if len(scopeErr.Missing) != 2 {
		t.Fatalf("Missing = %v, want the two absent scopes", scopeErr.Missing)
	}
	for _, want := range []string{ScopeGatewayWrite, ScopeToolsCall} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name missing scope %q", err, want)
		}
	}
	if strings.Contains(err.Error(), ScopeGatewayRead+",") {
		t.Errorf("error %q names a scope the key holds", err)
	}
}

func TestRequireScopes(t *testing.T) {
	check := RequireScopes(ScopeToolsCall)

	if err := check(keySubject(ScopeToolsCall)); err != nil {
		t.Errorf("holder rejected: %v", err)
	}
	if err := check(keySubject(ScopeGatewayRead)); !errors.Is(err, ErrInsufficientScope) {
		t.Errorf("non-holder: got %v, want ErrInsufficientScope", err)
	}
	if err := check(Subject{}); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("anonymous: got %v, want ErrUnauthenticated", err)
	}
}
