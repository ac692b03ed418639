package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mcpgate/mcpgate/internal/auth"
	"github.com/mcpgate/mcpgate/internal/model"
)

type contextKeyAuth string

// SubjectKey is the context key for the authenticated subject.
const SubjectKey contextKeyAuth = "auth_subject"

// Authenticate returns an HTTP middleware that resolves the request's bearer
// token to a subject. Tokens with the API-key prefix resolve as API keys
// first; everything else is treated as a JWT. On success the Subject is
// attached to the request context; on failure a 401 JSON error is returned.
func Authenticate(manager *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide a Bearer token or API key.")
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")

			subject, err := manager.ResolveSubject(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScopes returns an HTTP middleware that enforces scope containment
// for API-key subjects. User subjects pass unconditionally. It must run
// after Authenticate. An unauthenticated request gets 401; an authenticated
// key missing scopes gets 403 naming what is missing.
func RequireScopes(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := auth.CheckScopes(GetSubject(r.Context()), required...)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, auth.ErrUnauthenticated):
				writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
			default:
				writeAuthError(w, http.StatusForbidden, err.Error())
			}
		})
	}
}

// GetSubject extracts the authenticated subject from the context. The zero
// Subject means the request is unauthenticated.
func GetSubject(ctx context.Context) auth.Subject {
	if s, ok := ctx.Value(SubjectKey).(auth.Subject); ok {
		return s
	}
	return auth.Subject{}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
