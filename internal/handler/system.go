package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgate/mcpgate/internal/auth"
	"github.com/mcpgate/mcpgate/internal/model"
	"github.com/mcpgate/mcpgate/internal/server/middleware"
	"github.com/mcpgate/mcpgate/internal/store"
)

// SystemHandler manages the gateway's own accounts and credentials: login,
// user management, and API keys.
type SystemHandler struct {
	store   *store.Store
	manager *auth.Manager
	logger  *slog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(s *store.Store, manager *auth.Manager, logger *slog.Logger) *SystemHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{store: s, manager: manager, logger: logger}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates a user and returns a JWT access token.
// POST /api/v1/auth/token
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.manager.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "Account is disabled")
		return
	}

	token, err := h.manager.CreateAccessToken(map[string]any{"sub": user.Username}, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		return
	}

	if err := h.store.UpdateUserLastLogin(r.Context(), user.ID); err != nil {
		h.logger.Warn("update last login failed", "user", user.Username, "error", err)
	}

	writeJSON(w, http.StatusOK, model.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.manager.TokenTTL().Seconds()),
	})
}

// meResponse summarizes the authenticated subject.
type meResponse struct {
	Kind   string   `json:"kind"`
	User   string   `json:"user,omitempty"`
	UserID int64    `json:"user_id"`
	Key    string   `json:"key,omitempty"`
	KeyID  int64    `json:"key_id,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// Me returns a summary of the caller's credential.
// GET /api/v1/auth/me
func (h *SystemHandler) Me(w http.ResponseWriter, r *http.Request) {
	subject := middleware.GetSubject(r.Context())

	switch {
	case subject.User != nil:
		writeJSON(w, http.StatusOK, meResponse{
			Kind:   "user",
			User:   subject.User.Username,
			UserID: subject.User.ID,
		})
	case subject.APIKey != nil:
		writeJSON(w, http.StatusOK, meResponse{
			Kind:   "api_key",
			Key:    subject.APIKey.Name,
			KeyID:  subject.APIKey.ID,
			UserID: subject.APIKey.UserID,
			Scopes: subject.APIKey.Scopes,
		})
	default:
		writeError(w, http.StatusUnauthorized, "Not authenticated")
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// createKeyRequest is the expected payload for the CreateAPIKey endpoint.
type createKeyRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Scopes      []string `json:"scopes"`
	ExpiresDays int      `json:"expires_days"`
}

// CreateAPIKey mints a new API key owned by the caller. The plaintext token
// appears in this response only.
// POST /api/v1/api-keys
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Key name is required")
		return
	}

	subject := middleware.GetSubject(r.Context())
	var ownerID int64
	switch {
	case subject.User != nil:
		ownerID = subject.User.ID
	case subject.APIKey != nil:
		ownerID = subject.APIKey.UserID
	default:
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	key, token, err := h.manager.CreateAPIKey(r.Context(), auth.CreateAPIKeyParams{
		UserID:      ownerID,
		Name:        req.Name,
		Description: req.Description,
		Scopes:      req.Scopes,
		ExpiresDays: req.ExpiresDays,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, model.APIKeyCreateResponse{
		Key:   key,
		Token: token,
	})
}

// ListAPIKeys returns all API keys. Hashes are never included.
// GET /api/v1/api-keys
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// RevokeAPIKey marks an API key inactive.
// DELETE /api/v1/api-keys/{id}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// createUserRequest is the expected payload for the CreateUser endpoint.
type createUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	IsSuperuser bool   `json:"is_superuser"`
}

// CreateUser registers a new user account.
// POST /api/v1/users
func (h *SystemHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	if _, err := h.store.GetUserByUsername(r.Context(), req.Username); err == nil {
		writeError(w, http.StatusConflict, "User already exists: "+req.Username)
		return
	}

	user, err := h.manager.CreateUser(r.Context(), req.Username, req.Password, req.Email, req.IsSuperuser)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// ListUsers returns all user accounts.
// GET /api/v1/users
func (h *SystemHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: users,
		Meta:     &model.ResponseMeta{Count: len(users)},
	})
}
