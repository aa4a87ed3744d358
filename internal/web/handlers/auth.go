package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/database"
	"github.com/queryportal/queryportal/internal/web/middleware"
)

type userView struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func viewUser(u *database.UserRecord) userView {
	return userView{ID: u.ID, Username: u.Username, Role: u.Role}
}

// Setup creates the initial admin account. Only works while no users exist.
func (h *Handlers) Setup(w http.ResponseWriter, r *http.Request) {
	firstRun, err := h.db.IsFirstRun()
	if err != nil {
		h.jsonError(w, "failed to check setup state", http.StatusInternalServerError)
		return
	}
	if !firstRun {
		h.jsonError(w, "setup already completed", http.StatusConflict)
		return
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if body.Username == "" || len(body.Password) < 8 {
		h.jsonError(w, "username and a password of at least 8 characters are required", http.StatusBadRequest)
		return
	}

	user, err := h.authService.CreateUser(body.Username, body.Password, database.RoleAdmin)
	if err != nil {
		h.jsonError(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	log.Info().Str("username", user.Username).Msg("Initial admin account created")
	h.writeJSON(w, http.StatusCreated, viewUser(user))
}

// Login authenticates a user and sets the session cookie.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}

	user, err := h.authService.Authenticate(body.Username, body.Password)
	if err != nil {
		h.jsonError(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	if user == nil {
		h.jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	session, err := h.authService.CreateSession(user.ID)
	if err != nil {
		h.jsonError(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	c := &http.Cookie{
		Name:     "session",
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
	}
	h.applyCookieSecurity(c)
	http.SetCookie(w, c)

	h.writeJSON(w, http.StatusOK, viewUser(user))
}

// Logout deletes the current session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("session"); err == nil {
		if err := h.authService.DeleteSession(cookie.Value); err != nil {
			log.Error().Err(err).Msg("Failed to delete session")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the authenticated user.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	h.writeJSON(w, http.StatusOK, viewUser(user))
}

// ChangePassword updates the authenticated user's password.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if len(body.NewPassword) < 8 {
		h.jsonError(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	verified, err := h.authService.Authenticate(user.Username, body.CurrentPassword)
	if err != nil {
		h.jsonError(w, "failed to verify password", http.StatusInternalServerError)
		return
	}
	if verified == nil {
		h.jsonError(w, "current password is incorrect", http.StatusUnauthorized)
		return
	}

	if err := h.authService.UpdatePassword(user.ID, body.NewPassword); err != nil {
		h.jsonError(w, "failed to update password", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// UserCreate creates a new user account. Admin only.
func (h *Handlers) UserCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if body.Username == "" || len(body.Password) < 8 {
		h.jsonError(w, "username and a password of at least 8 characters are required", http.StatusBadRequest)
		return
	}
	if body.Role == "" {
		body.Role = database.RoleRequester
	}

	user, err := h.authService.CreateUser(body.Username, body.Password, body.Role)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusCreated, viewUser(user))
}

// APIKeyCreate generates an API key for the authenticated user. The
// plaintext key appears only in this response.
func (h *Handlers) APIKeyCreate(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var body struct {
		Name string `json:"name"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" {
		h.jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	key, record, err := h.authService.CreateAPIKey(user.ID, body.Name)
	if err != nil {
		h.jsonError(w, "failed to create api key", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"id":   record.ID,
		"name": record.Name,
		"key":  key,
	})
}

// APIKeyDelete removes one of the authenticated user's API keys.
func (h *Handlers) APIKeyDelete(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "invalid api key id", http.StatusBadRequest)
		return
	}
	if err := h.authService.DeleteAPIKey(id, user.ID); err != nil {
		h.jsonError(w, "failed to delete api key", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
