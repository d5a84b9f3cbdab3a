package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"parley/internal/auth"
	"parley/internal/call"
	"parley/internal/filestore"
	"parley/internal/hub"
	"parley/internal/models"
	"parley/internal/store"

	"github.com/rs/zerolog/log"
)

type API struct {
	auth    *auth.AuthService
	hub     *hub.Hub
	calls   *call.Signaler
	store   *store.Store
	blobs   filestore.BlobStore
	baseURL string

	// VAPID public key handed to clients registering for push.
	vapidPublicKey string
}

func New(authService *auth.AuthService, h *hub.Hub, calls *call.Signaler, st *store.Store, blobs filestore.BlobStore, vapidPublicKey string) *API {
	return &API{
		auth:           authService,
		hub:            h,
		calls:          calls,
		store:          st,
		blobs:          blobs,
		vapidPublicKey: vapidPublicKey,
	}
}

type contextKey string

const userIDKey contextKey = "userID"

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the session token and stores the user id in the
// request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// RequireSameOrigin rejects cross-site requests on mutating endpoints.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = r.Header.Get("Referer")
		}
		if origin != "" {
			parsed, err := url.Parse(origin)
			if err != nil || parsed.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses. Anything
// unrecognized is a transient backend failure.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIResponse{
		Success: false,
		Message: err.Error(),
	})
}
