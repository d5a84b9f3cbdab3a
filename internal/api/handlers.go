package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"parley/internal/auth"
	"parley/internal/models"

	"github.com/rs/zerolog/log"
)

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req auth.LoginRequest

	// Support both JSON and form bodies.
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	loginResp, _ := a.auth.Login(req)

	if !loginResp.Success {
		w.WriteHeader(http.StatusUnauthorized)
		if err := json.NewEncoder(w).Encode(loginResp); err != nil {
			log.Error().Err(err).Msg("failed to encode login response")
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})

	writeJSON(w, loginResp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := a.getToken(r)
	if token != "" {
		if userID, err := a.auth.GetUserID(token); err == nil {
			a.hub.DisconnectUser(userID)
		}
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req auth.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.auth.Register(req); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, models.APIResponse{Success: true})
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := a.auth.User(requestUserID(r))
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, user)
}

func (a *API) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.auth.UpdateDisplayName(requestUserID(r), req.DisplayName); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, models.APIResponse{Success: true})
}

// UsersHandler lists the directory with effective presence for each user.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users := a.auth.Users()

	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	statuses, err := a.hub.Statuses(ids)
	if err != nil {
		writeError(w, err)
		return
	}

	type userWithPresence struct {
		models.User
		Online bool `json:"online"`
	}
	out := make([]userWithPresence, 0, len(users))
	for _, u := range users {
		out = append(out, userWithPresence{User: u, Online: statuses[u.ID]})
	}
	writeJSON(w, out)
}

func (a *API) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	online := true
	if req.Online != nil {
		online = *req.Online
	}

	a.hub.Heartbeat(requestUserID(r), online)
	writeJSON(w, models.APIResponse{Success: true})
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var sub models.PushSubscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if sub.Endpoint == "" {
			writeError(w, fmt.Errorf("%w: endpoint is required", models.ErrValidation))
			return
		}
		if err := a.store.SavePushSubscription(requestUserID(r), sub); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, models.APIResponse{Success: true})
	case http.MethodDelete:
		endpoint := r.URL.Query().Get("endpoint")
		if endpoint == "" {
			writeError(w, fmt.Errorf("%w: endpoint is required", models.ErrValidation))
			return
		}
		if err := a.store.DeletePushSubscription(requestUserID(r), endpoint); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, models.APIResponse{Success: true})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// VAPIDKeyHandler hands the public key to clients so they can subscribe
// with the browser push service.
func (a *API) VAPIDKeyHandler(w http.ResponseWriter, r *http.Request) {
	if a.vapidPublicKey == "" {
		http.Error(w, "Push is not configured", http.StatusNotFound)
		return
	}
	writeJSON(w, struct {
		PublicKey string `json:"publicKey"`
	}{PublicKey: a.vapidPublicKey})
}
