package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"parley/internal/auth"
	"parley/internal/hub"
	"parley/internal/models"
)

// AdminHandler serves the localhost-only management endpoints.
type AdminHandler struct {
	authService *auth.AuthService
	hub         *hub.Hub
	baseURL     string
}

func NewAdminHandler(authService *auth.AuthService, h *hub.Hub, baseURL string) *AdminHandler {
	return &AdminHandler{authService: authService, hub: h, baseURL: baseURL}
}

type AddUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

type AddUserResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Username  string `json:"username,omitempty"`
	SetupLink string `json:"setupLink,omitempty"`
}

func (h *AdminHandler) setupLink(token string) string {
	base := strings.TrimRight(h.baseURL, "/")
	return fmt.Sprintf("%s/register.html?token=%s", base, url.QueryEscape(token))
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	token, err := h.authService.AddUser(req.Username, displayName)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	writeJSON(w, AddUserResponse{
		Success:   true,
		Username:  req.Username,
		SetupLink: h.setupLink(token),
	})
}

func (h *AdminHandler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if err := h.authService.DeleteUser(userID); err != nil {
		writeError(w, err)
		return
	}

	h.hub.DisconnectUser(userID)
	writeJSON(w, models.APIResponse{Success: true})
}

func (h *AdminHandler) ResetUserPasswordHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	token, err := h.authService.ResetPassword(userID)
	if err != nil {
		writeError(w, err)
		return
	}

	// Old sessions are invalid after a reset.
	h.hub.DisconnectUser(userID)

	writeJSON(w, models.ResetPasswordResponse{
		APIResponse: models.APIResponse{Success: true},
		SetupLink:   h.setupLink(token),
	})
}

func (h *AdminHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.authService.Users())
}
