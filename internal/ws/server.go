package ws

import (
	"net/http"

	"parley/internal/auth"
	"parley/internal/call"
	"parley/internal/hub"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Server struct {
	auth     *auth.AuthService
	hub      *hub.Hub
	calls    *call.Signaler
	upgrader *websocket.Upgrader
}

func NewServer(authService *auth.AuthService, h *hub.Hub, calls *call.Signaler) *Server {
	return &Server{
		auth:  authService,
		hub:   h,
		calls: calls,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Same-origin is enforced on the mutating REST routes
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.GetUserID(requestToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := NewConnection(s.hub, s.calls, conn, userID)
	if err := c.Handle(r.Context()); err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("connection closed")
	}
}

func requestToken(r *http.Request) string {
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
