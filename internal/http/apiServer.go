package http

import (
	"context"
	"net/http"
	"sync"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/call"
	"parley/internal/filestore"
	"parley/internal/hub"
	"parley/internal/store"
	"parley/internal/ws"

	"github.com/rs/zerolog/log"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.AuthService, h *hub.Hub, calls *call.Signaler, st *store.Store, blobs filestore.BlobStore, vapidPublicKey, addr string) *APIServer {
	wsServer := ws.NewServer(authService, h, calls)
	apiHandlers := api.New(authService, h, calls, st, blobs, vapidPublicKey)

	mux := http.NewServeMux()

	// Session endpoints
	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))
	mux.HandleFunc("POST /api/register", api.RequireSameOrigin(apiHandlers.RegisterHandler))

	// Directory and profile
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))
	mux.HandleFunc("POST /api/me/display-name", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UpdateProfileHandler)))
	mux.HandleFunc("GET /api/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("POST /api/presence/heartbeat", apiHandlers.RequireAuth(apiHandlers.HeartbeatHandler))

	// Conversations and messages
	mux.HandleFunc("GET /api/conversations", apiHandlers.RequireAuth(apiHandlers.ConversationsHandler))
	mux.HandleFunc("POST /api/conversations/direct", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.CreateDirectHandler)))
	mux.HandleFunc("POST /api/conversations/group", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.CreateGroupHandler)))
	mux.HandleFunc("GET /api/conversations/{id}", apiHandlers.RequireAuth(apiHandlers.OpenConversationHandler))
	mux.HandleFunc("POST /api/conversations/{id}/messages", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendMessageHandler)))
	mux.HandleFunc("GET /api/conversations/{id}/calls", apiHandlers.RequireAuth(apiHandlers.CallHistoryHandler))
	mux.HandleFunc("DELETE /api/messages/{id}", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.RecallMessageHandler)))
	mux.HandleFunc("POST /api/messages/{id}/reactions", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.ReactHandler)))

	// Attachments
	mux.HandleFunc("POST /api/upload", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UploadAttachmentHandler)))
	mux.HandleFunc("GET /api/attachments/{id}", apiHandlers.RequireAuth(apiHandlers.GetAttachmentHandler))

	// Push subscriptions
	mux.HandleFunc("/api/push/subscription", apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler))
	mux.HandleFunc("GET /api/push/vapid-key", apiHandlers.RequireAuth(apiHandlers.VAPIDKeyHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("server started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
