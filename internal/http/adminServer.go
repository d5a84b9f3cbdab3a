package http

import (
	"context"
	"net/http"
	"sync"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/hub"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AdminServer is bound to localhost and carries the management API plus
// the metrics endpoint.
type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(authService *auth.AuthService, h *hub.Hub, baseURL, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(authService, h, baseURL)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)
	mux.HandleFunc("GET /admin/users", adminHandler.ListUsersHandler)
	mux.HandleFunc("DELETE /admin/users/{id}", adminHandler.DeleteUserHandler)
	mux.HandleFunc("POST /admin/users/{id}/reset-password", adminHandler.ResetUserPasswordHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("admin API started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
