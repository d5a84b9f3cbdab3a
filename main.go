package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parley/internal/auth"
	"parley/internal/call"
	"parley/internal/commands"
	"parley/internal/config"
	"parley/internal/filestore"
	"parley/internal/http"
	"parley/internal/hub"
	applog "parley/internal/log"
	"parley/internal/push"
	"parley/internal/store"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, addUser string) error {
	cfg, err := config.Load(addUser != "")
	if err != nil {
		return err
	}

	applog.Init(cfg.Env)

	if addUser != "" {
		return commands.AddUser(addUser, cfg)
	}

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	st, err := store.Open(cfg.DBFile, cfg.PresenceWindow)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	authService, err := auth.NewAuthService(ctx, authConfig, st)
	if err != nil {
		return err
	}

	blobs, err := filestore.NewLocalBlobStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	h := hub.NewHub(ctx, st, authService, cfg.TypingTTL)
	if cfg.VAPIDPublicKey != "" {
		h.SetNotifier(push.NewDispatcher(st, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.PushSubscriber))
	}
	signaler := call.NewSignaler(st, h, cfg.RingTimeout)

	adminServer := http.NewAdminServer(authService, h, cfg.BaseURL, cfg.AdminAddr)
	apiServer := http.NewAPIServer(authService, h, signaler, st, blobs, cfg.VAPIDPublicKey, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(adminServer.Start)
	g.Go(apiServer.Start)

	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("admin server shutdown error")
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
		return nil
	})

	return g.Wait()
}

func main() {
	addUser := flag.String("add-user", "", "Username to create (prints a setup link for the new user)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addUser); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("application error")
	}
}
