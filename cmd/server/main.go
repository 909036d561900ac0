package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/adapters/httpapi"
	"github.com/quckchat/call-service/internal/adapters/identity"
	"github.com/quckchat/call-service/internal/adapters/notify"
	"github.com/quckchat/call-service/internal/adapters/ws"
	"github.com/quckchat/call-service/internal/app"
	"github.com/quckchat/call-service/internal/config"
	"github.com/quckchat/call-service/internal/store"
	"github.com/quckchat/call-service/internal/store/memory"
	"github.com/quckchat/call-service/internal/store/redisstore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var st store.Store
	switch cfg.Store {
	case "redis":
		st, err = redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("redis store unavailable")
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis store")
	default:
		st = memory.New()
		log.Info().Msg("using in-memory store")
	}

	hub := ws.NewHub()

	var notifier app.Notifier = notify.Nop{}
	if cfg.NotificationURL != "" {
		notifier = notify.New(cfg.NotificationURL)
	}
	var contacts app.IdentityProvider = identity.AllowAll{}
	if cfg.IdentityURL != "" {
		contacts = identity.New(cfg.IdentityURL)
	}

	settings := app.Settings{
		RingTimeout:     cfg.RingTimeout,
		InviteTTL:       cfg.InviteTTL,
		MaxParticipants: cfg.MaxParticipants,
	}
	registry := app.NewRegistry(st)
	coord := app.NewCoordinator(st, registry, hub, notifier, contacts, settings)

	supervisor := app.NewSupervisor(coord, st, cfg.ScanInterval)
	go supervisor.Run(ctx)

	r := httpapi.SetupRouter(ctx, cfg, coord, hub, st)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("call service started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
