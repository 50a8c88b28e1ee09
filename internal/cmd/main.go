package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"storypoker/internal/gateway"
	"storypoker/internal/room"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Info().
		Int("port", cfg.Server.Port).
		Str("static_dir", cfg.Server.StaticDir).
		Dur("grace_period", cfg.Room.GracePeriod).
		Msg("starting storypoker server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Room engine: registry owns the rooms, reaper reclaims abandoned
	// ones, gateway routes client actions between them and the wire.
	registry := room.NewRegistry()
	reaper := room.NewReaper(registry, cfg.Room.GracePeriod)
	service := gateway.NewService(ctx, gateway.DefaultConfig(), registry, reaper)
	wsHandler := gateway.NewWebSocketHandler(service)

	go service.Start()

	server := setupServer(cfg, wsHandler)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
