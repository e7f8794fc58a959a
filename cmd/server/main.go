package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/adapter/driven/gateway/ws"
	"github.com/serenechat/serene/internal/adapter/driven/identity/jwt"
	"github.com/serenechat/serene/internal/adapter/driven/persistence/memory"
	presence "github.com/serenechat/serene/internal/adapter/driven/presence/memory"
	handler "github.com/serenechat/serene/internal/adapter/driving/http"
	"github.com/serenechat/serene/internal/config"
	"github.com/serenechat/serene/internal/core/service"
)

func main() {
	cfg := config.Load()

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("SERENE_JWT_SECRET is required")
	}

	registry := presence.NewRegistry()
	hub := ws.NewHub(registry)
	repo := memory.NewMessageRepository()
	verifier := jwt.NewVerifier([]byte(cfg.JWTSecret))

	relayService := service.NewRelayService(hub)
	chatService := service.NewChatService(repo, hub)

	h := handler.NewHandler(relayService, chatService, hub, verifier, cfg.AllowedOrigin)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	log.Info().Msg("Server exited")
}
