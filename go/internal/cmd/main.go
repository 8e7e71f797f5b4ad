package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if getEnv("LOG_PRETTY", "") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	nc, err := nats.Connect(getEnv("NATS_URL", nats.DefaultURL))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	services, err := setupServices(database, nc, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire services")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go services.ConnectionManager.Start(ctx)

	// Sweeps disconnect cleanups whose owner's heartbeat lapsed, e.g. after
	// another gateway process died without closing its sockets.
	go services.RedisStore.RunReaper(ctx, 30*time.Second)

	go func() {
		if err := services.Timer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("auction timer stopped")
			cancel()
		}
	}()

	go func() {
		if err := services.EventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer stopped")
			cancel()
		}
	}()

	server := setupServer(services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	if err := services.EventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("event consumer shutdown failed")
	}
	cancel()

	log.Info().Msg("shutdown complete")
}
