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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	config, err := loadConfig(os.Getenv("AUCTION_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(config.level())

	// Amounts go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := setupDatabase(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	defer pool.Close()

	rdb, err := setupRedis(ctx, config.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	services, err := setupServices(ctx, config, pool, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}
	defer services.Close()

	if err := services.Dispatcher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start notification dispatcher")
	}

	// Start gateway broadcast loop before anything can broadcast
	gatewayDone := make(chan struct{})
	go func() {
		defer close(gatewayDone)
		services.Gateway.Start(ctx)
	}()

	if _, err := services.Recovery.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("auction recovery failed")
	}

	if err := services.Activation.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start activation job")
	}

	server := setupServer(config, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Running countdowns are dropped; recovery restores them on the next start.
	services.Scheduler.Shutdown()

	if err := services.Activation.Stop(); err != nil {
		log.Error().Err(err).Msg("activation job shutdown failed")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	<-gatewayDone
	services.Dispatcher.Stop()

	log.Info().Msg("bidhouse shutdown complete")
}
