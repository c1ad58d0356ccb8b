// Package main is the entry point for Arbiter, a second-hand marketplace
// service that values listings, tracks comparable sales, finds deals and
// fires last-second bids.
//
// Startup order:
//  1. Load configuration and build the logger
//  2. Wire databases, repositories, services and cron jobs
//  3. Warm the comparables snapshot
//  4. Start the snipe scheduler, then the cron jobs
//  5. Serve HTTP until SIGINT or SIGTERM
//
// Shutdown reverses the order so in-flight bids finish before the databases close.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/arbiter/internal/config"
	"github.com/aristath/arbiter/internal/di"
	"github.com/aristath/arbiter/internal/server"
	"github.com/aristath/arbiter/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Arbiter")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	// A cold index only lowers valuation confidence, so startup continues
	if err := container.ComparablesIndex.Warm(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to warm comparables index")
	}

	if err := container.SnipeScheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start snipe scheduler")
	}
	go func() {
		for err := range container.SnipeScheduler.Errors() {
			log.Error().Err(err).Msg("Snipe scheduler error")
		}
	}()
	log.Info().Msg("Snipe scheduler started")

	container.JobScheduler.Start()
	log.Info().Strs("jobs", container.JobScheduler.JobNames()).Msg("Cron jobs started")

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		DataDir:     cfg.DataDir,
		CORSOrigins: cfg.CORSOrigins,
		StaleAfter:  cfg.Valuation.StaleAfter,
		Container:   container,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.JobScheduler.Stop()
	log.Info().Msg("Cron jobs stopped")

	// Waits for in-flight bid attempts
	container.SnipeScheduler.Stop()
	log.Info().Msg("Snipe scheduler stopped")

	cancel()
	log.Info().Msg("Arbiter stopped")
}
