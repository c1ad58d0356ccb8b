// Package di provides dependency injection for services.
package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aristath/arbiter/internal/config"
	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/events"
	"github.com/aristath/arbiter/internal/modules/alerts"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/aristath/arbiter/internal/modules/deals"
	"github.com/aristath/arbiter/internal/modules/listings"
	"github.com/aristath/arbiter/internal/modules/snipes"
	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/aristath/arbiter/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates all services and stores them in the container.
// Repositories must already be initialized.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}
	if container.ListingRepo == nil {
		return fmt.Errorf("repositories must be initialized first")
	}

	// Events
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// Valuation and comparables
	container.ValuationEngine = valuation.NewEngine(valuation.Options{
		StaleAfter:       cfg.Valuation.StaleAfter,
		MinComparables:   cfg.Valuation.MinComparables,
		MarketAdjustment: cfg.Valuation.MarketAdjustment,
	})
	container.ComparablesIndex = comparables.NewIndex(container.ComparablesRepo, comparables.IndexConfig{
		SalesWindow:  cfg.Valuation.SalesWindow,
		SnapshotPath: filepath.Join(cfg.DataDir, "comparables.msgpack"),
	}, log)

	// Alerts: webhooks are delivered, every other channel is logged
	container.Notifier = alerts.NewDispatcher(alerts.NewLogNotifier(log)).
		Route(alerts.MethodWebhook, alerts.NewWebhookNotifier(cfg.Notifier.WebhookTimeout, log))
	container.AlertMatcher = alerts.NewMatcher(container.AlertRepo, container.Notifier, container.EventManager, log)

	// Listings
	container.ListingService = listings.NewService(listings.ServiceConfig{
		DB:          container.MarketDB.Conn(),
		Listings:    container.ListingRepo,
		Damages:     container.DamageRepo,
		Models:      container.ModelRepo,
		Engine:      container.ValuationEngine,
		Comparables: container.ComparablesIndex,
		Sales:       container.ComparablesRepo,
		Ledger:      container.Ledger,
		Alerts:      container.AlertMatcher,
		Events:      container.EventManager,
	}, log)

	// Snipes
	executor, err := newBidExecutor(cfg.Executor, log)
	if err != nil {
		return err
	}
	container.BidExecutor = executor
	container.SnipeScheduler = snipes.NewScheduler(container.SnipeStore, executor, snipes.Config{
		GraceWindow:      cfg.Scheduler.GraceWindow,
		ArmAhead:         cfg.Scheduler.ArmAhead,
		MaxAttempts:      cfg.Scheduler.MaxAttempts,
		RetryBackoff:     cfg.Scheduler.RetryBackoff,
		SafetyMargin:     cfg.Scheduler.SafetyMargin,
		ExecutionTimeout: cfg.Scheduler.ExecutionTimeout,
		Workers:          cfg.Scheduler.Workers,
		RescanInterval:   cfg.Scheduler.RescanInterval,
		ShardCount:       cfg.Scheduler.ShardCount,
		ShardIndex:       cfg.Scheduler.ShardIndex,
	}, log)
	container.SnipeScheduler.SetListingSink(container.ListingService)
	container.SnipeScheduler.SetEventManager(container.EventManager)
	container.SnipeService = snipes.NewService(
		container.SnipeStore,
		container.SnipeScheduler,
		container.ListingService,
		container.EventManager,
		cfg.Scheduler.DefaultLeadTime,
		log,
	)

	// Deals
	container.DealFinder = deals.NewFinder(container.ListingRepo, container.ComparablesIndex, cfg.Valuation.StaleAfter, log)

	// Backups
	store, err := reliability.NewObjectStore(ctx, cfg.Backup)
	if err != nil {
		return fmt.Errorf("failed to initialize backup store: %w", err)
	}
	if store != nil {
		container.BackupService = reliability.NewBackupService(
			[]*database.DB{container.MarketDB, container.OperationsDB},
			store,
			cfg.Backup.Provider,
			cfg.Backup.KeepLast,
			filepath.Join(cfg.DataDir, "backup-staging"),
			container.EventManager,
			log,
		)
	}

	log.Info().Str("executor", cfg.Executor.Mode).Str("backup", cfg.Backup.Provider).Msg("Services initialized")
	return nil
}

func newBidExecutor(cfg config.ExecutorConfig, log zerolog.Logger) (domain.BidExecutor, error) {
	switch cfg.Mode {
	case "", "dry_run":
		return snipes.NewDryRunExecutor(log), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("BID_EXECUTOR_URL is required in http mode")
		}
		return snipes.NewHTTPExecutor(cfg.BaseURL, cfg.APIKey, log), nil
	default:
		return nil, fmt.Errorf("unknown bid executor mode %q", cfg.Mode)
	}
}
