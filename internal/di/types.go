/**
 * Package di provides dependency injection type definitions.
 *
 * Container holds every long-lived dependency of the service. It is built by
 * Wire() and handed to the HTTP server and main for startup and shutdown.
 */
package di

import (
	"errors"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/events"
	"github.com/aristath/arbiter/internal/modules/alerts"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/aristath/arbiter/internal/modules/deals"
	"github.com/aristath/arbiter/internal/modules/ledger"
	"github.com/aristath/arbiter/internal/modules/listings"
	"github.com/aristath/arbiter/internal/modules/snipes"
	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/aristath/arbiter/internal/reliability"
	"github.com/aristath/arbiter/internal/scheduler"
)

// Container holds all dependencies for the application
type Container struct {
	// Databases
	MarketDB     *database.DB // listings, models, comparables, ledger
	OperationsDB *database.DB // snipes, alerts

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories
	ListingRepo     *listings.Repository
	DamageRepo      *listings.DamageRepository
	ModelRepo       *valuation.ModelRepository
	ComparablesRepo *comparables.Repository
	Ledger          *ledger.Ledger
	AlertRepo       *alerts.Repository
	SnipeStore      *snipes.Store

	// Services
	ValuationEngine  *valuation.Engine
	ComparablesIndex *comparables.Index
	Notifier         *alerts.Dispatcher
	AlertMatcher     *alerts.Matcher
	ListingService   *listings.Service
	BidExecutor      domain.BidExecutor
	SnipeScheduler   *snipes.Scheduler
	SnipeService     *snipes.Service
	DealFinder       *deals.Finder
	BackupService    *reliability.BackupService // nil when backups are disabled

	// Cron jobs
	JobScheduler *scheduler.Scheduler
}

// Databases returns the open databases keyed by name
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 2)
	if c.MarketDB != nil {
		dbs[c.MarketDB.Name()] = c.MarketDB
	}
	if c.OperationsDB != nil {
		dbs[c.OperationsDB.Name()] = c.OperationsDB
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() error {
	var errs []error
	for _, db := range []*database.DB{c.MarketDB, c.OperationsDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
