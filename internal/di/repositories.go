// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/aristath/arbiter/internal/modules/alerts"
	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/aristath/arbiter/internal/modules/ledger"
	"github.com/aristath/arbiter/internal/modules/listings"
	"github.com/aristath/arbiter/internal/modules/snipes"
	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}
	if container.MarketDB == nil || container.OperationsDB == nil {
		return fmt.Errorf("databases must be initialized first")
	}

	market := container.MarketDB.Conn()
	container.ListingRepo = listings.NewRepository(market, log)
	container.DamageRepo = listings.NewDamageRepository(market, log)
	container.ModelRepo = valuation.NewModelRepository(market, log)
	container.ComparablesRepo = comparables.NewRepository(market, log)
	container.Ledger = ledger.New(market, log)

	operations := container.OperationsDB.Conn()
	container.AlertRepo = alerts.NewRepository(operations, log)
	container.SnipeStore = snipes.NewStore(operations, log)

	log.Info().Msg("Repositories initialized")
	return nil
}
