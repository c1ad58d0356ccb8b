// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/arbiter/internal/config"
	"github.com/aristath/arbiter/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// market.db - listings, valuation models, comparables and the append-only ledger
	marketDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, database.NameMarket+".db"),
		Profile: database.ProfileLedger,
		Name:    database.NameMarket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize market database: %w", err)
	}
	container.MarketDB = marketDB

	// operations.db - snipes and alerts
	operationsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, database.NameOperations+".db"),
		Profile: database.ProfileStandard,
		Name:    database.NameOperations,
	})
	if err != nil {
		marketDB.Close()
		return nil, fmt.Errorf("failed to initialize operations database: %w", err)
	}
	container.OperationsDB = operationsDB

	for _, db := range []*database.DB{marketDB, operationsDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
