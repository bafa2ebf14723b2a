package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/config"
	"github.com/aristath/nexus/internal/database"
)

// InitializeDatabases opens and migrates the SQLite databases. The memory
// backend opens nothing.
func InitializeDatabases(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.StorageBackend != config.StorageSQLite {
		log.Info().Str("backend", cfg.StorageBackend).Msg("Using in-memory storage")
		return nil
	}

	// ledger.db - portfolios, positions, goals and the transaction trail
	ledgerDB, err := openDatabase(cfg.DataDir, database.NameLedger, database.ProfileLedger)
	if err != nil {
		return err
	}
	container.LedgerDB = ledgerDB

	// decisions.db - decision log and execution failures
	decisionsDB, err := openDatabase(cfg.DataDir, database.NameDecisions, database.ProfileStandard)
	if err != nil {
		ledgerDB.Close()
		container.LedgerDB = nil
		return err
	}
	container.DecisionsDB = decisionsDB

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return nil
}

func openDatabase(dataDir, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s database: %w", name, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}
