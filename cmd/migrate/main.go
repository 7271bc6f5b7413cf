package main

import (
	"log"
	"os"

	"github.com/dxcp/dxcp/internal/infrastructure/migrations"
)

func main() {
	migrationConfig, err := migrations.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load migration config: %v", err)
	}

	backupConfig, err := migrations.LoadBackupConfig()
	if err != nil {
		log.Fatalf("Failed to load backup config: %v", err)
	}

	healthConfig, err := migrations.LoadHealthConfig()
	if err != nil {
		log.Fatalf("Failed to load health config: %v", err)
	}

	manager, err := migrations.NewMigrationManager(migrationConfig)
	if err != nil {
		log.Fatalf("Failed to create migration manager: %v", err)
	}

	backupManager := migrations.NewBackupManager(backupConfig, manager.DB(), migrationConfig.Logger)
	healthChecker := migrations.NewHealthChecker(manager.DB(), healthConfig, migrationConfig.Logger)

	cli := migrations.NewCLI(manager, backupManager, healthChecker, migrationConfig.Logger)

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
