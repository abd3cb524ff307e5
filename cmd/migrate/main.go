package main

// Run database migrations for the configured store:
//   go run ./cmd/migrate

import (
	"context"
	"log"
	"os"

	"devin-backend/internal/bootstrap"
	"devin-backend/internal/shared/config"
	"devin-backend/internal/shared/storage/db"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if cfg.StoreType == config.StoreMemory {
		log.Printf("STORE=memory has no schema; nothing to migrate")
		return
	}

	sqlDB, _, err := bootstrap.BuildRepo(ctx, cfg, db.DefaultMigrateOptions())
	if err != nil {
		log.Printf("failed to run migrations: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	log.Printf("migrations applied (store=%s)", cfg.StoreType)
}
