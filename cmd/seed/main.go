package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"skillhub/backend/internal/catalog"
	"skillhub/backend/internal/config"
	"skillhub/backend/internal/logging"
	"skillhub/backend/internal/repository"
)

func main() {
	ctx := context.Background()

	configFile := flag.String("config", "", "Path to config file")
	catalogFile := flag.String("catalog", "catalog.yaml", "Path to the package catalog")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.NewLogger(cfg.Log)

	pkgs, err := catalog.LoadFile(*catalogFile)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.NewMigrationManager(pool, logger).RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	store := repository.NewPostgresStore(pool, logger)
	if err := catalog.Seed(ctx, store, pkgs, logger); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	logger.Info("Seeding complete!", "packages", len(pkgs))
}
