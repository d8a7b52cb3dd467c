package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"temperature-bench/internal/config"
	"temperature-bench/migrations"
	"temperature-bench/pkg/database"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	script, err := migrations.Load(*direction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("temperature-bench-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()

	db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metrics.NewCollector("temperature_bench"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger.Info(ctx, "[MIGRATE_START] Running migration", logging.Fields{
		"direction": *direction,
		"database":  cfg.Database.Database,
	})

	if _, err := db.ExecContext(ctx, "migrate_"+*direction, script); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	logger.Info(ctx, "[MIGRATE_COMPLETE] Migration completed successfully", logging.Fields{
		"direction": *direction,
	})
}
