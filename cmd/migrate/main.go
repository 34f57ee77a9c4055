package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"census-atlas/internal/config"
	"census-atlas/pkg/database"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	dir := flag.String("dir", "migrations", "Directory containing *.up.sql and *.down.sql files")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Invalid direction %q, expected up or down\n", *direction)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("census-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()
	ctx := context.Background()

	files, err := filepath.Glob(filepath.Join(*dir, "*."+*direction+".sql"))
	if err != nil || len(files) == 0 {
		logger.Fatal(ctx, "[MIGRATE] No migrations found", logging.Fields{
			"direction": *direction,
			"dir":       *dir,
		}, err)
	}
	sort.Strings(files)
	if *direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}

	db, err := database.NewPostgresDB(&cfg.Database, logger, metrics.NewCollector("census_migrate"))
	if err != nil {
		logger.Fatal(ctx, "[MIGRATE] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Fatal(ctx, "[MIGRATE] Failed to read migration file", logging.Fields{"file": file}, err)
		}

		logger.Info(ctx, "[MIGRATE] Running migration", logging.Fields{"file": file})
		if _, err := db.ExecContext(ctx, "migration", string(content)); err != nil {
			logger.Fatal(ctx, "[MIGRATE] Migration failed", logging.Fields{"file": file}, err)
		}
	}

	logger.Info(ctx, "[MIGRATE] Migration completed", logging.Fields{
		"direction": *direction,
		"files":     len(files),
	})
}
