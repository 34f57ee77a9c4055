package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"census-atlas/internal/config"
	"census-atlas/internal/ingest"
	"census-atlas/internal/models"
	"census-atlas/internal/repository"
	"census-atlas/internal/services"
	"census-atlas/pkg/database"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

const version = "1.0.0"

func main() {
	dataDir := flag.String("data-dir", "", "Directory containing census CSV files (overrides configuration)")
	yearsFlag := flag.String("years", "", "Comma-separated vintages to ingest (default: all configured)")
	referencesFlag := flag.Bool("references", true, "Also ingest the configured geography reference tables")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	vintages, err := selectVintages(cfg, *yearsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -years: %v\n", err)
		os.Exit(1)
	}

	referenceFiles := cfg.ReferenceFiles()
	var granularities []models.Granularity
	if *referencesFlag {
		for _, g := range models.Granularities {
			if _, ok := referenceFiles[g]; ok {
				granularities = append(granularities, g)
			}
		}
	}

	logger := logging.NewStructuredLogger("census-ingester", version, logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[INGESTER_START] Starting census data ingestion", logging.Fields{
		"version":       version,
		"data_dir":      cfg.DataDir,
		"vintages":      len(vintages),
		"granularities": len(granularities),
	})

	metricsCollector := metrics.NewCollector("census_ingester")

	db, err := database.NewPostgresDB(&cfg.Database, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	censusRepo := repository.NewCensusRepository(db, logger, metricsCollector)
	source := ingest.NewFileSource(cfg.DataDir, referenceFiles, cfg.ReferenceEncoding)
	ingestionService := services.NewIngestionService(source, censusRepo, logger, metricsCollector)

	result, err := ingestionService.Ingest(ctx, vintages, granularities)
	if result != nil {
		printSummary(result)
	}
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{}, err)
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed", logging.Fields{
		"vintages":         result.Vintages,
		"rows":             result.Rows,
		"references":       result.References,
		"failed_sources":   result.FailedSources,
		"duration_seconds": result.Duration.Seconds(),
	})
}

// selectVintages picks the configured vintages named in a comma-separated list
func selectVintages(cfg *config.Config, list string) ([]models.Vintage, error) {
	if strings.TrimSpace(list) == "" {
		return cfg.Vintages, nil
	}

	var out []models.Vintage
	for _, field := range strings.Split(list, ",") {
		year, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("%q is not a year", field)
		}
		v, ok := cfg.Vintage(year)
		if !ok {
			return nil, fmt.Errorf("vintage %d is not configured", year)
		}
		out = append(out, v)
	}
	return out, nil
}

func printSummary(result *services.IngestionResult) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Vintages:        %d\n", result.Vintages)

	years := make([]int, 0, len(result.RowsPerYear))
	for year := range result.RowsPerYear {
		years = append(years, year)
	}
	sort.Ints(years)
	for _, year := range years {
		fmt.Printf("  %d:          %d rows\n", year, result.RowsPerYear[year])
	}

	fmt.Printf("Total Rows:      %d\n", result.Rows)
	fmt.Printf("References:      %d (%d units)\n", result.References, result.Units)
	fmt.Printf("Failed Sources:  %d\n", result.FailedSources)
	fmt.Printf("Duration:        %v\n", result.Duration)
	if secs := result.Duration.Seconds(); secs > 0 {
		fmt.Printf("Rows/Second:     %.2f\n", float64(result.Rows)/secs)
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}
}
