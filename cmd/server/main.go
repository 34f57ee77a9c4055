package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"census-atlas/internal/cache"
	"census-atlas/internal/config"
	"census-atlas/internal/geojoin"
	"census-atlas/internal/handlers"
	"census-atlas/internal/repository"
	"census-atlas/internal/services"
	"census-atlas/pkg/database"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("census-api", version, logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting census atlas API server", logging.Fields{
		"version":     version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_host":     cfg.Database.Host,
		"db_name":     cfg.Database.Database,
		"vintages":    len(cfg.Vintages),
	})

	metricsCollector := metrics.NewCollector("census_atlas")

	db, err := database.NewPostgresDB(&cfg.Database, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	censusRepo := repository.NewCensusRepository(db, logger, metricsCollector)

	sizes, err := censusRepo.DatasetSizes(ctx)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to inspect stored vintages", logging.Fields{}, err)
	}
	for _, v := range cfg.Vintages {
		if sizes[v.Year] == 0 {
			logger.Fatal(ctx, "[STARTUP_ERROR] Configured vintage has not been ingested", logging.Fields{
				"year":   v.Year,
				"stored": sizes,
			}, fmt.Errorf("vintage %d: run the ingester first", v.Year))
		}
	}

	// Every vintage is loaded and its taxonomy built once, before serving
	taxonomyService := services.NewTaxonomyService(censusRepo, cfg.Taxonomy.ListingGeoName, logger, metricsCollector)
	reg, err := taxonomyService.BuildRegistry(ctx, cfg.Vintages)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to load census vintages", logging.Fields{}, err)
	}

	redisClient, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Warn(ctx, "[STARTUP_WARNING] Redis unavailable, analysis cache disabled", logging.Fields{
			"error": err.Error(),
		})
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	analysisCache := cache.NewAnalysisCache(redisClient, cfg.Redis.TTL, cfg.Redis.KeyPrefix, logger)

	catalog := services.NewCatalogService(reg)
	aggregator := geojoin.NewAggregator(logger, metricsCollector, geojoin.Options{
		Workers:       cfg.Analysis.Workers,
		ProgressEvery: cfg.Analysis.ProgressEvery,
	})
	analysisService := services.NewAnalysisService(
		catalog,
		censusRepo,
		aggregator,
		analysisCache,
		cfg.Analysis.Timeout,
		logger,
		metricsCollector,
	)

	censusHandler := handlers.NewCensusHandler(catalog, analysisService, censusRepo, logger, metricsCollector)

	router := mux.NewRouter()
	router.Use(handlers.RequestLogging(logger))
	censusHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
			"years":   reg.Years(),
			"cache":   analysisCache != nil,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
