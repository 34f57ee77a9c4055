package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"census-atlas/internal/models"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

// CensusSource reads both datasets and references, typically from files
type CensusSource interface {
	DatasetSource
	ReferenceSource
}

// IngestionService copies census datasets and reference tables into storage
type IngestionService struct {
	source  CensusSource
	store   CensusStore
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	Vintages      int
	Rows          int
	RowsPerYear   map[int]int
	References    int
	Units         int
	Duration      time.Duration
	Errors        []string
	FailedSources int
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(source CensusSource, store CensusStore, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		source:  source,
		store:   store,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Ingest loads every vintage and reference. A failing source is recorded
// and skipped; an error is returned only when nothing could be ingested.
func (s *IngestionService) Ingest(ctx context.Context, vintages []models.Vintage, granularities []models.Granularity) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting census ingestion", logging.Fields{
		"vintages":      len(vintages),
		"granularities": len(granularities),
		"stage":         "INITIALIZATION",
	})

	result := &IngestionResult{
		RowsPerYear: make(map[int]int),
		Errors:      make([]string, 0),
	}

	for _, vintage := range vintages {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rows, err := s.ingestVintage(ctx, vintage)
		if err != nil {
			s.fail(ctx, result, fmt.Sprintf("vintage %d", vintage.Year), err)
			continue
		}
		result.Vintages++
		result.Rows += rows
		result.RowsPerYear[vintage.Year] = rows
	}

	for _, granularity := range granularities {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		units, err := s.ingestReference(ctx, granularity)
		if err != nil {
			s.fail(ctx, result, fmt.Sprintf("%s reference", granularity), err)
			continue
		}
		result.References++
		result.Units += units
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Census ingestion completed", logging.Fields{
		"vintages":         result.Vintages,
		"rows":             result.Rows,
		"references":       result.References,
		"units":            result.Units,
		"failed_sources":   result.FailedSources,
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})

	if result.Vintages == 0 && result.References == 0 && result.FailedSources > 0 {
		return result, fmt.Errorf("no source could be ingested: %s", result.Errors[0])
	}
	return result, nil
}

func (s *IngestionService) ingestVintage(ctx context.Context, vintage models.Vintage) (int, error) {
	log := s.logger.WithFields(logging.Fields{
		"year": vintage.Year,
		"file": vintage.File,
	})
	log.Debug(ctx, "[INGEST_VINTAGE_START] Reading vintage", logging.Fields{
		"encoding":   vintage.Encoding,
		"skip_lines": vintage.SkipLines,
	})

	dataset, err := s.source.LoadDataset(ctx, vintage)
	if err != nil {
		return 0, err
	}

	rows, err := s.store.ReplaceDataset(ctx, dataset)
	if err != nil {
		return 0, err
	}
	s.metrics.IngestionRowsTotal.WithLabelValues(vintage.Column()).Add(float64(rows))

	log.Info(ctx, "[INGEST_VINTAGE_SUCCESS] Vintage ingested", logging.Fields{
		"rows":  rows,
		"stage": "VINTAGE_COMPLETE",
	})
	return rows, nil
}

func (s *IngestionService) ingestReference(ctx context.Context, granularity models.Granularity) (int, error) {
	ref, err := s.source.LoadReference(ctx, granularity)
	if err != nil {
		return 0, err
	}

	units, err := s.store.ReplaceReference(ctx, ref)
	if err != nil {
		return 0, err
	}

	s.logger.Info(ctx, "[INGEST_REFERENCE_SUCCESS] Reference ingested", logging.Fields{
		"granularity": string(granularity),
		"units":       units,
		"stage":       "REFERENCE_COMPLETE",
	})
	return units, nil
}

func (s *IngestionService) fail(ctx context.Context, result *IngestionResult, what string, err error) {
	result.FailedSources++
	result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", what, err))

	s.logger.Error(ctx, "[INGEST_SOURCE_ERROR] Source ingestion failed", logging.Fields{
		"source": what,
		"stage":  "SOURCE_PROCESSING",
	}, err)
	s.metrics.RecordIngestionError(errorType(err))
}

// errorType labels an error for metrics
func errorType(err error) string {
	var (
		validation *models.ValidationError
		config     *models.ConfigError
		notFound   *models.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return "validation_error"
	case errors.As(err, &config):
		return "config_error"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal_error"
	}
}
