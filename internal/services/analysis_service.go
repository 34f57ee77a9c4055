package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"census-atlas/internal/cache"
	"census-atlas/internal/crossyear"
	"census-atlas/internal/geojoin"
	"census-atlas/internal/models"
	"census-atlas/internal/threshold"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

// AnalysisService resolves selections, joins them against a geography and
// prepares display columns and the shared legend scale
type AnalysisService struct {
	catalog    *CatalogService
	references ReferenceSource
	aggregator *geojoin.Aggregator
	cache      *cache.AnalysisCache
	timeout    time.Duration
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewAnalysisService creates an analysis service. cache may be nil.
func NewAnalysisService(
	catalog *CatalogService,
	references ReferenceSource,
	aggregator *geojoin.Aggregator,
	analysisCache *cache.AnalysisCache,
	timeout time.Duration,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *AnalysisService {
	return &AnalysisService{
		catalog:    catalog,
		references: newReferenceMemo(references),
		aggregator: aggregator,
		cache:      analysisCache,
		timeout:    timeout,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// Analyze runs one analysis. With one year the output is the raw year
// column; with several it is the year columns plus the metric column and a
// threshold scale shared by the displayed year columns.
func (s *AnalysisService) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	timer := s.metrics.NewTimer(s.metrics.AnalysisDuration)

	granularity, metric, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	if cached, err := s.cache.Get(ctx, req); err == nil {
		s.metrics.RecordCacheLookup(true)
		duration := timer.ObserveDuration()
		s.logger.Debug(ctx, "[ANALYSIS_CACHE_HIT] Serving cached analysis", logging.Fields{
			"granularity": string(granularity),
			"duration_ms": duration.Milliseconds(),
		})
		return cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn(ctx, "[ANALYSIS_CACHE_ERROR] Cache lookup failed", logging.Fields{
			"error": err.Error(),
		})
	}
	if s.cache != nil {
		s.metrics.RecordCacheLookup(false)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	selections := make([]models.Selection, len(req.Selections))
	for i, sr := range req.Selections {
		sel, err := s.catalog.Select(sr.Year, sr.Path)
		if err != nil {
			return nil, fmt.Errorf("selection %d: %w", i, err)
		}
		selections[i] = sel
	}

	ref, err := s.references.LoadReference(ctx, granularity)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}

	table, err := s.aggregator.Join(ctx, ref, selections, metric)
	if err != nil {
		return nil, err
	}

	result, err := s.present(ctx, table, req.Clipped)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, req, result); err != nil {
		s.logger.Warn(ctx, "[ANALYSIS_CACHE_ERROR] Cache store failed", logging.Fields{
			"error": err.Error(),
		})
	}

	duration := timer.ObserveDuration()
	s.logger.Info(ctx, "[ANALYSIS_COMPLETE] Analysis finished", logging.Fields{
		"granularity":     string(granularity),
		"years":           table.YearColumns,
		"metric":          table.MetricColumn,
		"clipped":         req.Clipped,
		"units":           table.Len(),
		"display_columns": result.DisplayColumns,
		"duration_ms":     duration.Milliseconds(),
	})
	return result, nil
}

// validate rejects bad requests before any join work starts
func (s *AnalysisService) validate(req models.AnalysisRequest) (models.Granularity, *geojoin.Metric, error) {
	granularity, err := models.ParseGranularity(req.Granularity)
	if err != nil {
		return "", nil, err
	}
	if len(req.Selections) == 0 {
		return "", nil, &models.ValidationError{Field: "selections", Message: "at least one year must be selected"}
	}
	if len(req.Selections) == 1 {
		return granularity, nil, nil
	}

	reduce, err := crossyear.Lookup(req.Metric)
	if err != nil {
		return "", nil, err
	}
	return granularity, &geojoin.Metric{Name: req.Metric, Reduce: reduce}, nil
}

// present adds clipped shadows, computes the legend scale and converts the
// table to its wire form
func (s *AnalysisService) present(ctx context.Context, table *geojoin.Table, clipped bool) (*models.AnalysisResult, error) {
	display := func(column string) (string, error) {
		if !clipped {
			return column, nil
		}
		return table.AddClipped(column)
	}

	result := &models.AnalysisResult{
		Granularity:     table.Granularity,
		KeyColumn:       table.Granularity.KeyColumn(),
		NameColumn:      table.Granularity.NameColumn(),
		FeatureProperty: table.Granularity.FeatureProperty(),
		YearColumns:     table.YearColumns,
		MetricColumn:    table.MetricColumn,
	}

	if table.MetricColumn == "" {
		column, err := display(table.YearColumns[0])
		if err != nil {
			return nil, err
		}
		result.DisplayColumns = []string{column}
		result.Legends = []string{table.Labels[0]}
	} else {
		column, err := display(table.MetricColumn)
		if err != nil {
			return nil, err
		}
		result.DisplayColumns = []string{column}
		result.Legends = []string{table.MetricColumn}

		yearDisplays := make([]string, len(table.YearColumns))
		for i, year := range table.YearColumns {
			if yearDisplays[i], err = display(year); err != nil {
				return nil, err
			}
		}
		result.DisplayColumns = append(result.DisplayColumns, yearDisplays...)
		result.Legends = append(result.Legends, table.Labels...)

		bounds, err := threshold.Thresholds(table, yearDisplays)
		switch {
		case errors.Is(err, threshold.ErrNoData):
			s.logger.Warn(ctx, "[ANALYSIS_NO_DATA] No year values to build a legend from", logging.Fields{
				"columns": yearDisplays,
			})
		case err != nil:
			return nil, err
		default:
			result.Thresholds = bounds
		}
	}

	result.Columns = table.ColumnNames()
	result.Rows = make([]models.AnalysisRow, 0, table.Len())
	for _, row := range table.Rows() {
		values := make(map[string]*float64, len(row.Values))
		for name, v := range row.Values {
			values[name] = wireValue(v)
		}
		result.Rows = append(result.Rows, models.AnalysisRow{
			GeoCode: row.Unit.Code,
			Name:    row.Unit.Name,
			Values:  values,
		})
	}
	return result, nil
}

// wireValue maps a missing or non-finite value to nil
func wireValue(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// referenceMemo keeps loaded references for the life of the process
type referenceMemo struct {
	source ReferenceSource
	mu     sync.Mutex
	refs   map[models.Granularity]*models.Reference
}

func newReferenceMemo(source ReferenceSource) *referenceMemo {
	return &referenceMemo{source: source, refs: make(map[models.Granularity]*models.Reference)}
}

func (m *referenceMemo) LoadReference(ctx context.Context, granularity models.Granularity) (*models.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref, ok := m.refs[granularity]; ok {
		return ref, nil
	}
	ref, err := m.source.LoadReference(ctx, granularity)
	if err != nil {
		return nil, err
	}
	m.refs[granularity] = ref
	return ref, nil
}
