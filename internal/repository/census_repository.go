package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"census-atlas/internal/models"
	"census-atlas/pkg/database"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

// CensusRepository provides data access for census datasets and geography
// reference tables
type CensusRepository interface {
	// Dataset operations
	ReplaceDataset(ctx context.Context, dataset *models.YearDataset) (int, error)
	LoadDataset(ctx context.Context, vintage models.Vintage) (*models.YearDataset, error)
	DatasetSizes(ctx context.Context) (map[int]int, error)

	// Reference operations
	ReplaceReference(ctx context.Context, ref *models.Reference) (int, error)
	LoadReference(ctx context.Context, granularity models.Granularity) (*models.Reference, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// censusRepository implements CensusRepository
type censusRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewCensusRepository creates a new census repository
func NewCensusRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) CensusRepository {
	return &censusRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ReplaceDataset swaps every stored row of the dataset's year for the given
// rows in one transaction. Row order is kept through the ordinal column.
func (r *censusRepository) ReplaceDataset(ctx context.Context, dataset *models.YearDataset) (int, error) {
	year := dataset.Vintage.Year
	timer := time.Now()

	err := r.db.WithTx(ctx, "replace_dataset", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM census_rows WHERE year = $1`, year); err != nil {
			return fmt.Errorf("failed to clear dataset %d: %w", year, err)
		}

		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("census_rows",
			"year", "ordinal", "geo_code", "geo_name", "characteristic", "total"))
		if err != nil {
			return fmt.Errorf("failed to prepare copy: %w", err)
		}
		defer stmt.Close()

		for i, row := range dataset.Rows {
			if _, err := stmt.ExecContext(ctx, year, i, row.GeoCode, row.GeoName, row.Characteristic, row.Total); err != nil {
				return fmt.Errorf("failed to copy row %d: %w", i, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to flush copy: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info(ctx, "[REPO_REPLACE_DATASET] Dataset stored", logging.Fields{
		"year":        year,
		"rows":        len(dataset.Rows),
		"duration_ms": time.Since(timer).Milliseconds(),
	})

	return len(dataset.Rows), nil
}

// LoadDataset reads a year's rows in their original order
func (r *censusRepository) LoadDataset(ctx context.Context, vintage models.Vintage) (*models.YearDataset, error) {
	query := `
		SELECT geo_code, geo_name, characteristic, total
		FROM census_rows
		WHERE year = $1
		ORDER BY ordinal
	`

	var rows []models.DatasetRow
	if err := r.db.SelectContext(ctx, "load_dataset", &rows, query, vintage.Year); err != nil {
		return nil, fmt.Errorf("failed to load dataset %d: %w", vintage.Year, err)
	}
	if len(rows) == 0 {
		return nil, &models.NotFoundError{Resource: "dataset", ID: strconv.Itoa(vintage.Year)}
	}

	return &models.YearDataset{Vintage: vintage, Rows: rows}, nil
}

// DatasetSizes returns the stored row count of every year
func (r *censusRepository) DatasetSizes(ctx context.Context) (map[int]int, error) {
	query := `
		SELECT year, COUNT(*) AS row_count
		FROM census_rows
		GROUP BY year
		ORDER BY year
	`

	var counts []struct {
		Year     int `db:"year"`
		RowCount int `db:"row_count"`
	}
	if err := r.db.SelectContext(ctx, "dataset_sizes", &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count dataset rows: %w", err)
	}

	sizes := make(map[int]int, len(counts))
	for _, c := range counts {
		sizes[c.Year] = c.RowCount
	}
	return sizes, nil
}

// ReplaceReference swaps the stored units of the reference's granularity
func (r *censusRepository) ReplaceReference(ctx context.Context, ref *models.Reference) (int, error) {
	err := r.db.WithTx(ctx, "replace_reference", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM geographic_units WHERE granularity = $1`, string(ref.Granularity)); err != nil {
			return fmt.Errorf("failed to clear %s reference: %w", ref.Granularity, err)
		}

		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("geographic_units", "granularity", "ordinal", "code", "name"))
		if err != nil {
			return fmt.Errorf("failed to prepare copy: %w", err)
		}
		defer stmt.Close()

		for i, unit := range ref.Units {
			if _, err := stmt.ExecContext(ctx, string(ref.Granularity), i, unit.Code, unit.Name); err != nil {
				return fmt.Errorf("failed to copy unit %s: %w", unit.Code, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to flush copy: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info(ctx, "[REPO_REPLACE_REFERENCE] Reference stored", logging.Fields{
		"granularity": string(ref.Granularity),
		"units":       len(ref.Units),
	})

	return len(ref.Units), nil
}

// LoadReference reads the units of a granularity in their original order
func (r *censusRepository) LoadReference(ctx context.Context, granularity models.Granularity) (*models.Reference, error) {
	query := `
		SELECT code, name, granularity
		FROM geographic_units
		WHERE granularity = $1
		ORDER BY ordinal
	`

	var units []models.GeographicUnit
	if err := r.db.SelectContext(ctx, "load_reference", &units, query, string(granularity)); err != nil {
		return nil, fmt.Errorf("failed to load %s reference: %w", granularity, err)
	}
	if len(units) == 0 {
		return nil, &models.NotFoundError{Resource: "reference", ID: string(granularity)}
	}

	return &models.Reference{Granularity: granularity, Units: units}, nil
}

// HealthCheck verifies database connectivity
func (r *censusRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
