// Package geojoin reconciles several per-year census datasets on their
// geographic code and a selected characteristic, producing one row per
// surviving geographic unit.
package geojoin

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"census-atlas/internal/crossyear"
	"census-atlas/internal/models"
	"census-atlas/internal/taxonomy"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

// Options tunes the per-geography row construction
type Options struct {
	Workers       int
	ProgressEvery int
}

// Metric is the cross-year reducer applied when more than one year is joined
type Metric struct {
	Name   string
	Reduce crossyear.Reducer
}

// Aggregator joins year datasets against a geography reference
type Aggregator struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	opts    Options
}

// NewAggregator creates an aggregator. Workers defaults to GOMAXPROCS.
func NewAggregator(logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts Options) *Aggregator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Aggregator{
		logger:  logger,
		metrics: metricsCollector,
		opts:    opts,
	}
}

// yearRows indexes one year's label-matching rows by geographic code
type yearRows map[string][]models.DatasetRow

// Join intersects the reference universe with every selection and builds
// one value per year for each surviving geographic unit. Selection order is
// the vector order handed to the metric, which is required when more than
// one year is selected and ignored otherwise.
func (a *Aggregator) Join(ctx context.Context, ref *models.Reference, selections []models.Selection, metric *Metric) (*Table, error) {
	if err := validate(ref, selections, metric); err != nil {
		return nil, err
	}
	timer := a.metrics.NewTimer(a.metrics.JoinDuration)

	a.logger.Info(ctx, "[JOIN_START] Joining year datasets", logging.Fields{
		"granularity":     string(ref.Granularity),
		"reference_units": len(ref.Units),
		"years":           yearColumns(selections),
	})

	perYear, working := reduce(ref, selections)

	units := make([]models.GeographicUnit, 0, len(working))
	for _, unit := range ref.Units {
		if _, ok := working[unit.Code]; ok {
			units = append(units, unit)
			// a code listed twice in the reference still yields one row
			delete(working, unit.Code)
		}
	}

	table := newTable(ref.Granularity, units)
	values := make([][]float64, len(selections))
	for i := range values {
		values[i] = make([]float64, len(units))
	}
	var metricValues []float64
	multiYear := len(selections) > 1
	if multiYear {
		metricValues = make([]float64, len(units))
	}

	var done int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)

	for idx := range units {
		idx := idx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			code := units[idx].Code
			vector := make([]float64, len(selections))
			for i := range selections {
				vector[i] = cellValue(perYear[i][code])
				values[i][idx] = vector[i]
			}
			if multiYear {
				metricValues[idx] = metric.Reduce(vector)
			}

			if n := atomic.AddInt64(&done, 1); a.opts.ProgressEvery > 0 && n%int64(a.opts.ProgressEvery) == 0 {
				a.logger.Debug(ctx, "[JOIN_PROGRESS] Geographic units processed", logging.Fields{
					"processed": n,
					"total":     len(units),
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("join cancelled after %d of %d units: %w", atomic.LoadInt64(&done), len(units), err)
	}

	for i, sel := range selections {
		column := sel.Dataset.Vintage.Column()
		if err := table.SetColumn(column, values[i]); err != nil {
			return nil, err
		}
		table.YearColumns = append(table.YearColumns, column)
		table.Labels = append(table.Labels, taxonomy.NormalizeLabel(sel.Label))
	}
	if multiYear {
		if err := table.SetColumn(metric.Name, metricValues); err != nil {
			return nil, err
		}
		table.MetricColumn = metric.Name
	}

	a.record(ctx, table)
	duration := timer.ObserveDuration()

	a.logger.Info(ctx, "[JOIN_COMPLETE] Join finished", logging.Fields{
		"granularity":  string(ref.Granularity),
		"joined_units": table.Len(),
		"columns":      table.ColumnNames(),
		"duration_ms":  duration.Milliseconds(),
	})

	return table, nil
}

func validate(ref *models.Reference, selections []models.Selection, metric *Metric) error {
	if ref == nil {
		return &models.ConfigError{Field: "reference", Message: "geography reference is required"}
	}
	if !ref.Granularity.Valid() {
		return &models.ConfigError{
			Field:   "granularity",
			Value:   string(ref.Granularity),
			Message: fmt.Sprintf("unrecognized geography granularity %q", ref.Granularity),
		}
	}
	if len(selections) == 0 {
		return &models.ValidationError{Field: "selections", Message: "at least one year must be selected"}
	}

	seen := make(map[int]bool, len(selections))
	for i, sel := range selections {
		if sel.Dataset == nil {
			return &models.ValidationError{
				Field:   "selections",
				Value:   strconv.Itoa(i),
				Message: "selection has no dataset",
			}
		}
		year := sel.Dataset.Vintage.Year
		if seen[year] {
			return &models.ValidationError{
				Field:   "selections",
				Value:   strconv.Itoa(year),
				Message: fmt.Sprintf("year %d selected more than once", year),
			}
		}
		seen[year] = true
	}

	if len(selections) > 1 && (metric == nil || metric.Reduce == nil || metric.Name == "") {
		return &models.ConfigError{
			Field:   "metric",
			Message: "a processing method is required when more than one year is selected",
		}
	}
	return nil
}

// reduce narrows the first year's label-matching rows to the reference
// universe and to the codes present in every later year, then filters each
// later year by its own label against that working set.
func reduce(ref *models.Reference, selections []models.Selection) ([]yearRows, map[string]struct{}) {
	universe := ref.Codes()
	first := selections[0]
	firstLabel := taxonomy.NormalizeLabel(first.Label)

	perYear := make([]yearRows, len(selections))
	perYear[0] = make(yearRows)
	working := make(map[string]struct{})
	for _, row := range first.Dataset.Filter(func(row models.DatasetRow) bool {
		_, known := universe[row.GeoCode]
		return known && taxonomy.NormalizeLabel(row.Characteristic) == firstLabel
	}) {
		perYear[0][row.GeoCode] = append(perYear[0][row.GeoCode], row)
		working[row.GeoCode] = struct{}{}
	}

	for i := 1; i < len(selections); i++ {
		present := selections[i].Dataset.GeoCodes()
		for code := range working {
			if _, ok := present[code]; !ok {
				delete(working, code)
			}
		}

		label := taxonomy.NormalizeLabel(selections[i].Label)
		perYear[i] = make(yearRows)
		for _, row := range selections[i].Dataset.Filter(func(row models.DatasetRow) bool {
			_, ok := working[row.GeoCode]
			return ok && taxonomy.NormalizeLabel(row.Characteristic) == label
		}) {
			perYear[i][row.GeoCode] = append(perYear[i][row.GeoCode], row)
		}
	}

	return perYear, working
}

// cellValue parses the total of the single row matching a geographic code.
// No row, several rows or an unparseable or non-finite total all yield NaN.
func cellValue(rows []models.DatasetRow) float64 {
	if len(rows) != 1 {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rows[0].Total), 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func (a *Aggregator) record(ctx context.Context, table *Table) {
	a.metrics.JoinedUnitsTotal.Add(float64(table.Len()))

	for _, column := range table.YearColumns {
		missing := table.MissingCount(column)
		a.metrics.MissingCellsTotal.WithLabelValues(column).Add(float64(missing))
		if missing > 0 {
			a.logger.Warn(ctx, "[JOIN_MISSING] Year column has missing values", logging.Fields{
				"year":    column,
				"missing": missing,
				"units":   table.Len(),
			})
		}
	}
	if table.MetricColumn != "" {
		a.metrics.MetricMissingTotal.Add(float64(table.MissingCount(table.MetricColumn)))
	}
}

func yearColumns(selections []models.Selection) []string {
	out := make([]string, 0, len(selections))
	for _, sel := range selections {
		if sel.Dataset != nil {
			out = append(out, sel.Dataset.Vintage.Column())
		}
	}
	return out
}
