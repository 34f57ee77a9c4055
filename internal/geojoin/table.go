package geojoin

import (
	"fmt"
	"math"

	"census-atlas/internal/models"
	"census-atlas/internal/outlier"
)

// ClippedSuffix is appended to a column name to name its clipped shadow
const ClippedSuffix = " clipped"

// ClippedName returns the name of the clipped shadow of column
func ClippedName(column string) string {
	return column + ClippedSuffix
}

// Table is the columnar result of a join. Units are in reference order and
// every column has one value per unit; missing values are NaN.
type Table struct {
	Granularity  models.Granularity
	Units        []models.GeographicUnit
	YearColumns  []string
	Labels       []string
	MetricColumn string

	columns map[string][]float64
	order   []string
}

func newTable(granularity models.Granularity, units []models.GeographicUnit) *Table {
	return &Table{
		Granularity: granularity,
		Units:       units,
		columns:     make(map[string][]float64),
	}
}

// Len returns the number of joined geographic units
func (t *Table) Len() int {
	return len(t.Units)
}

// Column returns the values of a named column
func (t *Table) Column(name string) ([]float64, bool) {
	values, ok := t.columns[name]
	return values, ok
}

// ColumnNames returns the column names in the order they were added
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// SetColumn adds or replaces a column. values must have one entry per unit.
func (t *Table) SetColumn(name string, values []float64) error {
	if len(values) != len(t.Units) {
		return fmt.Errorf("column %q has %d values for %d units", name, len(values), len(t.Units))
	}
	if _, exists := t.columns[name]; !exists {
		t.order = append(t.order, name)
	}
	t.columns[name] = values
	return nil
}

// AddClipped adds the far-outlier clipped shadow of column and returns its
// name. The source column is left as is.
func (t *Table) AddClipped(column string) (string, error) {
	values, ok := t.columns[column]
	if !ok {
		return "", fmt.Errorf("cannot clip unknown column %q", column)
	}
	name := ClippedName(column)
	if err := t.SetColumn(name, outlier.Clip(values)); err != nil {
		return "", err
	}
	return name, nil
}

// JoinedRow is one geographic unit of the table
type JoinedRow struct {
	Unit   models.GeographicUnit
	Values map[string]float64
}

// Rows returns a row view of the table in reference order
func (t *Table) Rows() []JoinedRow {
	rows := make([]JoinedRow, len(t.Units))
	for i, unit := range t.Units {
		values := make(map[string]float64, len(t.order))
		for _, name := range t.order {
			values[name] = t.columns[name][i]
		}
		rows[i] = JoinedRow{Unit: unit, Values: values}
	}
	return rows
}

// MissingCount returns how many values of column are missing
func (t *Table) MissingCount(column string) int {
	missing := 0
	for _, v := range t.columns[column] {
		if math.IsNaN(v) {
			missing++
		}
	}
	return missing
}
