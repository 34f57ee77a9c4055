package geojoin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"census-atlas/internal/crossyear"
	"census-atlas/internal/models"
	"census-atlas/internal/threshold"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

func newTestAggregator(workers int) (*Aggregator, *metrics.Collector) {
	collector := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
	return NewAggregator(logging.NewNopLogger(), collector, Options{Workers: workers, ProgressEvery: 2}), collector
}

func reference() *models.Reference {
	return &models.Reference{
		Granularity: models.GranularityDivision,
		Units: []models.GeographicUnit{
			{Code: "4801", Name: "Division No. 1"},
			{Code: "4802", Name: "Division No. 2"},
			{Code: "4803", Name: "Division No. 3"},
			{Code: "4804", Name: "Division No. 4"},
		},
	}
}

func dataset(year int, rows ...models.DatasetRow) *models.YearDataset {
	return &models.YearDataset{
		Vintage: models.Vintage{Year: year},
		Rows:    rows,
	}
}

func row(code, characteristic, total string) models.DatasetRow {
	return models.DatasetRow{GeoCode: code, GeoName: "Division", Characteristic: characteristic, Total: total}
}

func TestJoin_SingleYear(t *testing.T) {
	agg, _ := newTestAggregator(2)

	d2016 := dataset(2016,
		row("4801", "Population, 2016", "100"),
		row("4802", "Population, 2016", "x"),
		row("4803", "  Population, 2016", "300"),
		row("4801", "Dwellings", "40"),
		row("9999", "Population, 2016", "1"),
	)

	table, err := agg.Join(context.Background(), reference(), []models.Selection{
		{Dataset: d2016, Label: "Population, 2016"},
	}, nil)
	require.NoError(t, err)

	require.Equal(t, 3, table.Len())
	assert.Equal(t, []string{"4801", "4802", "4803"}, codes(table))
	assert.Equal(t, []string{"2016"}, table.YearColumns)
	assert.Empty(t, table.MetricColumn)
	assert.Equal(t, []string{"2016"}, table.ColumnNames())

	values, ok := table.Column("2016")
	require.True(t, ok)
	assert.Equal(t, 100.0, values[0])
	assert.True(t, math.IsNaN(values[1]))
	assert.Equal(t, 300.0, values[2])
}

func TestJoin_NonFiniteTotalIsMissing(t *testing.T) {
	agg, _ := newTestAggregator(2)

	for _, total := range []string{"Infinity", "+Inf", "-infinity", "inf"} {
		t.Run(total, func(t *testing.T) {
			d2016 := dataset(2016,
				row("4801", "Total", total),
				row("4802", "Total", "200"),
			)
			d2021 := dataset(2021,
				row("4801", "Total", "110"),
				row("4802", "Total", "180"),
			)

			table, err := agg.Join(context.Background(), reference(), []models.Selection{
				{Dataset: d2016, Label: "Total"},
				{Dataset: d2021, Label: "Total"},
			}, &Metric{Name: crossyear.MeanDifferenceName, Reduce: crossyear.MeanDifference})
			require.NoError(t, err)

			values, _ := table.Column("2016")
			assert.True(t, math.IsNaN(values[0]))
			metric, _ := table.Column(crossyear.MeanDifferenceName)
			assert.True(t, math.IsNaN(metric[0]))
			assert.Equal(t, -20.0, metric[1])

			bounds, err := threshold.Thresholds(table, table.YearColumns)
			require.NoError(t, err)
			assert.Equal(t, 110.0, bounds[0])
			assert.InDelta(t, 200.0, bounds[threshold.Levels], 1e-9)
			for _, b := range bounds {
				assert.False(t, math.IsInf(b, 0) || math.IsNaN(b))
			}
		})
	}
}

func TestJoin_MultiYearWithMetric(t *testing.T) {
	agg, collector := newTestAggregator(3)

	d2011 := dataset(2011,
		row("4801", "Population", "10"),
		row("4802", "Population", "20"),
		row("4803", "Population", "30"),
		row("4804", "Population", "40"),
	)
	d2016 := dataset(2016,
		row("4801", "Total population", "15"),
		row("4802", "Total population", ""),
		row("4803", "Total population", "33"),
		row("4804", "Other", "0"),
	)
	d2021 := dataset(2021,
		row("4801", "Population total", "12"),
		row("4802", "Population total", "25"),
		row("4803", "Population total", "36"),
		row("4803", "Population total", "37"),
		row("4804", "Population total", "41"),
	)

	table, err := agg.Join(context.Background(), reference(), []models.Selection{
		{Dataset: d2011, Label: "Population"},
		{Dataset: d2016, Label: "Total population"},
		{Dataset: d2021, Label: "Population total"},
	}, &Metric{Name: crossyear.MeanDifferenceName, Reduce: crossyear.MeanDifference})
	require.NoError(t, err)

	assert.Equal(t, []string{"4801", "4802", "4803", "4804"}, codes(table))
	assert.Equal(t, []string{"2011", "2016", "2021"}, table.YearColumns)
	assert.Equal(t, []string{"Population", "Total population", "Population total"}, table.Labels)
	assert.Equal(t, crossyear.MeanDifferenceName, table.MetricColumn)

	rows := table.Rows()
	assert.Equal(t, 1.0, rows[0].Values[crossyear.MeanDifferenceName])

	// empty total
	assert.True(t, math.IsNaN(rows[1].Values["2016"]))
	assert.True(t, math.IsNaN(rows[1].Values[crossyear.MeanDifferenceName]))

	// duplicated row in 2021
	assert.True(t, math.IsNaN(rows[2].Values["2021"]))
	assert.Equal(t, 33.0, rows[2].Values["2016"])

	// label not present in 2016
	assert.True(t, math.IsNaN(rows[3].Values["2016"]))
	assert.Equal(t, 41.0, rows[3].Values["2021"])

	assert.Equal(t, 4.0, testutil.ToFloat64(collector.JoinedUnitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.MissingCellsTotal.WithLabelValues("2016")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.MetricMissingTotal))
}

func TestJoin_IntersectsLaterYears(t *testing.T) {
	agg, _ := newTestAggregator(1)

	d2016 := dataset(2016,
		row("4801", "Population", "1"),
		row("4802", "Population", "2"),
		row("4803", "Population", "3"),
	)
	d2021 := dataset(2021,
		row("4801", "Other", "9"),
		row("4803", "Population", "4"),
	)

	table, err := agg.Join(context.Background(), reference(), []models.Selection{
		{Dataset: d2016, Label: "Population"},
		{Dataset: d2021, Label: "Population"},
	}, &Metric{Name: crossyear.MeanDifferenceName, Reduce: crossyear.MeanDifference})
	require.NoError(t, err)

	// 4802 has no row at all in 2021; 4801 is present under another label
	assert.Equal(t, []string{"4801", "4803"}, codes(table))
	values, _ := table.Column("2021")
	assert.True(t, math.IsNaN(values[0]))
	assert.Equal(t, 4.0, values[1])
}

func TestJoin_OrderSensitiveMetric(t *testing.T) {
	agg, _ := newTestAggregator(2)
	metric := &Metric{Name: crossyear.MeanDifferenceName, Reduce: crossyear.MeanDifference}

	d1 := dataset(2011, row("4801", "P", "10"))
	d2 := dataset(2016, row("4801", "P", "15"))
	d3 := dataset(2021, row("4801", "P", "12"))

	forward, err := agg.Join(context.Background(), reference(), []models.Selection{
		{Dataset: d1, Label: "P"}, {Dataset: d2, Label: "P"}, {Dataset: d3, Label: "P"},
	}, metric)
	require.NoError(t, err)
	backward, err := agg.Join(context.Background(), reference(), []models.Selection{
		{Dataset: d3, Label: "P"}, {Dataset: d2, Label: "P"}, {Dataset: d1, Label: "P"},
	}, metric)
	require.NoError(t, err)

	f, _ := forward.Column(metric.Name)
	b, _ := backward.Column(metric.Name)
	assert.Equal(t, 1.0, f[0])
	assert.Equal(t, -1.0, b[0])
}

func TestJoin_Errors(t *testing.T) {
	agg, _ := newTestAggregator(1)
	d := dataset(2016, row("4801", "P", "1"))

	tests := []struct {
		name       string
		ref        *models.Reference
		selections []models.Selection
		metric     *Metric
		check      func(error) bool
	}{
		{
			name:       "unknown granularity",
			ref:        &models.Reference{Granularity: "Wards"},
			selections: []models.Selection{{Dataset: d, Label: "P"}},
			check:      isConfigError,
		},
		{
			name:  "no selections",
			ref:   reference(),
			check: isValidationError,
		},
		{
			name:       "missing metric",
			ref:        reference(),
			selections: []models.Selection{{Dataset: d, Label: "P"}, {Dataset: dataset(2021), Label: "P"}},
			check:      isConfigError,
		},
		{
			name:       "same year twice",
			ref:        reference(),
			selections: []models.Selection{{Dataset: d, Label: "P"}, {Dataset: d, Label: "P"}},
			metric:     &Metric{Name: "m", Reduce: crossyear.MeanDifference},
			check:      isValidationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.Join(context.Background(), tt.ref, tt.selections, tt.metric)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type %T", err)
		})
	}
}

func TestJoin_Cancelled(t *testing.T) {
	agg, _ := newTestAggregator(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agg.Join(ctx, reference(), []models.Selection{
		{Dataset: dataset(2016, row("4801", "P", "1")), Label: "P"},
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJoin_IntersectionProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	agg, _ := newTestAggregator(4)

	ref := &models.Reference{Granularity: models.GranularitySubdivision}
	for i := 0; i < 60; i++ {
		ref.Units = append(ref.Units, models.GeographicUnit{Code: fmt.Sprintf("48%04d", i)})
	}

	for trial := 0; trial < 25; trial++ {
		years := 1 + r.Intn(3)
		selections := make([]models.Selection, years)
		filtered := make([]map[string]bool, years)
		for y := 0; y < years; y++ {
			d := dataset(2011 + 5*y)
			filtered[y] = make(map[string]bool)
			for i := 0; i < 80; i++ {
				if r.Intn(3) == 0 {
					continue
				}
				code := fmt.Sprintf("48%04d", i)
				label := "A"
				if r.Intn(4) == 0 {
					label = "B"
				}
				total := fmt.Sprintf("%d", r.Intn(1000))
				if r.Intn(6) == 0 {
					total = "F"
				}
				d.Rows = append(d.Rows, row(code, label, total))
				filtered[y][code] = true
			}
			selections[y] = models.Selection{Dataset: d, Label: "A"}
		}

		table, err := agg.Join(context.Background(), ref, selections, &Metric{Name: "m", Reduce: crossyear.MeanPercentChange})
		require.NoError(t, err)

		universe := ref.Codes()
		for _, unit := range table.Units {
			_, known := universe[unit.Code]
			assert.True(t, known)
			for y := range selections {
				assert.True(t, filtered[y][unit.Code], "code %s absent from year %d", unit.Code, y)
			}
		}
		for _, column := range table.YearColumns {
			values, ok := table.Column(column)
			require.True(t, ok)
			assert.Len(t, values, table.Len())
		}
	}
}

func TestTable_AddClipped(t *testing.T) {
	table := newTable(models.GranularityProvince, []models.GeographicUnit{
		{Code: "1"}, {Code: "2"}, {Code: "3"}, {Code: "4"}, {Code: "5"},
		{Code: "6"}, {Code: "7"}, {Code: "8"}, {Code: "9"}, {Code: "10"},
	})
	require.NoError(t, table.SetColumn("2021", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 1000}))

	name, err := table.AddClipped("2021")
	require.NoError(t, err)
	assert.Equal(t, "2021 clipped", name)

	raw, _ := table.Column("2021")
	clipped, _ := table.Column(name)
	// Q1 3.25, Q3 7.75, upper fence 7.75 + 3*4.5
	assert.Equal(t, 1000.0, raw[9])
	assert.InDelta(t, 21.25, clipped[9], 1e-9)
	assert.Equal(t, 5.0, clipped[4])
	assert.Equal(t, []string{"2021", "2021 clipped"}, table.ColumnNames())

	_, err = table.AddClipped("2016")
	assert.Error(t, err)
	assert.Error(t, table.SetColumn("short", []float64{1}))
}

func codes(table *Table) []string {
	out := make([]string, len(table.Units))
	for i, u := range table.Units {
		out[i] = u.Code
	}
	return out
}

func isConfigError(err error) bool {
	var target *models.ConfigError
	return errors.As(err, &target)
}

func isValidationError(err error) bool {
	var target *models.ValidationError
	return errors.As(err, &target)
}
