package services

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"census-atlas/internal/models"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

type fakeSource struct {
	datasets   map[int]*models.YearDataset
	references map[models.Granularity]*models.Reference
	refLoads   int
}

func (f *fakeSource) LoadDataset(_ context.Context, vintage models.Vintage) (*models.YearDataset, error) {
	ds, ok := f.datasets[vintage.Year]
	if !ok {
		return nil, &models.NotFoundError{Resource: "dataset", ID: vintage.Column()}
	}
	return &models.YearDataset{Vintage: vintage, Rows: ds.Rows}, nil
}

func (f *fakeSource) LoadReference(_ context.Context, granularity models.Granularity) (*models.Reference, error) {
	f.refLoads++
	ref, ok := f.references[granularity]
	if !ok {
		return nil, &models.NotFoundError{Resource: "reference", ID: string(granularity)}
	}
	return ref, nil
}

type fakeStore struct {
	datasets   map[int]int
	references map[models.Granularity]int
	failYear   int
}

func (f *fakeStore) ReplaceDataset(_ context.Context, ds *models.YearDataset) (int, error) {
	if ds.Vintage.Year == f.failYear {
		return 0, fmt.Errorf("copy failed")
	}
	f.datasets[ds.Vintage.Year] = len(ds.Rows)
	return len(ds.Rows), nil
}

func (f *fakeStore) ReplaceReference(_ context.Context, ref *models.Reference) (int, error) {
	f.references[ref.Granularity] = len(ref.Units)
	return len(ref.Units), nil
}

func testDeps() (*logging.StructuredLogger, *metrics.Collector) {
	return logging.NewNopLogger(), metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

func vintage(year int) models.Vintage {
	return models.Vintage{Year: year, IndentUnit: 2}
}

// profile lays out a listing for Alberta followed by per-division rows
func profile(year int, totals map[string][]string) *models.YearDataset {
	listing := []string{"Population", "  Total", "  Men", "Dwellings"}
	ds := &models.YearDataset{Vintage: vintage(year)}
	for _, label := range listing {
		ds.Rows = append(ds.Rows, models.DatasetRow{GeoCode: "48", GeoName: "Alberta", Characteristic: label, Total: "0"})
	}
	for code, values := range totals {
		for i, label := range listing {
			ds.Rows = append(ds.Rows, models.DatasetRow{
				GeoCode:        code,
				GeoName:        "Division " + code,
				Characteristic: label,
				Total:          values[i],
			})
		}
	}
	return ds
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		datasets: map[int]*models.YearDataset{
			2016: profile(2016, map[string][]string{
				"4801": {"", "100", "50", "40"},
				"4802": {"", "200", "90", "80"},
				"4803": {"", "300", "150", "x"},
			}),
			2021: profile(2021, map[string][]string{
				"4801": {"", "110", "55", "44"},
				"4802": {"", "180", "92", "81"},
			}),
		},
		references: map[models.Granularity]*models.Reference{
			models.GranularityDivision: {
				Granularity: models.GranularityDivision,
				Units: []models.GeographicUnit{
					{Code: "4803", Name: "Division No. 3"},
					{Code: "4801", Name: "Division No. 1"},
					{Code: "4802", Name: "Division No. 2"},
				},
			},
		},
	}
}
