package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"census-atlas/internal/geojoin"
	"census-atlas/internal/models"
	"census-atlas/internal/services"
	"census-atlas/internal/taxonomy"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

type memorySource struct{}

func (memorySource) LoadDataset(_ context.Context, vintage models.Vintage) (*models.YearDataset, error) {
	totals := map[int]map[string]string{
		2016: {"4801": "100", "4802": "200"},
		2021: {"4801": "150", "4802": ""},
	}[vintage.Year]
	if totals == nil {
		return nil, &models.NotFoundError{Resource: "dataset", ID: vintage.Column()}
	}

	ds := &models.YearDataset{Vintage: vintage}
	for _, label := range []string{"Population", "  Total", "Income"} {
		ds.Rows = append(ds.Rows, models.DatasetRow{GeoCode: "48", GeoName: "Alberta", Characteristic: label})
	}
	for _, code := range []string{"4801", "4802"} {
		ds.Rows = append(ds.Rows, models.DatasetRow{GeoCode: code, Characteristic: "  Total", Total: totals[code]})
	}
	return ds, nil
}

func (memorySource) LoadReference(_ context.Context, granularity models.Granularity) (*models.Reference, error) {
	if granularity != models.GranularityDivision {
		return nil, &models.NotFoundError{Resource: "reference", ID: string(granularity)}
	}
	return &models.Reference{
		Granularity: granularity,
		Units: []models.GeographicUnit{
			{Code: "4801", Name: "Division No. 1"},
			{Code: "4802", Name: "Division No. 2"},
		},
	}, nil
}

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(context.Context) error { return s.err }

func newRouter(t *testing.T, health HealthChecker) *mux.Router {
	t.Helper()
	logger := logging.NewNopLogger()
	collector := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())

	taxonomySvc := services.NewTaxonomyService(memorySource{}, "Alberta", logger, collector)
	reg, err := taxonomySvc.BuildRegistry(context.Background(), []models.Vintage{
		{Year: 2016, IndentUnit: 2},
		{Year: 2021, IndentUnit: 2},
	})
	require.NoError(t, err)

	catalog := services.NewCatalogService(reg)
	aggregator := geojoin.NewAggregator(logger, collector, geojoin.Options{Workers: 2})
	analysis := services.NewAnalysisService(catalog, memorySource{}, aggregator, nil, time.Minute, logger, collector)

	router := mux.NewRouter()
	router.Use(RequestLogging(logger))
	NewCensusHandler(catalog, analysis, health, logger, collector).RegisterRoutes(router)
	return router
}

func serve(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetVintages(t *testing.T) {
	rec := serve(newRouter(t, nil), http.MethodGet, "/api/vintages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var body struct {
		Data  []services.VintageSummary `json:"data"`
		Total int                       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 2016, body.Data[0].Year)
	assert.Equal(t, 3, body.Data[0].Nodes)
}

func TestGetCharacteristics(t *testing.T) {
	router := newRouter(t, nil)

	tests := []struct {
		name     string
		target   string
		code     int
		children []string
	}{
		{"top level", "/api/vintages/2016/characteristics", http.StatusOK, []string{"Population", "Income"}},
		{"one level down", "/api/vintages/2016/characteristics?path=Population", http.StatusOK, []string{"Total"}},
		{"leaf", "/api/vintages/2021/characteristics?path=Population&path=Total", http.StatusOK, []string{}},
		{"unknown label", "/api/vintages/2016/characteristics?path=Housing", http.StatusNotFound, nil},
		{"unknown year", "/api/vintages/1901/characteristics", http.StatusNotFound, nil},
		{"bad year", "/api/vintages/latest/characteristics", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, http.MethodGet, tt.target, nil)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != http.StatusOK {
				var e ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
				assert.Equal(t, tt.code, e.Code)
				return
			}
			var body CharacteristicsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.ElementsMatch(t, tt.children, body.Children)
		})
	}
}

func TestPostAnalysis(t *testing.T) {
	router := newRouter(t, nil)
	payload := []byte(`{
		"granularity": "Census Divisions",
		"metric": "Mean Difference",
		"selections": [
			{"year": 2016, "path": ["Population", "Total"]},
			{"year": 2021, "path": ["Population", "Total"]}
		]
	}`)

	rec := serve(router, http.MethodPost, "/api/analysis", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, []string{"Mean Difference", "2016", "2021"}, result.DisplayColumns)
	require.Len(t, result.Rows, 2)

	first := result.Rows[0]
	assert.Equal(t, "4801", first.GeoCode)
	require.NotNil(t, first.Values["Mean Difference"])
	assert.Equal(t, 50.0, *first.Values["Mean Difference"])

	// 4802 has no 2021 total, so its metric is null on the wire
	assert.Nil(t, result.Rows[1].Values["2021"])
	assert.Nil(t, result.Rows[1].Values["Mean Difference"])
	assert.Contains(t, rec.Body.String(), `"2021":null`)
}

func TestPostAnalysis_Errors(t *testing.T) {
	router := newRouter(t, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"granularity":`, http.StatusBadRequest},
		{"unknown field", `{"granularity":"Provinces","colour":"red"}`, http.StatusBadRequest},
		{"no selections", `{"granularity":"Census Divisions","selections":[]}`, http.StatusBadRequest},
		{"bad granularity", `{"granularity":"Wards","selections":[{"year":2016,"path":["Population"]}]}`, http.StatusBadRequest},
		{"missing metric", `{"granularity":"Census Divisions","selections":[{"year":2016,"path":["Population"]},{"year":2021,"path":["Population"]}]}`, http.StatusBadRequest},
		{"unknown characteristic", `{"granularity":"Census Divisions","selections":[{"year":2016,"path":["Housing"]}]}`, http.StatusNotFound},
		{"missing reference", `{"granularity":"Provinces","selections":[{"year":2016,"path":["Population"]}]}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, http.MethodPost, "/api/analysis", []byte(tt.body))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestHealthCheck(t *testing.T) {
	rec := serve(newRouter(t, stubHealth{}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	rec = serve(newRouter(t, stubHealth{err: errors.New("connection refused")}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unhealthy"`)
}

func TestRequestIDIsEchoed(t *testing.T) {
	router := newRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestOpenAPISpec(t *testing.T) {
	rec := serve(newRouter(t, nil), http.MethodGet, "/api/docs/openapi.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var spec map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	paths, ok := spec["paths"].(map[string]interface{})
	require.True(t, ok)
	for _, p := range []string{"/api/vintages", "/api/vintages/{year}/characteristics", "/api/analysis", "/health"} {
		assert.Contains(t, paths, p)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&models.ValidationError{Field: "path"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", &models.ConfigError{Field: "metric"}), http.StatusBadRequest},
		{&models.NotFoundError{Resource: "vintage", ID: "1901"}, http.StatusNotFound},
		{fmt.Errorf("selection 0: %w", taxonomy.ErrNoSuchChild), http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		code, _ := statusFor(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
