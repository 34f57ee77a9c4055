package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"census-atlas/internal/models"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Alberta", cfg.Taxonomy.ListingGeoName)
	require.Len(t, cfg.Vintages, 3)
	assert.Equal(t, 3, cfg.Vintages[0].IndentUnit)
	assert.Equal(t, "Dim: Sex (3): Member ID: [1]: Total - Sex", cfg.Vintages[1].TotalCol)
	assert.Equal(t, "C1_COUNT_TOTAL", cfg.Vintages[2].TotalCol)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
  read_timeout: 5s
logging:
  level: debug
analysis:
  workers: 2
vintages:
  - year: 2021
    file: profile.csv
    leading_spaces: 2
    characteristic_col: CHARACTERISTIC_NAME
    geo_col: GEO_NAME
    total_col: C1_COUNT_TOTAL
    geocode_col: ALT_GEO_CODE
`)

	t.Setenv("CENSUS_ANALYSIS_WORKERS", "8")
	t.Setenv("CENSUS_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CENSUS_DATABASE_SSL_MODE", "require")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Analysis.Workers)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "require", cfg.Database.SSLMode)

	require.Len(t, cfg.Vintages, 1)
	assert.Equal(t, 2021, cfg.Vintages[0].Year)
	assert.Equal(t, "GEO_NAME", cfg.Vintages[0].GeoNameCol)
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(missing, false)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)

	_, err = Load(missing, true)
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "server: [1, 2"), true)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad db port", func(c *Config) { c.Database.Port = 70000 }},
		{"no workers", func(c *Config) { c.Analysis.Workers = 0 }},
		{"negative progress", func(c *Config) { c.Analysis.ProgressEvery = -1 }},
		{"no listing geography", func(c *Config) { c.Taxonomy.ListingGeoName = " " }},
		{"no vintages", func(c *Config) { c.Vintages = nil }},
		{"indent unit", func(c *Config) { c.Vintages[0].IndentUnit = 4 }},
		{"duplicate year", func(c *Config) { c.Vintages[1].Year = c.Vintages[0].Year }},
		{"missing column", func(c *Config) { c.Vintages[2].TotalCol = "" }},
		{"negative skip", func(c *Config) { c.Vintages[0].SkipLines = -2 }},
		{"unknown granularity", func(c *Config) { c.References["Wards"] = "wards.csv" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var ce *models.ConfigError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func TestReferenceFilesAndVintages(t *testing.T) {
	cfg := Default()
	cfg.References["ward"] = "wards.csv"
	cfg.References["CDUID"] = "divisions.csv"
	delete(cfg.References, string(models.GranularityDivision))

	files := cfg.ReferenceFiles()
	assert.Len(t, files, 3)
	assert.Equal(t, "divisions.csv", files[models.GranularityDivision])
	assert.Equal(t, "reference/lpr_000b21a_e.csv", files[models.GranularityProvince])

	v, ok := cfg.Vintage(2016)
	require.True(t, ok)
	assert.Equal(t, "ALT_GEO_CODE", v.GeoCodeCol)
	_, ok = cfg.Vintage(1996)
	assert.False(t, ok)
}
