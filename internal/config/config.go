// Package config loads the application configuration. Values start from
// Default, are overlaid by an optional YAML file and finally by CENSUS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"census-atlas/internal/models"
	"census-atlas/pkg/database"
)

const (
	// EnvPrefix prefixes every environment variable
	EnvPrefix = "CENSUS"
	// FileEnv names the variable holding the YAML file path
	FileEnv = "CENSUS_CONFIG_FILE"
	// DefaultFile is read when FileEnv is unset and the file exists
	DefaultFile = "config.yaml"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database database.Config `yaml:"database" envconfig:"DATABASE"`
	Logging  LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Redis    RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Analysis AnalysisConfig  `yaml:"analysis" envconfig:"ANALYSIS"`
	Taxonomy TaxonomyConfig  `yaml:"taxonomy" envconfig:"TAXONOMY"`

	// DataDir is prepended to relative vintage and reference file paths
	DataDir           string            `yaml:"data_dir" split_words:"true"`
	Vintages          []models.Vintage  `yaml:"vintages" ignored:"true"`
	References        map[string]string `yaml:"references"`
	ReferenceEncoding string            `yaml:"reference_encoding" split_words:"true"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RedisConfig configures the analysis result cache. An empty URL disables it.
type RedisConfig struct {
	URL       string        `yaml:"url"`
	TTL       time.Duration `yaml:"ttl"`
	PoolSize  int           `yaml:"pool_size" split_words:"true"`
	KeyPrefix string        `yaml:"key_prefix" split_words:"true"`
}

// AnalysisConfig tunes the geographic join
type AnalysisConfig struct {
	Workers       int           `yaml:"workers"`
	ProgressEvery int           `yaml:"progress_every" split_words:"true"`
	Timeout       time.Duration `yaml:"timeout"`
}

// TaxonomyConfig selects the rows a vintage's characteristic listing is read from
type TaxonomyConfig struct {
	ListingGeoName string `yaml:"listing_geo_name" split_words:"true"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: database.Config{
			Host:            "localhost",
			Port:            5432,
			User:            "census",
			Database:        "census",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		Redis: RedisConfig{
			TTL:       24 * time.Hour,
			PoolSize:  10,
			KeyPrefix: "census:analysis:",
		},
		Analysis: AnalysisConfig{
			Workers:       4,
			ProgressEvery: 500,
			Timeout:       2 * time.Minute,
		},
		Taxonomy:          TaxonomyConfig{ListingGeoName: "Alberta"},
		DataDir:           "data",
		Vintages:          DefaultVintages(),
		ReferenceEncoding: "latin-1",
		References: map[string]string{
			string(models.GranularitySubdivision): "reference/lcsd000b21a_e.csv",
			string(models.GranularityDivision):    "reference/lcd_000b21a_e.csv",
			string(models.GranularityProvince):    "reference/lpr_000b21a_e.csv",
		},
	}
}

// DefaultVintages describes the 2011, 2016 and 2021 census profile tables
func DefaultVintages() []models.Vintage {
	return []models.Vintage{
		{
			Year:              2011,
			File:              "2011CensusData.CSV",
			Encoding:          "latin-1",
			IndentUnit:        3,
			CharacteristicCol: "Characteristics",
			GeoNameCol:        "Prov_Name",
			TotalCol:          "Total",
			GeoCodeCol:        "Geo_Code",
		},
		{
			Year:              2016,
			File:              "2016CensusData.CSV",
			Encoding:          "latin-1",
			IndentUnit:        2,
			CharacteristicCol: "DIM: Profile of Census Divisions/Census Subdivisions (2247)",
			GeoNameCol:        "GEO_NAME",
			TotalCol:          "Dim: Sex (3): Member ID: [1]: Total - Sex",
			GeoCodeCol:        "ALT_GEO_CODE",
		},
		{
			Year:              2021,
			File:              "2021CensusData.CSV",
			Encoding:          "latin-1",
			IndentUnit:        2,
			CharacteristicCol: "CHARACTERISTIC_NAME",
			GeoNameCol:        "GEO_NAME",
			TotalCol:          "C1_COUNT_TOTAL",
			GeoCodeCol:        "ALT_GEO_CODE",
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// CENSUS_CONFIG_FILE (or config.yaml when present) and the environment.
func LoadConfig() (*Config, error) {
	path := os.Getenv(FileEnv)
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	return Load(path, explicit)
}

// Load reads configuration from path. A missing file is an error only when
// required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the application cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &models.ConfigError{Field: "server.port", Value: strconv.Itoa(c.Server.Port), Message: "port must be between 1 and 65535"}
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return &models.ConfigError{Field: "database.port", Value: strconv.Itoa(c.Database.Port), Message: "port must be between 1 and 65535"}
	}
	if c.Analysis.Workers <= 0 {
		return &models.ConfigError{Field: "analysis.workers", Value: strconv.Itoa(c.Analysis.Workers), Message: "workers must be positive"}
	}
	if c.Analysis.ProgressEvery < 0 {
		return &models.ConfigError{Field: "analysis.progress_every", Value: strconv.Itoa(c.Analysis.ProgressEvery), Message: "progress interval cannot be negative"}
	}
	if strings.TrimSpace(c.Taxonomy.ListingGeoName) == "" {
		return &models.ConfigError{Field: "taxonomy.listing_geo_name", Message: "listing geography name is required"}
	}
	if len(c.Vintages) == 0 {
		return &models.ConfigError{Field: "vintages", Message: "at least one vintage is required"}
	}

	seen := make(map[int]bool, len(c.Vintages))
	for _, v := range c.Vintages {
		if err := validateVintage(v); err != nil {
			return err
		}
		if seen[v.Year] {
			return &models.ConfigError{Field: "vintages", Value: strconv.Itoa(v.Year), Message: "duplicate vintage year"}
		}
		seen[v.Year] = true
	}

	for name := range c.References {
		if _, err := models.ParseGranularity(name); err != nil {
			return err
		}
	}
	return nil
}

func validateVintage(v models.Vintage) error {
	field := fmt.Sprintf("vintages[%d]", v.Year)
	if v.Year <= 0 {
		return &models.ConfigError{Field: field, Value: strconv.Itoa(v.Year), Message: "year must be positive"}
	}
	if v.IndentUnit != 2 && v.IndentUnit != 3 {
		return &models.ConfigError{Field: field + ".leading_spaces", Value: strconv.Itoa(v.IndentUnit), Message: "indent unit must be 2 or 3"}
	}
	if v.SkipLines < 0 {
		return &models.ConfigError{Field: field + ".skip_lines", Value: strconv.Itoa(v.SkipLines), Message: "skip lines cannot be negative"}
	}
	for role, col := range map[string]string{
		"characteristic_col": v.CharacteristicCol,
		"geo_col":            v.GeoNameCol,
		"total_col":          v.TotalCol,
		"geocode_col":        v.GeoCodeCol,
	} {
		if strings.TrimSpace(col) == "" {
			return &models.ConfigError{Field: field + "." + role, Message: "column name is required"}
		}
	}
	return nil
}

// Vintage returns the configured vintage of a year
func (c *Config) Vintage(year int) (models.Vintage, bool) {
	for _, v := range c.Vintages {
		if v.Year == year {
			return v, true
		}
	}
	return models.Vintage{}, false
}

// ReferenceFiles returns the configured reference table of every known
// granularity, relative to DataDir
func (c *Config) ReferenceFiles() map[models.Granularity]string {
	files := make(map[models.Granularity]string, len(c.References))
	for name, path := range c.References {
		if g, err := models.ParseGranularity(name); err == nil {
			files[g] = path
		}
	}
	return files
}
