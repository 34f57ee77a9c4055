package models

import (
	"fmt"
	"strings"
)

// Vintage describes one census year and how its source table is shaped.
// Column names differ between data vintages, so every role is configurable.
type Vintage struct {
	Year              int    `json:"year" yaml:"year"`
	File              string `json:"file,omitempty" yaml:"file"`
	Encoding          string `json:"encoding,omitempty" yaml:"encoding"`
	SkipLines         int    `json:"skip_lines,omitempty" yaml:"skip_lines"`
	IndentUnit        int    `json:"indent_unit" yaml:"leading_spaces"`
	CharacteristicCol string `json:"characteristic_col" yaml:"characteristic_col"`
	GeoNameCol        string `json:"geo_name_col" yaml:"geo_col"`
	TotalCol          string `json:"total_col" yaml:"total_col"`
	GeoCodeCol        string `json:"geo_code_col" yaml:"geocode_col"`
}

// Column returns the year column name used in joined output
func (v Vintage) Column() string {
	return fmt.Sprintf("%d", v.Year)
}

// Granularity is the level of geographic aggregation of a reference table
type Granularity string

const (
	GranularitySubdivision Granularity = "Census Subdivisions"
	GranularityDivision    Granularity = "Census Divisions"
	GranularityProvince    Granularity = "Provinces"
)

// Granularities lists every supported granularity in display order
var Granularities = []Granularity{GranularitySubdivision, GranularityDivision, GranularityProvince}

// ParseGranularity resolves a display name (or its key column) to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	trimmed := strings.TrimSpace(s)
	for _, g := range Granularities {
		if strings.EqualFold(trimmed, string(g)) || strings.EqualFold(trimmed, g.KeyColumn()) {
			return g, nil
		}
	}
	return "", &ConfigError{
		Field:   "granularity",
		Value:   s,
		Message: fmt.Sprintf("unrecognized geography granularity %q", s),
	}
}

// KeyColumn returns the geographic code column of the reference table
func (g Granularity) KeyColumn() string {
	switch g {
	case GranularitySubdivision:
		return "CSDUID"
	case GranularityDivision:
		return "CDUID"
	case GranularityProvince:
		return "PRUID"
	default:
		return ""
	}
}

// NameColumn returns the display name column of the reference table
func (g Granularity) NameColumn() string {
	switch g {
	case GranularitySubdivision:
		return "CSDNAME"
	case GranularityDivision:
		return "CDNAME"
	case GranularityProvince:
		return "PRNAME"
	default:
		return ""
	}
}

// FeatureProperty is the key a map renderer binds joined rows on
func (g Granularity) FeatureProperty() string {
	return "feature.properties." + g.KeyColumn()
}

// Valid reports whether g is one of the supported granularities
func (g Granularity) Valid() bool {
	return g.KeyColumn() != ""
}

// GeographicUnit is one entry of a geography reference table
type GeographicUnit struct {
	Code        string      `json:"code" db:"code"`
	Name        string      `json:"name" db:"name"`
	Granularity Granularity `json:"granularity" db:"granularity"`
}

// Reference is the universe of geographic units for one granularity.
// Units keep the order of the source table.
type Reference struct {
	Granularity Granularity
	Units       []GeographicUnit
}

// Codes returns the set of geographic codes in the reference
func (r *Reference) Codes() map[string]struct{} {
	codes := make(map[string]struct{}, len(r.Units))
	for _, u := range r.Units {
		codes[u.Code] = struct{}{}
	}
	return codes
}

// DatasetRow is one row of a year dataset with its roles resolved.
// Total is kept as text; it may be malformed.
type DatasetRow struct {
	GeoCode        string `json:"geo_code" db:"geo_code"`
	GeoName        string `json:"geo_name" db:"geo_name"`
	Characteristic string `json:"characteristic" db:"characteristic"`
	Total          string `json:"total" db:"total"`
}

// YearDataset is the per-year census table
type YearDataset struct {
	Vintage Vintage
	Rows    []DatasetRow
}

// Filter returns the rows matching pred. The dataset itself is not modified.
func (d *YearDataset) Filter(pred func(DatasetRow) bool) []DatasetRow {
	out := make([]DatasetRow, 0)
	for _, row := range d.Rows {
		if pred(row) {
			out = append(out, row)
		}
	}
	return out
}

// GeoCodes returns the set of geographic codes present anywhere in the dataset
func (d *YearDataset) GeoCodes() map[string]struct{} {
	codes := make(map[string]struct{})
	for _, row := range d.Rows {
		codes[row.GeoCode] = struct{}{}
	}
	return codes
}

// Listing returns the characteristic labels of the rows belonging to the
// given geography name, in source order. Blank labels are skipped.
func (d *YearDataset) Listing(geoName string) []string {
	listing := make([]string, 0)
	for _, row := range d.Rows {
		if row.GeoName != geoName || strings.TrimSpace(row.Characteristic) == "" {
			continue
		}
		listing = append(listing, row.Characteristic)
	}
	return listing
}

// Selection pairs a year dataset with the characteristic chosen for it
type Selection struct {
	Dataset *YearDataset
	Label   string
}
