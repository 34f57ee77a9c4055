package models

// AnalysisRequest selects the characteristics, geography and processing
// method of one analysis run.
type AnalysisRequest struct {
	Granularity string             `json:"granularity"`
	Metric      string             `json:"metric,omitempty"`
	Clipped     bool               `json:"clipped"`
	Selections  []SelectionRequest `json:"selections"`
}

// SelectionRequest picks a characteristic for one year by walking the
// taxonomy from the root, one label per level.
type SelectionRequest struct {
	Year int      `json:"year"`
	Path []string `json:"path"`
}

// AnalysisResult is the joined table handed to a rendering collaborator.
// Missing values are nil.
type AnalysisResult struct {
	Granularity     Granularity   `json:"granularity"`
	KeyColumn       string        `json:"key_column"`
	NameColumn      string        `json:"name_column"`
	FeatureProperty string        `json:"feature_property"`
	Columns         []string      `json:"columns"`
	YearColumns     []string      `json:"year_columns"`
	MetricColumn    string        `json:"metric_column,omitempty"`
	DisplayColumns  []string      `json:"display_columns"`
	Legends         []string      `json:"legends"`
	Thresholds      []float64     `json:"thresholds,omitempty"`
	Rows            []AnalysisRow `json:"rows"`
}

// AnalysisRow is one geographic unit of an AnalysisResult
type AnalysisRow struct {
	GeoCode string              `json:"geo_code"`
	Name    string              `json:"name"`
	Values  map[string]*float64 `json:"values"`
}
