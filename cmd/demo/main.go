// Command demo runs a census analysis straight from the CSV files, without
// a database, and prints the joined table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"census-atlas/internal/config"
	"census-atlas/internal/geojoin"
	"census-atlas/internal/ingest"
	"census-atlas/internal/models"
	"census-atlas/internal/services"
	"census-atlas/internal/taxonomy"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

// selectionFlags collects repeated -select values of the form
// "2016:Population > Total"
type selectionFlags []models.SelectionRequest

func (s *selectionFlags) String() string {
	parts := make([]string, len(*s))
	for i, sel := range *s {
		parts[i] = fmt.Sprintf("%d:%s", sel.Year, strings.Join(sel.Path, " > "))
	}
	return strings.Join(parts, ", ")
}

func (s *selectionFlags) Set(value string) error {
	sel, err := parseSelection(value)
	if err != nil {
		return err
	}
	*s = append(*s, sel)
	return nil
}

func parseSelection(value string) (models.SelectionRequest, error) {
	yearPart, pathPart, ok := strings.Cut(value, ":")
	if !ok {
		return models.SelectionRequest{}, fmt.Errorf("expected YEAR:LABEL > LABEL, got %q", value)
	}
	year, err := strconv.Atoi(strings.TrimSpace(yearPart))
	if err != nil {
		return models.SelectionRequest{}, fmt.Errorf("invalid year %q", yearPart)
	}

	var path []string
	for _, label := range strings.Split(pathPart, ">") {
		if label = strings.TrimSpace(label); label != "" {
			path = append(path, label)
		}
	}
	if len(path) == 0 {
		return models.SelectionRequest{}, fmt.Errorf("selection %q names no characteristic", value)
	}
	return models.SelectionRequest{Year: year, Path: path}, nil
}

func main() {
	var selections selectionFlags
	dataDir := flag.String("data-dir", "", "Directory containing census CSV files (overrides configuration)")
	granularity := flag.String("granularity", string(models.GranularityDivision), "Geography to join against")
	metric := flag.String("metric", "Mean Difference", "Cross-year metric used with several selections")
	clipped := flag.Bool("clipped", false, "Clip far outliers of the displayed columns")
	tree := flag.Int("tree", 0, "Print the taxonomy of this year and exit")
	limit := flag.Int("rows", 20, "Number of joined rows to print")
	flag.Var(&selections, "select", `Characteristic to analyze, e.g. "2016:Population > Total" (repeatable)`)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("census-demo", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	defer logger.Sync()
	metricsCollector := metrics.NewCollector("census_demo")
	ctx := context.Background()

	vintages := cfg.Vintages
	if *tree != 0 {
		v, ok := cfg.Vintage(*tree)
		if !ok {
			fmt.Fprintf(os.Stderr, "Vintage %d is not configured\n", *tree)
			os.Exit(1)
		}
		vintages = []models.Vintage{v}
	} else if len(selections) > 0 {
		vintages = selectedVintages(cfg, selections)
	}

	source := ingest.NewFileSource(cfg.DataDir, cfg.ReferenceFiles(), cfg.ReferenceEncoding)
	taxonomyService := services.NewTaxonomyService(source, cfg.Taxonomy.ListingGeoName, logger, metricsCollector)
	reg, err := taxonomyService.BuildRegistry(ctx, vintages)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load vintages: %v\n", err)
		os.Exit(1)
	}

	if *tree != 0 {
		entry, err := reg.Get(*tree)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		printTree(entry.Tree)
		return
	}

	if len(selections) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to analyze: pass -select at least once, or -tree YEAR")
		flag.Usage()
		os.Exit(2)
	}

	catalog := services.NewCatalogService(reg)
	aggregator := geojoin.NewAggregator(logger, metricsCollector, geojoin.Options{
		Workers:       cfg.Analysis.Workers,
		ProgressEvery: cfg.Analysis.ProgressEvery,
	})
	analysisService := services.NewAnalysisService(catalog, source, aggregator, nil, cfg.Analysis.Timeout, logger, metricsCollector)

	result, err := analysisService.Analyze(ctx, models.AnalysisRequest{
		Granularity: *granularity,
		Metric:      *metric,
		Clipped:     *clipped,
		Selections:  selections,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		os.Exit(1)
	}

	printResult(result, *limit)
}

// selectedVintages narrows the configured vintages to the selected years.
// Unknown years are kept out so the catalog reports them.
func selectedVintages(cfg *config.Config, selections []models.SelectionRequest) []models.Vintage {
	seen := make(map[int]bool)
	var out []models.Vintage
	for _, sel := range selections {
		if seen[sel.Year] {
			continue
		}
		seen[sel.Year] = true
		if v, ok := cfg.Vintage(sel.Year); ok {
			out = append(out, v)
		}
	}
	return out
}

func printTree(root *taxonomy.Node) {
	root.Walk(func(n *taxonomy.Node) bool {
		if n != root {
			fmt.Printf("%s%-10s %s\n", strings.Repeat("  ", n.Depth-1), n.Path, n.Label)
		}
		return true
	})
	fmt.Printf("\n%d characteristics\n", root.Size())
}

func printResult(result *models.AnalysisResult, limit int) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%s joined on %s (%d units)\n", result.Granularity, result.KeyColumn, len(result.Rows))
	fmt.Println(strings.Repeat("=", 80))
	for i, column := range result.DisplayColumns {
		fmt.Printf("  %-28s %s\n", column, result.Legends[i])
	}
	if len(result.Thresholds) > 0 {
		last := len(result.Thresholds) - 1
		fmt.Printf("  legend from %.2f to %.2f in %d steps\n", result.Thresholds[0], result.Thresholds[last], last)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s\t%s\t", result.KeyColumn, result.NameColumn)
	for _, column := range result.DisplayColumns {
		fmt.Fprintf(w, "%s\t", column)
	}
	fmt.Fprintln(w)

	for i, row := range result.Rows {
		if i == limit {
			fmt.Fprintf(w, "... %d more\t\t\n", len(result.Rows)-limit)
			break
		}
		fmt.Fprintf(w, "%s\t%s\t", row.GeoCode, row.Name)
		for _, column := range result.DisplayColumns {
			if v := row.Values[column]; v != nil {
				fmt.Fprintf(w, "%.2f\t", *v)
			} else {
				fmt.Fprint(w, "-\t")
			}
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}
