package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"census-atlas/internal/models"
	"census-atlas/internal/registry"
	"census-atlas/internal/taxonomy"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

// TaxonomyService builds the characteristic taxonomy of every vintage
type TaxonomyService struct {
	source         DatasetSource
	listingGeoName string
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
}

// NewTaxonomyService creates a taxonomy service reading listings from the
// rows of listingGeoName
func NewTaxonomyService(source DatasetSource, listingGeoName string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TaxonomyService {
	return &TaxonomyService{
		source:         source,
		listingGeoName: listingGeoName,
		logger:         logger,
		metrics:        metricsCollector,
	}
}

// BuildTree builds the taxonomy of one dataset from its listing rows
func (s *TaxonomyService) BuildTree(ctx context.Context, dataset *models.YearDataset) (*taxonomy.Node, error) {
	timer := s.metrics.NewTimer(s.metrics.TaxonomyBuildDuration)

	builder, err := taxonomy.NewBuilder(dataset.Vintage.IndentUnit)
	if err != nil {
		return nil, &models.ConfigError{
			Field:   fmt.Sprintf("vintages[%d].leading_spaces", dataset.Vintage.Year),
			Value:   fmt.Sprintf("%d", dataset.Vintage.IndentUnit),
			Message: err.Error(),
		}
	}

	listing := dataset.Listing(s.listingGeoName)
	if len(listing) == 0 {
		return nil, &models.ValidationError{
			Field:   "listing",
			Value:   s.listingGeoName,
			Message: fmt.Sprintf("vintage %d has no rows for the listing geography", dataset.Vintage.Year),
		}
	}

	tree, err := builder.Build(listing)
	if err != nil {
		return nil, fmt.Errorf("vintage %d taxonomy: %w", dataset.Vintage.Year, err)
	}

	duration := timer.ObserveDuration()
	s.metrics.TaxonomyNodes.WithLabelValues(dataset.Vintage.Column()).Set(float64(tree.Size()))

	s.logger.Info(ctx, "[TAXONOMY_BUILD] Taxonomy built", logging.Fields{
		"year":        dataset.Vintage.Year,
		"nodes":       tree.Size(),
		"top_level":   len(tree.Children),
		"indent_unit": dataset.Vintage.IndentUnit,
		"duration_ms": duration.Milliseconds(),
	})
	return tree, nil
}

// BuildRegistry loads every vintage and builds its taxonomy concurrently
func (s *TaxonomyService) BuildRegistry(ctx context.Context, vintages []models.Vintage) (*registry.Registry, error) {
	entries := make([]*registry.Entry, len(vintages))

	g, gctx := errgroup.WithContext(ctx)
	for i, vintage := range vintages {
		i, vintage := i, vintage
		g.Go(func() error {
			dataset, err := s.source.LoadDataset(gctx, vintage)
			if err != nil {
				return fmt.Errorf("load vintage %d: %w", vintage.Year, err)
			}
			tree, err := s.BuildTree(gctx, dataset)
			if err != nil {
				return err
			}
			entries[i] = &registry.Entry{Vintage: vintage, Tree: tree, Dataset: dataset}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reg, err := registry.New(entries...)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "[TAXONOMY_REGISTRY] Vintage registry ready", logging.Fields{
		"vintages": reg.Len(),
		"years":    reg.Years(),
	})
	return reg, nil
}

// VintageSummary describes one registered vintage
type VintageSummary struct {
	Year       int `json:"year"`
	IndentUnit int `json:"indent_unit"`
	Rows       int `json:"rows"`
	Nodes      int `json:"nodes"`
}

// CatalogService answers selection walks over a registry
type CatalogService struct {
	registry *registry.Registry
}

// NewCatalogService creates a catalog over reg
func NewCatalogService(reg *registry.Registry) *CatalogService {
	return &CatalogService{registry: reg}
}

// Vintages lists the registered vintages in year order
func (c *CatalogService) Vintages() []VintageSummary {
	years := c.registry.Years()
	out := make([]VintageSummary, 0, len(years))
	for _, year := range years {
		e, err := c.registry.Get(year)
		if err != nil {
			continue
		}
		out = append(out, VintageSummary{
			Year:       year,
			IndentUnit: e.Vintage.IndentUnit,
			Rows:       len(e.Dataset.Rows),
			Nodes:      e.Tree.Size(),
		})
	}
	return out
}

// Children returns the labels one level below path in a year's taxonomy.
// An empty path lists the top level.
func (c *CatalogService) Children(year int, path []string) ([]string, error) {
	e, err := c.registry.Get(year)
	if err != nil {
		return nil, err
	}
	node, err := e.Tree.Resolve(path...)
	if err != nil {
		return nil, err
	}
	return node.ChildLabels(), nil
}

// Select resolves a characteristic path of a year into a join selection
func (c *CatalogService) Select(year int, path []string) (models.Selection, error) {
	if len(path) == 0 {
		return models.Selection{}, &models.ValidationError{
			Field:   "path",
			Value:   fmt.Sprintf("%d", year),
			Message: "a characteristic must be selected",
		}
	}
	e, err := c.registry.Get(year)
	if err != nil {
		return models.Selection{}, err
	}
	node, err := e.Tree.Resolve(path...)
	if err != nil {
		return models.Selection{}, err
	}
	return models.Selection{Dataset: e.Dataset, Label: node.Label}, nil
}
