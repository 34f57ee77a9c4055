package services

import (
	"context"

	"census-atlas/internal/models"
)

// DatasetSource loads the dataset of a vintage
type DatasetSource interface {
	LoadDataset(ctx context.Context, vintage models.Vintage) (*models.YearDataset, error)
}

// ReferenceSource loads the geography reference of a granularity
type ReferenceSource interface {
	LoadReference(ctx context.Context, granularity models.Granularity) (*models.Reference, error)
}

// CensusStore persists datasets and references
type CensusStore interface {
	ReplaceDataset(ctx context.Context, dataset *models.YearDataset) (int, error)
	ReplaceReference(ctx context.Context, ref *models.Reference) (int, error)
}
