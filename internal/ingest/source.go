package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"census-atlas/internal/models"
)

// FileSource loads datasets and references straight from CSV files
type FileSource struct {
	dataDir           string
	references        map[models.Granularity]string
	referenceEncoding string
}

// NewFileSource creates a file source. Relative paths resolve against dataDir.
func NewFileSource(dataDir string, references map[models.Granularity]string, referenceEncoding string) *FileSource {
	return &FileSource{
		dataDir:           dataDir,
		references:        references,
		referenceEncoding: referenceEncoding,
	}
}

func (s *FileSource) resolve(path string) string {
	if filepath.IsAbs(path) || s.dataDir == "" {
		return path
	}
	return filepath.Join(s.dataDir, path)
}

// LoadDataset reads the vintage's CSV file
func (s *FileSource) LoadDataset(ctx context.Context, vintage models.Vintage) (*models.YearDataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vintage.File == "" {
		return nil, &models.NotFoundError{Resource: "dataset file", ID: vintage.Column()}
	}

	f, err := os.Open(s.resolve(vintage.File))
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset for %d: %w", vintage.Year, err)
	}
	defer f.Close()

	return ReadDataset(f, vintage)
}

// LoadReference reads the reference table configured for a granularity
func (s *FileSource) LoadReference(ctx context.Context, granularity models.Granularity) (*models.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := s.references[granularity]
	if !ok {
		return nil, &models.NotFoundError{Resource: "reference", ID: string(granularity)}
	}

	f, err := os.Open(s.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s reference: %w", granularity, err)
	}
	defer f.Close()

	return ReadReference(f, granularity, s.referenceEncoding)
}
