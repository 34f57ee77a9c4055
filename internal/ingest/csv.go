// Package ingest reads census profile tables and geography reference tables
// from CSV.
package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"census-atlas/internal/models"
)

// NewDecoder wraps r so it yields UTF-8 for the named source encoding
func NewDecoder(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case "cp1252", "windows-1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	default:
		return nil, &models.ConfigError{
			Field:   "encoding",
			Value:   encoding,
			Message: fmt.Sprintf("unsupported source encoding %q", encoding),
		}
	}
}

// table is a header-indexed CSV stream
type table struct {
	reader *csv.Reader
	index  map[string]int
}

func openTable(r io.Reader, encoding string, skipLines int) (*table, error) {
	decoded, err := NewDecoder(r, encoding)
	if err != nil {
		return nil, err
	}

	buffered := bufio.NewReader(decoded)
	for i := 0; i < skipLines; i++ {
		if _, err := buffered.ReadString('\n'); err != nil {
			return nil, &models.ValidationError{
				Field:   "skip_lines",
				Value:   strconv.Itoa(skipLines),
				Message: "file ends before the header",
			}
		}
	}

	reader := csv.NewReader(buffered)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return &table{reader: reader, index: index}, nil
}

// columns resolves the positions of the named columns
func (t *table) columns(names ...string) ([]int, error) {
	positions := make([]int, len(names))
	for i, name := range names {
		pos, ok := t.index[strings.TrimSpace(name)]
		if !ok {
			return nil, &models.ValidationError{
				Field:   "header",
				Value:   name,
				Message: "required column not found",
			}
		}
		positions[i] = pos
	}
	return positions, nil
}

// each calls fn with the selected fields of every record. Short records
// yield empty strings for the absent fields.
func (t *table) each(positions []int, fn func(fields []string) error) error {
	fields := make([]string, len(positions))
	for {
		record, err := t.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV record: %w", err)
		}
		for i, pos := range positions {
			if pos < len(record) {
				fields[i] = record[pos]
			} else {
				fields[i] = ""
			}
		}
		if err := fn(fields); err != nil {
			return err
		}
	}
}

// ReadDataset reads a year's profile table using the vintage's column names.
// Totals are kept as text. Characteristic labels keep their indentation.
func ReadDataset(r io.Reader, vintage models.Vintage) (*models.YearDataset, error) {
	t, err := openTable(r, vintage.Encoding, vintage.SkipLines)
	if err != nil {
		return nil, fmt.Errorf("vintage %d: %w", vintage.Year, err)
	}
	positions, err := t.columns(vintage.GeoCodeCol, vintage.GeoNameCol, vintage.CharacteristicCol, vintage.TotalCol)
	if err != nil {
		return nil, fmt.Errorf("vintage %d: %w", vintage.Year, err)
	}

	dataset := &models.YearDataset{Vintage: vintage}
	err = t.each(positions, func(f []string) error {
		dataset.Rows = append(dataset.Rows, models.DatasetRow{
			GeoCode:        strings.TrimSpace(f[0]),
			GeoName:        f[1],
			Characteristic: f[2],
			Total:          f[3],
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vintage %d: %w", vintage.Year, err)
	}
	return dataset, nil
}

// ReadReference reads a geography reference table keyed by the
// granularity's code column. Units keep file order; blank codes are skipped.
func ReadReference(r io.Reader, granularity models.Granularity, encoding string) (*models.Reference, error) {
	if !granularity.Valid() {
		return nil, &models.ConfigError{
			Field:   "granularity",
			Value:   string(granularity),
			Message: fmt.Sprintf("unrecognized geography granularity %q", granularity),
		}
	}

	t, err := openTable(r, encoding, 0)
	if err != nil {
		return nil, fmt.Errorf("%s reference: %w", granularity, err)
	}
	positions, err := t.columns(granularity.KeyColumn(), granularity.NameColumn())
	if err != nil {
		return nil, fmt.Errorf("%s reference: %w", granularity, err)
	}

	ref := &models.Reference{Granularity: granularity}
	err = t.each(positions, func(f []string) error {
		code := strings.TrimSpace(f[0])
		if code == "" {
			return nil
		}
		ref.Units = append(ref.Units, models.GeographicUnit{
			Code:        code,
			Name:        strings.TrimSpace(f[1]),
			Granularity: granularity,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s reference: %w", granularity, err)
	}
	return ref, nil
}
