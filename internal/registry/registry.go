// Package registry maps census years to their taxonomy and dataset. A
// Registry is built once and passed to whatever needs it.
package registry

import (
	"fmt"
	"sort"
	"strconv"

	"census-atlas/internal/models"
	"census-atlas/internal/taxonomy"
)

// Entry is everything loaded for one data vintage
type Entry struct {
	Vintage models.Vintage
	Tree    *taxonomy.Node
	Dataset *models.YearDataset
}

// Registry is an immutable year-keyed set of entries
type Registry struct {
	entries map[int]*Entry
	years   []int
}

// New builds a registry. Every entry needs a tree and a dataset and years
// must be unique.
func New(entries ...*Entry) (*Registry, error) {
	r := &Registry{entries: make(map[int]*Entry, len(entries))}
	for _, e := range entries {
		if e == nil || e.Tree == nil || e.Dataset == nil {
			return nil, fmt.Errorf("registry entry is incomplete")
		}
		year := e.Vintage.Year
		if _, dup := r.entries[year]; dup {
			return nil, &models.ConfigError{
				Field:   "vintages",
				Value:   strconv.Itoa(year),
				Message: fmt.Sprintf("vintage %d registered twice", year),
			}
		}
		r.entries[year] = e
		r.years = append(r.years, year)
	}
	sort.Ints(r.years)
	return r, nil
}

// Get returns the entry of a year
func (r *Registry) Get(year int) (*Entry, error) {
	e, ok := r.entries[year]
	if !ok {
		return nil, &models.NotFoundError{Resource: "vintage", ID: strconv.Itoa(year)}
	}
	return e, nil
}

// Years lists the registered years in ascending order
func (r *Registry) Years() []int {
	out := make([]int, len(r.years))
	copy(out, r.years)
	return out
}

// Len returns the number of registered vintages
func (r *Registry) Len() int {
	return len(r.years)
}
