package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"census-atlas/internal/config"
	"census-atlas/internal/models"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		input   string
		want    models.SelectionRequest
		wantErr bool
	}{
		{"2016:Population > Total", models.SelectionRequest{Year: 2016, Path: []string{"Population", "Total"}}, false},
		{" 2021 :  Dwellings ", models.SelectionRequest{Year: 2021, Path: []string{"Dwellings"}}, false},
		{"2021", models.SelectionRequest{}, true},
		{"latest:Population", models.SelectionRequest{}, true},
		{"2011: > ", models.SelectionRequest{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseSelection(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectionFlags(t *testing.T) {
	var flags selectionFlags
	require.NoError(t, flags.Set("2016:Population > Total"))
	require.NoError(t, flags.Set("2021:Population > Total"))
	assert.Error(t, flags.Set("bogus"))

	assert.Len(t, flags, 2)
	assert.Equal(t, "2016:Population > Total, 2021:Population > Total", flags.String())
}

func TestSelectedVintages(t *testing.T) {
	cfg := config.Default()
	got := selectedVintages(cfg, []models.SelectionRequest{
		{Year: 2021}, {Year: 2016}, {Year: 2021}, {Year: 1996},
	})

	require.Len(t, got, 2)
	assert.Equal(t, 2021, got[0].Year)
	assert.Equal(t, 2016, got[1].Year)
}
