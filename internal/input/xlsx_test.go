package input

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Batch")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, cell := range cells {
			row.AddCell().Value = cell
		}
	}
	path := filepath.Join(t.TempDir(), "batch.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadXLSX(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"ID", "URL", "Parcel", "Assessed Value"},
		{"P-1", "https://www.hctax.net/Property/1", "R-100", "$250,000"},
		{"", "https://tax.example.gov/2", "", ""},
	})

	items, err := LoadXLSX(path)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "P-1", items[0].ID)
	assert.Equal(t, "hctax.net", items[0].SourceKey)
	assert.Equal(t, "R-100", items[0].Hints.AccountNumber)
	assert.InDelta(t, 250000, items[0].Hints.PropertyValue, 1e-9)

	assert.Equal(t, "row-3", items[1].ID)
}

func TestLoadXLSXSkipsBlankRows(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"url"},
		{"https://tax.example.gov/1"},
		{""},
		{"https://tax.example.gov/2"},
	})

	items, err := LoadXLSX(path)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestLoadXLSXMissingURL(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"id", "url"},
		{"P-1", ""},
	})

	_, err := LoadXLSX(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing source url")
}

func TestLoadXLSXMissingFile(t *testing.T) {
	_, err := LoadXLSX(filepath.Join(t.TempDir(), "nope.xlsx"))
	assert.Error(t, err)
}
