package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"$3,847.22", 3847.22},
		{"3847.22", 3847.22},
		{"  $1,250  ", 1250},
		{"$0.00", 0},
		{"(1,500.00)", -1500},
		{"-42.50", -42.50},
		{"USD 2,000.10", 2000.10},
		{"$12", 12},
	}
	for _, tt := range tests {
		got, err := ParseCurrency(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.InDelta(t, tt.want, got, 1e-9, tt.raw)
	}
}

func TestParseCurrencyRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "N/A", "see bill", "$"} {
		_, err := ParseCurrency(raw)
		assert.Error(t, err, "%q should not parse", raw)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"01/31/2026",
		"01-31-2026",
		"2026-01-31",
		"January 31, 2026",
		"Jan 31, 2026",
		"31 January 2026",
		"  01/31/2026  ",
	} {
		got, err := ParseDate(raw)
		require.NoError(t, err, raw)
		assert.True(t, got.Equal(want), "%q parsed to %v", raw, got)
	}
}

func TestParseDateRejects(t *testing.T) {
	for _, raw := range []string{"", "due on receipt", "13/45/2026"} {
		_, err := ParseDate(raw)
		assert.Error(t, err, raw)
	}
}

func TestNormalizeAddressFull(t *testing.T) {
	addr := NormalizeAddress("123  MAIN ST,  SPRINGFIELD, tx 75001")
	require.NotNil(t, addr)
	assert.Equal(t, "123 Main St", addr.Street)
	assert.Equal(t, "Springfield", addr.City)
	assert.Equal(t, "TX", addr.State)
	assert.Equal(t, "75001", addr.ZipCode)
	assert.Equal(t, "123 MAIN ST, SPRINGFIELD, tx 75001", addr.Full)
}

func TestNormalizeAddressPlus4(t *testing.T) {
	addr := NormalizeAddress("500 Oak Ave, Houston, TX 77002-1234")
	require.NotNil(t, addr)
	assert.Equal(t, "77002-1234", addr.ZipCode)
}

func TestNormalizeAddressNoStreetNumber(t *testing.T) {
	addr := NormalizeAddress("Rural Route 4, Lubbock, Texas 79401")
	require.NotNil(t, addr)
	assert.Equal(t, "Lubbock", addr.City)
	assert.Equal(t, "TX", addr.State)
}

func TestNormalizeAddressUnstructured(t *testing.T) {
	addr := NormalizeAddress("  PARCEL 42 BLOCK 7  ")
	require.NotNil(t, addr)
	assert.Equal(t, "PARCEL 42 BLOCK 7", addr.Full)
	assert.Empty(t, addr.Street)
	assert.Empty(t, addr.State)
}

func TestNormalizeAddressEmpty(t *testing.T) {
	assert.Nil(t, NormalizeAddress("   "))
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, "TX", NormalizeState(" tx "))
	assert.Equal(t, "TX", NormalizeState("Texas"))
	assert.Equal(t, "NC", NormalizeState("north carolina"))
	assert.Equal(t, "ZZ", NormalizeState("zz"))
}

func TestNormalizeZip(t *testing.T) {
	assert.Equal(t, "75001", NormalizeZip("75001"))
	assert.Equal(t, "75001-1234", NormalizeZip("750011234"))
	assert.Equal(t, "75001-1234", NormalizeZip("75001-1234"))
	assert.Equal(t, "75", NormalizeZip("75"))
}
