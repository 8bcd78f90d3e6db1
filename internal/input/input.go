// Package input loads work items from CSV and XLSX batch files.
//
// Both formats share a header-mapped layout: the first row names the
// columns, and rows map onto work items by header name. Recognized
// headers are listed in columnAliases; unknown columns are ignored so
// operators can keep bookkeeping columns in their spreadsheets.
package input

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxbill-cli/internal/model"
)

// columnAliases maps normalized header names onto canonical fields.
// Batch files come from several county workflows with slightly
// different conventions, so each field accepts a few spellings.
var columnAliases = map[string]string{
	"id":                "id",
	"item_id":           "id",
	"name":              "name",
	"owner":             "name",
	"owner_name":        "name",
	"url":               "url",
	"source_url":        "url",
	"tax_url":           "url",
	"bill_url":          "url",
	"source_key":        "source_key",
	"source":            "source_key",
	"account_number":    "account_number",
	"account":           "account_number",
	"parcel":            "account_number",
	"parcel_id":         "account_number",
	"can":               "account_number",
	"prior_year_amount": "prior_year_amount",
	"prior_amount":      "prior_year_amount",
	"last_year_tax":     "prior_year_amount",
	"property_value":    "property_value",
	"assessed_value":    "property_value",
	"jurisdiction":      "jurisdiction",
	"county":            "jurisdiction",
	"state":             "state",
	"extraction_steps":  "extraction_steps",
	"steps":             "extraction_steps",
}

// normalizeHeader lowercases a header cell and collapses spaces and
// dashes to underscores so "Account Number" matches "account_number".
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// mapHeader resolves each header cell to its canonical field name, or
// "" for unrecognized columns.
func mapHeader(header []string) []string {
	fields := make([]string, len(header))
	for i, h := range header {
		fields[i] = columnAliases[normalizeHeader(h)]
	}
	return fields
}

// rowToItem builds a WorkItem from one data row. rowNum is 1-based and
// includes the header, matching what operators see in their editor.
func rowToItem(fields []string, row []string, rowNum int) (model.WorkItem, error) {
	var item model.WorkItem
	for i, cell := range row {
		if i >= len(fields) || fields[i] == "" {
			continue
		}
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		switch fields[i] {
		case "id":
			item.ID = cell
		case "name":
			item.Name = cell
		case "url":
			item.SourceURL = cell
		case "source_key":
			item.SourceKey = strings.ToLower(cell)
		case "account_number":
			item.Hints.AccountNumber = cell
		case "prior_year_amount":
			v, err := parseAmountCell(cell)
			if err != nil {
				return item, eris.Wrapf(err, "input: row %d: prior_year_amount", rowNum)
			}
			item.Hints.PriorYearAmount = v
		case "property_value":
			v, err := parseAmountCell(cell)
			if err != nil {
				return item, eris.Wrapf(err, "input: row %d: property_value", rowNum)
			}
			item.Hints.PropertyValue = v
		case "jurisdiction":
			item.Hints.Jurisdiction = cell
		case "state":
			item.Hints.State = strings.ToUpper(cell)
		case "extraction_steps":
			item.Hints.ExtractionSteps = cell
		}
	}

	if item.SourceURL == "" {
		return item, eris.Errorf("input: row %d: missing source url", rowNum)
	}
	if item.ID == "" {
		item.ID = fmt.Sprintf("row-%d", rowNum)
	}
	item.SourceKey = item.DeriveSourceKey()
	return item, nil
}

// parseAmountCell accepts plain numbers plus the currency formatting
// spreadsheets tend to carry ("$1,234.56").
func parseAmountCell(cell string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(cell)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse amount %q", cell)
	}
	return v, nil
}

// Load reads work items from path, dispatching on the file extension.
// Row order is preserved.
func Load(path string) ([]model.WorkItem, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".csv"):
		return LoadCSV(path)
	case strings.HasSuffix(strings.ToLower(path), ".xlsx"):
		return LoadXLSX(path)
	default:
		return nil, eris.Errorf("input: unsupported file type %q (want .csv or .xlsx)", path)
	}
}
