package extract

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
)

// Keyword lists for locating the billed amount in arbitrary portal
// markup. Rows mentioning assessed/market values are skipped so a
// property value is never mistaken for the bill.
var (
	taxKeywords = []string{
		"total current taxes due", "final total amount due", "current amount due",
		"taxes due", "tax due", "amount due", "total due", "balance due",
		"current due", "total tax", "tax amount",
	}
	valueKeywords = []string{
		"assessed value", "property value", "market value", "land value",
		"improvement value", "total value", "appraised value", "taxable value",
	}
)

var dueDateRe = regexp.MustCompile(`(?i)due\s*(?:date|by|on)?[:\s]*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)

// GenericStrategy is the best-effort fallback for sources without a
// registered strategy. It scans page tables for rows that look like a
// bill line, filtered to a plausible tax window.
type GenericStrategy struct {
	fetcher *Fetcher

	// Amount window used to reject line-item noise and property values
	// before validation proper runs.
	minAmount float64
	maxAmount float64
}

// NewGenericStrategy creates the fallback strategy.
func NewGenericStrategy(f *Fetcher) *GenericStrategy {
	return &GenericStrategy{fetcher: f, minAmount: 100, maxAmount: 50000}
}

func (s *GenericStrategy) Name() string { return "generic" }

// FetchAndParse fetches the item's URL and scans the page for the
// amount due, due date, and property details.
func (s *GenericStrategy) FetchAndParse(ctx context.Context, item model.WorkItem, sess *resilience.Session) (model.RawFields, error) {
	body, _, err := s.fetcher.Get(ctx, sess, item.SourceURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "generic: parse html")
	}

	fields := model.RawFields{}

	if amount := s.findAmountInTables(doc); amount != "" {
		fields[model.FieldAmountDue] = amount
	} else if amount := s.findAmountInText(doc); amount != "" {
		fields[model.FieldAmountDue] = amount
	}

	if m := dueDateRe.FindStringSubmatch(doc.Text()); m != nil {
		fields[model.FieldDueDate] = m[1]
	}

	s.findLabeledCells(doc, fields)

	if len(fields) == 0 {
		return nil, resilience.NewParseNotFoundError(
			eris.Errorf("generic: no recognizable tax fields at %s", item.SourceURL))
	}
	return fields, nil
}

// findAmountInTables walks table rows looking for a tax keyword with a
// dollar amount in the same row, skipping rows about property values.
func (s *GenericStrategy) findAmountInTables(doc *goquery.Document) string {
	var found string
	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		text := strings.ToLower(row.Text())

		for _, kw := range valueKeywords {
			if strings.Contains(text, kw) {
				return true // skip row, keep scanning
			}
		}

		for _, kw := range taxKeywords {
			if !strings.Contains(text, kw) {
				continue
			}
			amounts := filterTaxAmounts(extractDollarAmounts(row.Text()), s.minAmount, s.maxAmount)
			if len(amounts) > 0 {
				found = amounts[0]
				return false
			}
		}
		return true
	})
	return found
}

// findAmountInText falls back to scanning the whole page text when no
// table row matched.
func (s *GenericStrategy) findAmountInText(doc *goquery.Document) string {
	text := strings.ToLower(doc.Text())
	for _, kw := range taxKeywords {
		idx := strings.Index(text, kw)
		if idx < 0 {
			continue
		}
		// Look for an amount within a short window after the keyword.
		end := idx + len(kw) + 120
		if end > len(text) {
			end = len(text)
		}
		amounts := filterTaxAmounts(extractDollarAmounts(text[idx:end]), s.minAmount, s.maxAmount)
		if len(amounts) > 0 {
			return amounts[0]
		}
	}
	return ""
}

// findLabeledCells pulls label/value pairs out of adjacent table cells.
func (s *GenericStrategy) findLabeledCells(doc *goquery.Document, fields model.RawFields) {
	labels := map[string]string{
		"account number":   model.FieldAccountNumber,
		"account no":       model.FieldAccountNumber,
		"parcel number":    model.FieldAccountNumber,
		"property address": model.FieldAddress,
		"situs address":    model.FieldAddress,
	}

	doc.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(cell.Text()))
		key, ok := labels[strings.TrimSuffix(label, ":")]
		if !ok {
			return
		}
		if _, exists := fields[key]; exists {
			return
		}
		value := strings.TrimSpace(cell.Next().Text())
		if value != "" {
			fields[key] = value
		}
	})
}
