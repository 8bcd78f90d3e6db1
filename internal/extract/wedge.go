package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
)

// WedgeStrategy handles DEVNET Wedge county portals
// (<county>.devnetwedge.com). Parcel pages are addressable directly by
// account number, which the work item's hints usually carry.
type WedgeStrategy struct {
	fetcher *Fetcher
}

// NewWedgeStrategy creates the Wedge portal strategy.
func NewWedgeStrategy(f *Fetcher) *WedgeStrategy {
	return &WedgeStrategy{fetcher: f}
}

func (s *WedgeStrategy) Name() string { return "wedge" }

func (s *WedgeStrategy) FetchAndParse(ctx context.Context, item model.WorkItem, sess *resilience.Session) (model.RawFields, error) {
	target := item.SourceURL
	if acct := item.Hints.AccountNumber; acct != "" && !strings.Contains(target, "/parcel/") {
		target = strings.TrimSuffix(target, "/") + fmt.Sprintf("/parcel/view/%s", acct)
	}

	body, _, err := s.fetcher.Get(ctx, sess, target)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "wedge: parse html")
	}

	fields := model.RawFields{}
	if acct := item.Hints.AccountNumber; acct != "" {
		fields[model.FieldAccountNumber] = acct
	}

	// Wedge renders panels with a heading cell followed by the value.
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		text := strings.ToLower(row.Text())
		for _, kw := range valueKeywords {
			if strings.Contains(text, kw) {
				return
			}
		}
		if _, ok := fields[model.FieldAmountDue]; ok {
			return
		}
		for _, kw := range taxKeywords {
			if !strings.Contains(text, kw) {
				continue
			}
			amounts := filterTaxAmounts(extractDollarAmounts(row.Text()), 1, 1e7)
			if len(amounts) > 0 {
				fields[model.FieldAmountDue] = amounts[0]
				return
			}
		}
	})

	doc.Find("td, div").Each(func(_ int, cell *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(cell.AttrOr("data-label", "")))
		if label == "" {
			return
		}
		value := strings.TrimSpace(cell.Text())
		switch {
		case strings.Contains(label, "site address"):
			fields[model.FieldAddress] = value
		case strings.Contains(label, "due date"):
			fields[model.FieldDueDate] = value
		}
	})

	if _, ok := fields[model.FieldAmountDue]; !ok {
		return nil, resilience.NewParseNotFoundError(
			eris.Errorf("wedge: no amount due on parcel page %s", target))
	}
	return fields, nil
}
