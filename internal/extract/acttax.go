package extract

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
)

// ActTaxStrategy handles ACT tax-office portals (actweb.acttax.com and
// county sites built on the same software). Statements are plain HTML
// with the account number carried in the `can` query parameter.
type ActTaxStrategy struct {
	fetcher *Fetcher
}

// NewActTaxStrategy creates the ACT portal strategy.
func NewActTaxStrategy(f *Fetcher) *ActTaxStrategy {
	return &ActTaxStrategy{fetcher: f}
}

func (s *ActTaxStrategy) Name() string { return "acttax" }

func (s *ActTaxStrategy) FetchAndParse(ctx context.Context, item model.WorkItem, sess *resilience.Session) (model.RawFields, error) {
	body, _, err := s.fetcher.Get(ctx, sess, item.SourceURL)
	if err != nil {
		return nil, err
	}

	fields := model.RawFields{}

	// Account number rides in the statement URL.
	if u, err := url.Parse(item.SourceURL); err == nil {
		if can := u.Query().Get("can"); can != "" {
			fields[model.FieldAccountNumber] = can
		}
	}

	amounts := filterTaxAmounts(extractDollarAmounts(string(body)), 100, 50000)
	if len(amounts) > 0 {
		fields[model.FieldAmountDue] = amounts[0]
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "acttax: parse html")
	}

	// Statement pages lay details out as label/value cell pairs.
	cells := doc.Find("td")
	cells.Each(func(i int, cell *goquery.Selection) {
		text := strings.TrimSpace(cell.Text())
		next := cells.Eq(i + 1)
		switch {
		case strings.Contains(text, "Property Address"):
			fields[model.FieldAddress] = strings.TrimSpace(next.Text())
		case strings.Contains(text, "Due Date"):
			fields[model.FieldDueDate] = strings.TrimSpace(next.Text())
		}
	})

	if _, ok := fields[model.FieldAmountDue]; !ok {
		return nil, resilience.NewParseNotFoundError(
			eris.Errorf("acttax: no amount on statement %s", item.SourceURL))
	}
	return fields, nil
}
