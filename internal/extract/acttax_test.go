package extract

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
)

const actTaxStatement = `<html><body>
<table>
  <tr><td>Property Address</td><td>456 Oak Blvd, Katy, TX 77449</td></tr>
  <tr><td>Due Date</td><td>01/31/2026</td></tr>
  <tr><td>Total Amount Due</td><td>$2,310.87</td></tr>
</table>
</body></html>`

func TestActTaxStrategyParsesStatement(t *testing.T) {
	url := "https://actweb.acttax.com/act_webdev/harris/showdetail2.jsp?can=0660640130020"
	sess, mt := mockSession(t)
	mt.RegisterResponder("GET", url, httpmock.NewStringResponder(200, actTaxStatement))

	s := NewActTaxStrategy(NewFetcher(nil, ""))
	fields, err := s.FetchAndParse(context.Background(),
		model.WorkItem{ID: "1", SourceURL: url}, sess)
	require.NoError(t, err)

	assert.Equal(t, "$2,310.87", fields[model.FieldAmountDue])
	assert.Equal(t, "0660640130020", fields[model.FieldAccountNumber])
	assert.Equal(t, "456 Oak Blvd, Katy, TX 77449", fields[model.FieldAddress])
	assert.Equal(t, "01/31/2026", fields[model.FieldDueDate])
}

func TestActTaxStrategyNoAmountIsParseMiss(t *testing.T) {
	url := "https://actweb.acttax.com/act_webdev/harris/showdetail2.jsp?can=999"
	sess, mt := mockSession(t)
	mt.RegisterResponder("GET", url,
		httpmock.NewStringResponder(200, "<html><body>No records matched your search.</body></html>"))

	s := NewActTaxStrategy(NewFetcher(nil, ""))
	_, err := s.FetchAndParse(context.Background(),
		model.WorkItem{ID: "1", SourceURL: url}, sess)
	require.Error(t, err)
	assert.Equal(t, resilience.KindParseNotFound, resilience.KindOf(err))
}

func TestActTaxStrategyNoAccountParam(t *testing.T) {
	url := "https://actweb.acttax.com/statement/1"
	sess, mt := mockSession(t)
	mt.RegisterResponder("GET", url, httpmock.NewStringResponder(200, actTaxStatement))

	s := NewActTaxStrategy(NewFetcher(nil, ""))
	fields, err := s.FetchAndParse(context.Background(),
		model.WorkItem{ID: "1", SourceURL: url}, sess)
	require.NoError(t, err)
	_, ok := fields[model.FieldAccountNumber]
	assert.False(t, ok)
}
