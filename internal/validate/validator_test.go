package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxbill-cli/internal/model"
)

func testItem() model.WorkItem {
	return model.WorkItem{
		ID:        "item-1",
		SourceURL: "https://hctax.net/Property/123",
	}
}

func TestValidateSuccess(t *testing.T) {
	v := New(DefaultConfig())

	out := v.Validate(testItem(), model.RawFields{
		model.FieldAmountDue: "$3,847.22",
		model.FieldDueDate:   "01/31/2026",
		model.FieldAddress:   "123 Main St, Houston, TX 77002",
	})

	assert.Equal(t, model.StatusSuccess, out.Status)
	assert.InDelta(t, 3847.22, out.AmountDue, 1e-9)
	require.NotNil(t, out.DueDate)
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), *out.DueDate)
	require.NotNil(t, out.Address)
	assert.Equal(t, "Houston", out.Address.City)
	assert.Nil(t, out.Report)
}

func TestValidateMissingAmount(t *testing.T) {
	v := New(DefaultConfig())

	for _, fields := range []model.RawFields{
		nil,
		{},
		{model.FieldAmountDue: "   "},
	} {
		out := v.Validate(testItem(), fields)
		assert.Equal(t, model.StatusFailed, out.Status)
		require.NotNil(t, out.Report)
		assert.Equal(t, model.ReasonMissingAmount, out.Report.Reason)
	}
}

func TestValidateMarkupRejected(t *testing.T) {
	v := New(DefaultConfig())

	for _, raw := range []string{
		"<span class='amt'>$500</span>",
		"<script>loadBill()</script>",
		"javascript:void(0)",
	} {
		out := v.Validate(testItem(), model.RawFields{model.FieldAmountDue: raw})
		assert.Equal(t, model.StatusFailed, out.Status, raw)
		require.NotNil(t, out.Report, raw)
		assert.Equal(t, model.ReasonMarkupContent, out.Report.Reason, raw)
		assert.Equal(t, raw, out.Report.RawValue, raw)
	}
}

func TestValidateUnparseableAmount(t *testing.T) {
	v := New(DefaultConfig())
	out := v.Validate(testItem(), model.RawFields{model.FieldAmountDue: "call the office"})
	assert.Equal(t, model.StatusFailed, out.Status)
	require.NotNil(t, out.Report)
	assert.Equal(t, model.ReasonUnparseable, out.Report.Reason)
}

func TestValidateAmountWindow(t *testing.T) {
	v := New(DefaultConfig())

	tests := []struct {
		raw  string
		want model.ResultStatus
	}{
		{"$99.99", model.StatusFailed},
		{"$100.00", model.StatusSuccess}, // inclusive lower edge
		{"$100,000.00", model.StatusSuccess},
		{"$100,000.01", model.StatusFailed},
		{"$12.50", model.StatusFailed},
	}
	for _, tt := range tests {
		out := v.Validate(testItem(), model.RawFields{model.FieldAmountDue: tt.raw})
		assert.Equal(t, tt.want, out.Status, tt.raw)
		if tt.want == model.StatusFailed {
			require.NotNil(t, out.Report, tt.raw)
			assert.Equal(t, model.ReasonAmountOutOfRange, out.Report.Reason, tt.raw)
		}
	}
}

func TestValidateRatioBand(t *testing.T) {
	v := New(DefaultConfig())
	item := testItem()
	item.Hints.PropertyValue = 300000

	// 1.5% of value: comfortably inside the default 0.5%..3% band.
	out := v.Validate(item, model.RawFields{model.FieldAmountDue: "$4,500"})
	assert.Equal(t, model.StatusSuccess, out.Status)
	assert.Nil(t, out.Report)

	// 5% of value: the strategy likely grabbed an assessed-value figure.
	out = v.Validate(item, model.RawFields{model.FieldAmountDue: "$15,000"})
	assert.Equal(t, model.StatusPartial, out.Status)
	require.NotNil(t, out.Report)
	assert.Equal(t, model.ReasonTaxValueRatio, out.Report.Reason)
	assert.InDelta(t, 15000, out.AmountDue, 1e-9, "flagged amount is still carried")

	// Band edges are inclusive.
	out = v.Validate(item, model.RawFields{model.FieldAmountDue: "$1,500"}) // exactly 0.5%
	assert.Equal(t, model.StatusSuccess, out.Status)
	out = v.Validate(item, model.RawFields{model.FieldAmountDue: "$9,000"}) // exactly 3%
	assert.Equal(t, model.StatusSuccess, out.Status)
}

func TestValidateRatioSkippedWithoutValue(t *testing.T) {
	v := New(DefaultConfig())
	out := v.Validate(testItem(), model.RawFields{model.FieldAmountDue: "$15,000"})
	assert.Equal(t, model.StatusSuccess, out.Status)
}

func TestValidateParsedPropertyValueWinsOverHint(t *testing.T) {
	v := New(DefaultConfig())
	item := testItem()
	item.Hints.PropertyValue = 100000 // would flag $4,500 at 4.5%

	out := v.Validate(item, model.RawFields{
		model.FieldAmountDue:     "$4,500",
		model.FieldPropertyValue: "$300,000",
	})
	assert.Equal(t, model.StatusSuccess, out.Status)
}

func TestValidatePerSourceBandOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerSourceBand = map[string]Band{
		"hctax.net": {Min: 0.04, Max: 0.06},
	}
	v := New(cfg)
	item := testItem()
	item.Hints.PropertyValue = 300000

	// 5% passes under the override even though the default band would flag it.
	out := v.Validate(item, model.RawFields{model.FieldAmountDue: "$15,000"})
	assert.Equal(t, model.StatusSuccess, out.Status)

	// 1.5% is now below the override band.
	out = v.Validate(item, model.RawFields{model.FieldAmountDue: "$4,500"})
	assert.Equal(t, model.StatusPartial, out.Status)
}

func TestValidateBadOptionalFieldsDoNotFail(t *testing.T) {
	v := New(DefaultConfig())
	out := v.Validate(testItem(), model.RawFields{
		model.FieldAmountDue: "$2,000",
		model.FieldDueDate:   "whenever",
		model.FieldAddress:   "<div>rendering...</div>",
	})
	assert.Equal(t, model.StatusSuccess, out.Status)
	assert.Nil(t, out.DueDate)
	assert.Nil(t, out.Address)
}

func TestLooksLikeMarkup(t *testing.T) {
	v := New(DefaultConfig())

	assert.True(t, v.LooksLikeMarkup("<b>$500</b>"))
	assert.True(t, v.LooksLikeMarkup("<!-- comment -->"))
	assert.True(t, v.LooksLikeMarkup("javascript:alert(1)"))
	assert.False(t, v.LooksLikeMarkup("$3,847.22"))
	assert.False(t, v.LooksLikeMarkup("123 Main St, Houston, TX 77002"))
	assert.False(t, v.LooksLikeMarkup(""))
}

func TestNewAppliesDefaults(t *testing.T) {
	v := New(Config{})
	assert.Equal(t, 100.0, v.cfg.MinAmount)
	assert.Equal(t, 100000.0, v.cfg.MaxAmount)
	assert.Equal(t, Band{Min: 0.005, Max: 0.03}, v.cfg.DefaultBand)
}
