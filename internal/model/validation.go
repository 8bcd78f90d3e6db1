package model

// ValidationReason is a machine-readable code explaining why the
// validator flagged or rejected an extracted value.
type ValidationReason string

const (
	// ReasonMarkupContent means the raw value looked like HTML or script
	// rather than data.
	ReasonMarkupContent ValidationReason = "markup_content"
	// ReasonAmountOutOfRange means the amount fell outside the configured
	// plausibility window.
	ReasonAmountOutOfRange ValidationReason = "amount_out_of_range"
	// ReasonTaxValueRatio means the tax candidate fell outside the
	// configured percentage band of the known property value.
	ReasonTaxValueRatio ValidationReason = "tax_value_ratio"
	// ReasonUnparseable means a field could not be parsed into its
	// canonical form (currency, date, address).
	ReasonUnparseable ValidationReason = "unparseable"
	// ReasonMissingAmount means the strategy returned no amount candidate
	// at all.
	ReasonMissingAmount ValidationReason = "missing_amount"
)

// ValidationReport is attached to an ExtractionResult when the
// validator flags an anomaly. It carries a reason code, not just a
// boolean, so operators can distinguish failure modes.
type ValidationReport struct {
	Reason   ValidationReason `json:"reason"`
	Field    string           `json:"field,omitempty"`
	RawValue string           `json:"raw_value,omitempty"`
	Message  string           `json:"message,omitempty"`
}
