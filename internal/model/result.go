package model

import "time"

// ResultStatus is the terminal status of a work item after processing.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusPartial ResultStatus = "partial"
	StatusFailed  ResultStatus = "failed"
	StatusSkipped ResultStatus = "skipped"
)

// RawFields is the strategy-specific structured payload parsed from a
// source page, before validation and normalization.
type RawFields map[string]string

// Well-known RawFields keys produced by strategies and consumed by the
// validator.
const (
	FieldAmountDue     = "amount_due"
	FieldDueDate       = "due_date"
	FieldAccountNumber = "account_number"
	FieldAddress       = "property_address"
	FieldPropertyValue = "property_value"
)

// ExtractionResult is the outcome for one WorkItem. Created once per
// item per run and never mutated afterwards.
type ExtractionResult struct {
	WorkItemID  string             `json:"work_item_id"`
	SourceKey   string             `json:"source_key"`
	Status      ResultStatus       `json:"status"`
	AmountDue   float64            `json:"amount_due,omitempty"`
	DueDate     *time.Time         `json:"due_date,omitempty"`
	Address     *Address           `json:"address,omitempty"`
	RawFields   RawFields          `json:"raw_fields,omitempty"`
	Error       string             `json:"error,omitempty"`
	ErrorKind   string             `json:"error_kind,omitempty"`
	Validation  *ValidationReport  `json:"validation,omitempty"`
	Attempts    int                `json:"attempts"`
	CacheHit    bool               `json:"cache_hit,omitempty"`
	Duration    time.Duration      `json:"duration_ns"`
	ExtractedAt time.Time          `json:"extracted_at"`
}

// Terminal reports whether the result carries a final status. Results
// always should; this guards against zero-value construction bugs in
// tests and the store layer.
func (r ExtractionResult) Terminal() bool {
	switch r.Status {
	case StatusSuccess, StatusPartial, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Address is a normalized postal address.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Full    string `json:"full"`
}
