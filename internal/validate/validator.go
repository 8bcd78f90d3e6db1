// Package validate checks extracted values for plausibility and
// normalizes them into canonical forms. Validation never fails the
// caller with an error: every input produces an Outcome the engine can
// turn into an ExtractionResult.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/sells-group/taxbill-cli/internal/model"
)

// Band is an inclusive tax-to-property-value ratio window.
type Band struct {
	Min float64
	Max float64
}

// Config controls plausibility checks. The ratio band is an empirical
// per-jurisdiction heuristic, so it is overridable per source.
type Config struct {
	// MinAmount and MaxAmount bound the plausible tax window.
	// Defaults: 100 and 100000.
	MinAmount float64
	MaxAmount float64

	// DefaultBand is the accepted tax/property-value ratio window,
	// inclusive at both edges. Default: 0.005..0.03.
	DefaultBand Band

	// PerSourceBand overrides the band for specific source keys.
	PerSourceBand map[string]Band
}

// DefaultConfig returns the default plausibility bounds.
func DefaultConfig() Config {
	return Config{
		MinAmount:   100,
		MaxAmount:   100000,
		DefaultBand: Band{Min: 0.005, Max: 0.03},
	}
}

// Outcome is the validator's verdict for one set of raw fields.
type Outcome struct {
	Status    model.ResultStatus
	AmountDue float64
	DueDate   *time.Time
	Address   *model.Address
	Report    *model.ValidationReport
}

// Validator applies malformed-content detection, range checks,
// tax-vs-property-value disambiguation, and normalization, in that
// order.
type Validator struct {
	cfg      Config
	stripper *bluemonday.Policy
}

// New creates a Validator.
func New(cfg Config) *Validator {
	if cfg.MinAmount <= 0 {
		cfg.MinAmount = 100
	}
	if cfg.MaxAmount <= cfg.MinAmount {
		cfg.MaxAmount = 100000
	}
	if cfg.DefaultBand.Min <= 0 || cfg.DefaultBand.Max <= cfg.DefaultBand.Min {
		cfg.DefaultBand = Band{Min: 0.005, Max: 0.03}
	}
	return &Validator{
		cfg:      cfg,
		stripper: bluemonday.StrictPolicy(),
	}
}

// Validate checks the raw fields extracted for an item and produces
// the normalized outcome. The item supplies the source key (for band
// overrides) and hint fields (known property value).
func (v *Validator) Validate(item model.WorkItem, fields model.RawFields) Outcome {
	rawAmount, ok := fields[model.FieldAmountDue]
	if !ok || strings.TrimSpace(rawAmount) == "" {
		return failed(model.ReasonMissingAmount, model.FieldAmountDue, rawAmount,
			"strategy returned no amount-due candidate")
	}

	// (a) Malformed-content detection: markup is never data.
	if v.LooksLikeMarkup(rawAmount) {
		return failed(model.ReasonMarkupContent, model.FieldAmountDue, rawAmount,
			"value looks like markup, not data")
	}

	amount, err := ParseCurrency(rawAmount)
	if err != nil {
		return failed(model.ReasonUnparseable, model.FieldAmountDue, rawAmount, err.Error())
	}

	// (b) Plausibility window.
	if amount < v.cfg.MinAmount || amount > v.cfg.MaxAmount {
		return failed(model.ReasonAmountOutOfRange, model.FieldAmountDue, rawAmount,
			fmt.Sprintf("amount %.2f outside plausible window [%.2f, %.2f]",
				amount, v.cfg.MinAmount, v.cfg.MaxAmount))
	}

	out := Outcome{Status: model.StatusSuccess, AmountDue: amount}

	// (c) Tax-vs-property-value disambiguation, when a value is known.
	if pv := v.propertyValue(item, fields); pv > 0 {
		band := v.bandFor(item.DeriveSourceKey())
		ratio := amount / pv
		if ratio < band.Min || ratio > band.Max {
			out.Status = model.StatusPartial
			out.Report = &model.ValidationReport{
				Reason:   model.ReasonTaxValueRatio,
				Field:    model.FieldAmountDue,
				RawValue: rawAmount,
				Message: fmt.Sprintf("tax/value ratio %.4f outside band [%.4f, %.4f]",
					ratio, band.Min, band.Max),
			}
		}
	}

	// (d) Normalization of the optional fields; best-effort.
	if raw, ok := fields[model.FieldDueDate]; ok {
		if due, err := ParseDate(raw); err == nil {
			out.DueDate = &due
		}
	}
	if raw, ok := fields[model.FieldAddress]; ok && !v.LooksLikeMarkup(raw) {
		out.Address = NormalizeAddress(raw)
	}

	return out
}

var markupRe = regexp.MustCompile(`<\s*/?\s*[a-zA-Z!][^>]*>`)

// LooksLikeMarkup reports whether a value is an HTML/script fragment
// rather than data: stripping tags changes it, or it contains tag or
// script syntax.
func (v *Validator) LooksLikeMarkup(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	if markupRe.MatchString(trimmed) {
		return true
	}
	if strings.Contains(strings.ToLower(trimmed), "javascript:") {
		return true
	}
	return v.stripper.Sanitize(trimmed) != trimmed
}

// propertyValue resolves the known property value: the strategy's
// parsed field wins over the work item hint.
func (v *Validator) propertyValue(item model.WorkItem, fields model.RawFields) float64 {
	if raw, ok := fields[model.FieldPropertyValue]; ok {
		if pv, err := ParseCurrency(raw); err == nil && pv > 0 {
			return pv
		}
	}
	return item.Hints.PropertyValue
}

func (v *Validator) bandFor(sourceKey string) Band {
	if band, ok := v.cfg.PerSourceBand[sourceKey]; ok && band.Max > band.Min {
		return band
	}
	return v.cfg.DefaultBand
}

func failed(reason model.ValidationReason, field, raw, msg string) Outcome {
	return Outcome{
		Status: model.StatusFailed,
		Report: &model.ValidationReport{
			Reason:   reason,
			Field:    field,
			RawValue: raw,
			Message:  msg,
		},
	}
}
