package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/taxbill-cli/internal/model"
)

// Date formats seen across county portals, in rough frequency order.
var dateFormats = []string{
	"01/02/2006",
	"01-02-2006",
	"2006-01-02",
	"01/02/06",
	"01-02-06",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

var currencyJunkRe = regexp.MustCompile(`[^\d.,\-()]`)

// ParseCurrency parses a currency string into a float64, handling
// dollar signs, thousands separators, and parenthesized negatives.
func ParseCurrency(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return 0, eris.New("normalize: empty currency value")
	}

	negative := strings.Contains(cleaned, "(") && strings.Contains(cleaned, ")")
	cleaned = currencyJunkRe.ReplaceAllString(cleaned, "")
	cleaned = strings.NewReplacer("(", "", ")", "", ",", "").Replace(cleaned)
	if strings.HasPrefix(cleaned, "-") {
		negative = true
		cleaned = strings.TrimPrefix(cleaned, "-")
	}
	if cleaned == "" {
		return 0, eris.Errorf("normalize: no digits in currency value %q", raw)
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "normalize: parse currency %q", raw)
	}
	if negative {
		value = -value
	}
	return value, nil
}

// ParseDate parses a date string against the known portal formats.
func ParseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, eris.New("normalize: empty date value")
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("normalize: unparseable date %q", raw)
}

// Address parsing: "123 Main St, Springfield, TX 75001" with an
// optional +4 zip, falling back to street-less and unstructured forms.
var (
	addrFullRe   = regexp.MustCompile(`(?i)^(\d+)\s+(.+?),\s*([^,]+),\s*([A-Za-z]{2})\s*(\d{5}(?:-\d{4})?)$`)
	addrNoNumRe  = regexp.MustCompile(`(?i)^(.+?),\s*([^,]+),\s*([A-Za-z]{2})\s*(\d{5}(?:-\d{4})?)$`)
	zipDigitsRe  = regexp.MustCompile(`[^\d\-]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	zip5Re       = regexp.MustCompile(`^\d{5}$`)
	zip9Re       = regexp.MustCompile(`^\d{9}$`)
	zipPlus4Re   = regexp.MustCompile(`^\d{5}-\d{4}$`)
)

var titleCaser = cases.Title(language.AmericanEnglish)

// stateNames maps common spelled-out state names to codes, for portals
// that don't abbreviate.
var stateNames = map[string]string{
	"TEXAS": "TX", "CALIFORNIA": "CA", "NEW YORK": "NY", "FLORIDA": "FL",
	"ARIZONA": "AZ", "LOUISIANA": "LA", "OKLAHOMA": "OK",
	"NORTH CAROLINA": "NC", "SOUTH CAROLINA": "SC",
}

// NormalizeAddress parses an address into canonical components. When
// no pattern matches, only the whitespace-normalized full string is
// returned.
func NormalizeAddress(raw string) *model.Address {
	cleaned := whitespaceRe.ReplaceAllString(strings.TrimSpace(raw), " ")
	if cleaned == "" {
		return nil
	}

	if m := addrFullRe.FindStringSubmatch(cleaned); m != nil {
		return &model.Address{
			Street:  titleCaser.String(strings.ToLower(m[1] + " " + m[2])),
			City:    titleCaser.String(strings.ToLower(m[3])),
			State:   NormalizeState(m[4]),
			ZipCode: NormalizeZip(m[5]),
			Full:    cleaned,
		}
	}
	if m := addrNoNumRe.FindStringSubmatch(cleaned); m != nil {
		return &model.Address{
			Street:  titleCaser.String(strings.ToLower(m[1])),
			City:    titleCaser.String(strings.ToLower(m[2])),
			State:   NormalizeState(m[3]),
			ZipCode: NormalizeZip(m[4]),
			Full:    cleaned,
		}
	}
	return &model.Address{Full: cleaned}
}

// NormalizeState uppercases a state code, mapping spelled-out names.
func NormalizeState(raw string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	if code, ok := stateNames[cleaned]; ok {
		return code
	}
	return cleaned
}

// NormalizeZip normalizes a ZIP code to 5 or 5+4 form.
func NormalizeZip(raw string) string {
	cleaned := zipDigitsRe.ReplaceAllString(raw, "")
	switch {
	case zip5Re.MatchString(cleaned):
		return cleaned
	case zip9Re.MatchString(cleaned):
		return cleaned[:5] + "-" + cleaned[5:]
	case zipPlus4Re.MatchString(cleaned):
		return cleaned
	}
	return raw
}
