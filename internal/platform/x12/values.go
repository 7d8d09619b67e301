package x12

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	dateLayout      = "20060102"
	shortDateLayout = "060102"
	timeLayout      = "1504"
)

// FormatAmount renders a monetary amount as an X12 R element: at most two
// decimal places with trailing zeros removed ("100", "99.5", "12.34").
func FormatAmount(d decimal.Decimal) string {
	return d.Round(2).String()
}

// ParseAmount parses an X12 R element. An empty element is zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// ParseQuantity parses an X12 quantity element, defaulting to def when empty.
// Fractional quantities such as anesthesia units are kept as given.
func ParseQuantity(s string, def decimal.Decimal) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return d, nil
}

// FormatDate renders a CCYYMMDD date.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDate parses a CCYYMMDD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatControlNumber renders a control number zero-padded to width digits.
func FormatControlNumber(n int64, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}

// ParseControlNumber parses a numeric control number element.
func ParseControlNumber(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid control number %q: %w", s, err)
	}
	return n, nil
}

// Pad left-justifies s in a fixed-width field, truncating when longer. ISA
// elements are fixed width.
func Pad(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
