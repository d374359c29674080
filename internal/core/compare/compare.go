// Package compare holds the field comparisons shared by order matching and
// receipt verification: vendor names, money amounts and calendar dates.
package compare

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// NormalizeVendor lowercases s and drops every rune that is not a letter or digit.
func NormalizeVendor(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// VendorsMatch reports whether the normalized names are equal or one contains
// the other. Names that normalize to nothing never match.
func VendorsMatch(a, b string) bool {
	na, nb := NormalizeVendor(a), NormalizeVendor(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

// IsVendorFamily reports whether a request belongs to the vendor family, either
// through its vendor type tag or through its vendor name. "GoDaddy", "Go Daddy"
// and "go-daddy.com" all identify the GoDaddy family.
func IsVendorFamily(vendorName, vendorType, family string) bool {
	nf := NormalizeVendor(family)
	if nf == "" {
		return false
	}
	if NormalizeVendor(vendorType) == nf {
		return true
	}
	return strings.Contains(NormalizeVendor(vendorName), nf)
}

// AmountTier classifies how close two amounts are, from exact down to no match.
type AmountTier int

const (
	AmountMismatch AmountTier = iota
	AmountWithinAbsolute
	AmountWithin10Pct
	AmountWithin5Pct
	AmountExact
)

func (t AmountTier) String() string {
	switch t {
	case AmountExact:
		return "exact"
	case AmountWithin5Pct:
		return "within_5_percent"
	case AmountWithin10Pct:
		return "within_10_percent"
	case AmountWithinAbsolute:
		return "within_absolute"
	default:
		return "mismatch"
	}
}

// Difference returns |actual - expected|.
func Difference(expected, actual decimal.Decimal) decimal.Decimal {
	return actual.Sub(expected).Abs()
}

// WithinPercent reports whether actual is within pct percent of expected.
// A zero expected amount never satisfies a percentage bound.
func WithinPercent(expected, actual, pct decimal.Decimal) bool {
	if expected.IsZero() {
		return false
	}
	limit := expected.Abs().Mul(pct).Div(hundred)
	return Difference(expected, actual).LessThanOrEqual(limit)
}

// WithinAbsolute reports whether |actual - expected| <= limit.
func WithinAbsolute(expected, actual, limit decimal.Decimal) bool {
	return Difference(expected, actual).LessThanOrEqual(limit)
}

// AmountsEqual compares at cent precision.
func AmountsEqual(expected, actual decimal.Decimal) bool {
	return expected.Round(2).Equal(actual.Round(2))
}

// ClassifyAmount buckets actual against expected: exact, within 5%, within 10%,
// otherwise within absoluteLimit, otherwise mismatch.
func ClassifyAmount(expected, actual, absoluteLimit decimal.Decimal) AmountTier {
	switch {
	case AmountsEqual(expected, actual):
		return AmountExact
	case WithinPercent(expected, actual, decimal.NewFromInt(5)):
		return AmountWithin5Pct
	case WithinPercent(expected, actual, decimal.NewFromInt(10)):
		return AmountWithin10Pct
	case WithinAbsolute(expected, actual, absoluteLimit):
		return AmountWithinAbsolute
	default:
		return AmountMismatch
	}
}

// AmountWithinTolerance is satisfied by either bound.
func AmountWithinTolerance(expected, actual, pct, absoluteLimit decimal.Decimal) bool {
	return WithinPercent(expected, actual, pct) || WithinAbsolute(expected, actual, absoluteLimit)
}

// DayDiff returns the signed number of calendar days from b to a (a - b),
// evaluated on UTC dates so the time of day does not matter.
func DayDiff(a, b time.Time) int {
	da := truncateDay(a)
	db := truncateDay(b)
	return int(da.Sub(db).Hours() / 24)
}

// AbsDayDiff is |DayDiff(a, b)|.
func AbsDayDiff(a, b time.Time) int {
	d := DayDiff(a, b)
	if d < 0 {
		return -d
	}
	return d
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
