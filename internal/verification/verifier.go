// Package verification scores extracted receipt fields against the purchase
// request they are supposed to corroborate.
package verification

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-approval/internal/core/compare"
)

type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

var (
	amountTolerancePct = decimal.NewFromInt(2)
	amountToleranceAbs = decimal.NewFromInt(2)
)

const dateToleranceDays = 1

// ExtractedFields is what the vision service read off a receipt. Any field may
// be missing.
type ExtractedFields struct {
	Vendor *string          `json:"vendor"`
	Amount *decimal.Decimal `json:"amount"`
	Date   *time.Time       `json:"date"`
	Items  []string         `json:"items,omitempty"`
}

func (f ExtractedFields) Empty() bool {
	return (f.Vendor == nil || *f.Vendor == "") && f.Amount == nil && f.Date == nil
}

// Expectation is the request a receipt is checked against.
type Expectation struct {
	Vendor string
	Amount decimal.Decimal
	Date   time.Time
}

type Result struct {
	Extracted      ExtractedFields `json:"extracted"`
	VendorMatch    bool            `json:"vendor_match"`
	AmountMatch    bool            `json:"amount_match"`
	DateMatch      bool            `json:"date_match"`
	Confidence     int             `json:"confidence"`
	Recommendation Recommendation  `json:"recommendation"`
	Concerns       []string        `json:"concerns"`
	Fallback       bool            `json:"fallback"`
	Note           string          `json:"note,omitempty"`
}

// Fallback is the result for anything that could not be scored. It never
// approves.
func Fallback(note string) Result {
	return Result{
		Confidence:     0,
		Recommendation: RecommendReview,
		Concerns:       []string{note},
		Fallback:       true,
		Note:           note,
	}
}

// Verify checks vendor, amount and date independently and maps the passing
// combination to a confidence and recommendation.
func Verify(extracted ExtractedFields, expected Expectation) Result {
	if extracted.Empty() {
		res := Fallback("Receipt details could not be extracted; review manually")
		res.Extracted = extracted
		return res
	}

	res := Result{Extracted: extracted}

	if extracted.Vendor != nil {
		res.VendorMatch = compare.VendorsMatch(*extracted.Vendor, expected.Vendor)
	}
	if extracted.Amount != nil {
		res.AmountMatch = compare.AmountWithinTolerance(expected.Amount, *extracted.Amount, amountTolerancePct, amountToleranceAbs)
	}
	dayDiff := 0
	if extracted.Date != nil {
		dayDiff = compare.DayDiff(*extracted.Date, expected.Date)
		res.DateMatch = abs(dayDiff) <= dateToleranceDays
	}

	passed := 0
	for _, ok := range []bool{res.VendorMatch, res.AmountMatch, res.DateMatch} {
		if ok {
			passed++
		}
	}

	switch passed {
	case 3:
		res.Confidence = 95
		res.Recommendation = RecommendApprove
		if dayDiff != 0 {
			res.Concerns = append(res.Concerns, fmt.Sprintf("Receipt date is %s the expense date, within tolerance", dayPhrase(dayDiff)))
		}
	case 2:
		res.Recommendation = RecommendReview
		switch {
		case !res.DateMatch:
			res.Confidence = 75
			res.Concerns = append(res.Concerns, dateConcern(extracted, expected, dayDiff))
		case !res.AmountMatch:
			res.Confidence = 60
			res.Concerns = append(res.Concerns, amountConcern(extracted, expected))
		default:
			res.Confidence = 50
			res.Concerns = append(res.Concerns, vendorConcern(extracted, expected))
		}
	case 1:
		res.Confidence = 30
		res.Recommendation = RecommendReview
		if !res.VendorMatch {
			res.Concerns = append(res.Concerns, vendorConcern(extracted, expected))
		}
		if !res.AmountMatch {
			res.Concerns = append(res.Concerns, amountConcern(extracted, expected))
		}
		if !res.DateMatch {
			res.Concerns = append(res.Concerns, dateConcern(extracted, expected, dayDiff))
		}
	default:
		res.Confidence = 15
		res.Recommendation = RecommendReject
		res.Concerns = append(res.Concerns, "No checks passed: the receipt does not match the request")
	}

	if !res.VendorMatch && !res.AmountMatch {
		res.Recommendation = RecommendReject
	}
	return res
}

func vendorConcern(f ExtractedFields, e Expectation) string {
	if f.Vendor == nil || *f.Vendor == "" {
		return "Vendor could not be read from the receipt"
	}
	return fmt.Sprintf("Vendor mismatch: receipt shows %q, request says %q", *f.Vendor, e.Vendor)
}

func amountConcern(f ExtractedFields, e Expectation) string {
	if f.Amount == nil {
		return "Amount could not be read from the receipt"
	}
	diff := compare.Difference(e.Amount, *f.Amount)
	return fmt.Sprintf("Amount mismatch: receipt shows $%s, request says $%s (off by $%s)",
		f.Amount.StringFixed(2), e.Amount.StringFixed(2), diff.StringFixed(2))
}

func dateConcern(f ExtractedFields, e Expectation, dayDiff int) string {
	if f.Date == nil {
		return "Date could not be read from the receipt"
	}
	return fmt.Sprintf("Date mismatch: receipt dated %s, expense date %s (%s)",
		f.Date.Format(time.DateOnly), e.Date.Format(time.DateOnly), dayPhrase(dayDiff))
}

func dayPhrase(diff int) string {
	unit := "days"
	if abs(diff) == 1 {
		unit = "day"
	}
	if diff > 0 {
		return fmt.Sprintf("%d %s after", diff, unit)
	}
	return fmt.Sprintf("%d %s before", -diff, unit)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
