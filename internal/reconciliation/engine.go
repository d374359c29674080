package reconciliation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-approval/internal/core/compare"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
)

const (
	DefaultMatchThreshold    = 50
	DefaultAutoLinkThreshold = 70

	vendorPoints = 30
)

var amountAbsoluteLimit = decimal.NewFromInt(5)

// Engine scores one vendor order against candidate purchase requests. It
// holds no state beyond its thresholds and is safe for concurrent use.
type Engine struct {
	VendorFamily      string
	MatchThreshold    int
	AutoLinkThreshold int
}

func NewEngine(vendorFamily string, matchThreshold, autoLinkThreshold int) Engine {
	if matchThreshold <= 0 {
		matchThreshold = DefaultMatchThreshold
	}
	if autoLinkThreshold <= 0 {
		autoLinkThreshold = DefaultAutoLinkThreshold
	}
	return Engine{
		VendorFamily:      vendorFamily,
		MatchThreshold:    matchThreshold,
		AutoLinkThreshold: autoLinkThreshold,
	}
}

// FindBestMatch returns the highest scoring candidate, or nil when nothing
// reaches the match threshold. Candidates outside the vendor family are
// skipped. On a tie the earliest candidate in the given order wins.
func (e Engine) FindBestMatch(order Order, candidates []*purchase.PurchaseRequest) *MatchResult {
	var (
		best        *purchase.PurchaseRequest
		bestScore   int
		bestReasons []string
	)

	for _, c := range candidates {
		if c == nil || !compare.IsVendorFamily(c.VendorName, c.VendorType, e.VendorFamily) {
			continue
		}
		score, reasons := e.Score(order, c)
		if best == nil || score > bestScore {
			best, bestScore, bestReasons = c, score, reasons
		}
	}

	if best == nil || bestScore < e.MatchThreshold {
		return nil
	}

	return &MatchResult{
		RequestID:  best.ID,
		Confidence: bestScore,
		Reasons:    bestReasons,
		AutoLink:   bestScore >= e.AutoLinkThreshold,
	}
}

// Score adds the vendor, amount and date components for one candidate that
// is already known to be in the vendor family. Reasons follow that order.
func (e Engine) Score(order Order, req *purchase.PurchaseRequest) (int, []string) {
	score := vendorPoints
	reasons := []string{fmt.Sprintf("Vendor matches %s", e.VendorFamily)}

	total := order.Total()
	expected := req.TotalAmount
	switch compare.ClassifyAmount(expected, total, amountAbsoluteLimit) {
	case compare.AmountExact:
		score += 40
		reasons = append(reasons, fmt.Sprintf("Exact amount match ($%s)", total.StringFixed(2)))
	case compare.AmountWithin5Pct:
		score += 35
		reasons = append(reasons, fmt.Sprintf("Amount within 5%% ($%s vs $%s)", total.StringFixed(2), expected.StringFixed(2)))
	case compare.AmountWithin10Pct:
		score += 25
		reasons = append(reasons, fmt.Sprintf("Amount within 10%% ($%s vs $%s)", total.StringFixed(2), expected.StringFixed(2)))
	case compare.AmountWithinAbsolute:
		score += 20
		reasons = append(reasons, fmt.Sprintf("Amount within $5 ($%s vs $%s)", total.StringFixed(2), expected.StringFixed(2)))
	}

	days := compare.AbsDayDiff(order.CreatedAt, req.ExpenseDate)
	switch {
	case days <= 1:
		score += 30
		reasons = append(reasons, dateReason(days, 1))
	case days <= 3:
		score += 25
		reasons = append(reasons, dateReason(days, 3))
	case days <= 7:
		score += 15
		reasons = append(reasons, dateReason(days, 7))
	case days <= 14:
		score += 5
		reasons = append(reasons, dateReason(days, 14))
	}

	if score > 100 {
		score = 100
	}
	return score, reasons
}

func dateReason(days, window int) string {
	if days == 0 {
		return "Order placed on the expense date"
	}
	unit := "days"
	if window == 1 {
		unit = "day"
	}
	return fmt.Sprintf("Order date within %d %s of expense date (%d apart)", window, unit, days)
}
