package verification

import (
	"time"

	"github.com/shopspring/decimal"

	receiptDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/receipt"
)

// Analysis is a persisted verification result for one receipt.
type Analysis struct {
	ReceiptID   int64     `json:"receipt_id"`
	RequestID   int64     `json:"request_id"`
	Result      Result    `json:"result"`
	ErrorDetail *string   `json:"error_detail,omitempty"`
	Model       string    `json:"model,omitempty"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
	Cached      bool      `json:"cached"`
	Persisted   bool      `json:"persisted"`
}

func ToDataModel(a *Analysis) *receiptDatamodel.Analysis {
	row := &receiptDatamodel.Analysis{
		ReceiptID:       a.ReceiptID,
		ExtractedVendor: a.Result.Extracted.Vendor,
		ExtractedDate:   a.Result.Extracted.Date,
		ExtractedItems:  a.Result.Extracted.Items,
		VendorMatch:     a.Result.VendorMatch,
		AmountMatch:     a.Result.AmountMatch,
		DateMatch:       a.Result.DateMatch,
		Confidence:      a.Result.Confidence,
		Recommendation:  string(a.Result.Recommendation),
		Concerns:        a.Result.Concerns,
		Fallback:        a.Result.Fallback,
		Note:            a.Result.Note,
		ErrorDetail:     a.ErrorDetail,
		Model:           a.Model,
		AnalyzedAt:      a.AnalyzedAt,
	}
	if a.Result.Extracted.Amount != nil {
		row.ExtractedAmount = decimal.NewNullDecimal(*a.Result.Extracted.Amount)
	}
	return row
}

func FromDataModel(row *receiptDatamodel.Analysis, requestID int64) *Analysis {
	if row == nil {
		return nil
	}
	extracted := ExtractedFields{
		Vendor: row.ExtractedVendor,
		Date:   row.ExtractedDate,
		Items:  row.ExtractedItems,
	}
	if row.ExtractedAmount.Valid {
		amount := row.ExtractedAmount.Decimal
		extracted.Amount = &amount
	}
	return &Analysis{
		ReceiptID: row.ReceiptID,
		RequestID: requestID,
		Result: Result{
			Extracted:      extracted,
			VendorMatch:    row.VendorMatch,
			AmountMatch:    row.AmountMatch,
			DateMatch:      row.DateMatch,
			Confidence:     row.Confidence,
			Recommendation: Recommendation(row.Recommendation),
			Concerns:       row.Concerns,
			Fallback:       row.Fallback,
			Note:           row.Note,
		},
		ErrorDetail: row.ErrorDetail,
		Model:       row.Model,
		AnalyzedAt:  row.AnalyzedAt,
		Persisted:   true,
	}
}
