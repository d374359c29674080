package purchase

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-approval/internal"
	"github.com/frahmantamala/purchase-approval/internal/core/common/validation"
)

const DateLayout = "2006-01-02"

// CreateRequestDTO is the payload for a new purchase request. TotalAmount is
// optional; when present it must equal purchase + tax + shipping.
type CreateRequestDTO struct {
	VendorName     string           `json:"vendor_name"`
	VendorType     string           `json:"vendor_type,omitempty"`
	Description    string           `json:"description,omitempty"`
	PurchaseAmount decimal.Decimal  `json:"purchase_amount"`
	TaxAmount      decimal.Decimal  `json:"tax_amount"`
	ShippingAmount decimal.Decimal  `json:"shipping_amount"`
	TotalAmount    *decimal.Decimal `json:"total_amount,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	ExpenseDate    string           `json:"expense_date"`
	Submit         bool             `json:"submit"`
	SignatureRef   *string          `json:"signature_ref,omitempty"`
}

// ComputedTotal is purchase + tax + shipping.
func (dto CreateRequestDTO) ComputedTotal() decimal.Decimal {
	return dto.PurchaseAmount.Add(dto.TaxAmount).Add(dto.ShippingAmount)
}

func (dto CreateRequestDTO) ParsedExpenseDate() (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(dto.ExpenseDate))
}

func (dto CreateRequestDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("vendor_name", dto.VendorName).Required().MaxLength(200)
	v.Field("vendor_type", dto.VendorType).MaxLength(100)
	v.Field("description", dto.Description).MaxLength(1000)
	v.Field("purchase_amount", dto.PurchaseAmount).
		Positive(internal.ErrCodeInvalidAmount).
		MaxScale(2, internal.ErrCodeInvalidAmount)
	v.Field("tax_amount", dto.TaxAmount).
		NonNegative(internal.ErrCodeInvalidAmount).
		MaxScale(2, internal.ErrCodeInvalidAmount)
	v.Field("shipping_amount", dto.ShippingAmount).
		NonNegative(internal.ErrCodeInvalidAmount).
		MaxScale(2, internal.ErrCodeInvalidAmount)
	v.Field("expense_date", dto.ExpenseDate).Required().Custom(func(interface{}) *internal.AppError {
		if dto.ExpenseDate == "" {
			return nil
		}
		if _, err := dto.ParsedExpenseDate(); err != nil {
			return internal.NewValidationFieldError("expense_date", "expense_date must be formatted as YYYY-MM-DD", internal.ErrCodeInvalidDate)
		}
		return nil
	})
	v.Field("total_amount", dto.TotalAmount).Custom(func(interface{}) *internal.AppError {
		if dto.TotalAmount != nil && !dto.TotalAmount.Equal(dto.ComputedTotal()) {
			return internal.NewValidationFieldError("total_amount", "total_amount must equal purchase + tax + shipping", internal.ErrCodeInvalidAmounts)
		}
		return nil
	})
	return v.Validate()
}

// DecisionDTO carries the approver's optional comment and signature image.
type DecisionDTO struct {
	Comment      *string `json:"comment,omitempty"`
	SignatureRef *string `json:"signature_ref,omitempty"`
}

type RejectDTO struct {
	Reason       string  `json:"reason"`
	Comment      *string `json:"comment,omitempty"`
	SignatureRef *string `json:"signature_ref,omitempty"`
}

func (dto RejectDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("reason", dto.Reason).Required().MaxLength(1000)
	return v.Validate()
}

type SubmitDTO struct {
	SignatureRef *string `json:"signature_ref,omitempty"`
}

type ListFilter struct {
	RequesterID string
	Status      Status
	Limit       int
	Offset      int
}
