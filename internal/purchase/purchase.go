package purchase

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-approval/internal/core/compare"
	purchaseDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/purchase"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ExternalReceiptStatus tracks the vendor receipt download for a linked order.
type ExternalReceiptStatus string

const (
	ExternalReceiptNone    ExternalReceiptStatus = ""
	ExternalReceiptPending ExternalReceiptStatus = "pending"
	ExternalReceiptFetched ExternalReceiptStatus = "fetched"
	ExternalReceiptFailed  ExternalReceiptStatus = "failed"
)

type SignatureAction string

const (
	ActionApproved SignatureAction = "approved"
	ActionRejected SignatureAction = "rejected"
)

type PurchaseRequest struct {
	ID                    int64                 `json:"id"`
	RequesterID           string                `json:"requester_id"`
	RequesterName         string                `json:"requester_name"`
	VendorName            string                `json:"vendor_name"`
	VendorType            string                `json:"vendor_type,omitempty"`
	Description           string                `json:"description,omitempty"`
	PurchaseAmount        decimal.Decimal       `json:"purchase_amount"`
	TaxAmount             decimal.Decimal       `json:"tax_amount"`
	ShippingAmount        decimal.Decimal       `json:"shipping_amount"`
	TotalAmount           decimal.Decimal       `json:"total_amount"`
	Currency              string                `json:"currency"`
	ExpenseDate           time.Time             `json:"expense_date"`
	Status                Status                `json:"status"`
	ExternalOrderID       *string               `json:"external_order_id,omitempty"`
	ExternalReceiptStatus ExternalReceiptStatus `json:"external_receipt_status,omitempty"`
	RejectionReason       *string               `json:"rejection_reason,omitempty"`
	EmployeeSignedAt      *time.Time            `json:"employee_signed_at,omitempty"`
	EmployeeSignatureRef  *string               `json:"employee_signature_ref,omitempty"`
	SubmittedAt           *time.Time            `json:"submitted_at,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

type ApprovalSignature struct {
	ID            int64           `json:"id"`
	RequestID     int64           `json:"request_id"`
	Action        SignatureAction `json:"action"`
	ApproverID    string          `json:"approver_id"`
	ApproverName  string          `json:"approver_name"`
	ApproverTitle string          `json:"approver_title,omitempty"`
	SignedAt      time.Time       `json:"signed_at"`
	Comment       *string         `json:"comment,omitempty"`
	SignatureRef  *string         `json:"signature_ref,omitempty"`
}

// Actor is the caller performing an operation.
type Actor struct {
	ID       string
	Name     string
	Title    string
	Approver bool
}

func (r *PurchaseRequest) CanSubmit() bool {
	return r.Status == StatusDraft
}

func (r *PurchaseRequest) CanBeDecided() bool {
	return r.Status == StatusPending
}

// EligibleForOrderMatch: approved, not yet linked, and in the vendor family.
func (r *PurchaseRequest) EligibleForOrderMatch(family string) bool {
	return r.Status == StatusApproved &&
		r.ExternalOrderID == nil &&
		compare.IsVendorFamily(r.VendorName, r.VendorType, family)
}

func (r *PurchaseRequest) VisibleTo(actor Actor) bool {
	return actor.Approver || r.RequesterID == actor.ID
}

// SignedOrSubmittedAt is the employee sign-off time, else the submission time.
func (r *PurchaseRequest) SignedOrSubmittedAt() *time.Time {
	if r.EmployeeSignedAt != nil {
		return r.EmployeeSignedAt
	}
	if r.SubmittedAt != nil {
		return r.SubmittedAt
	}
	return &r.CreatedAt
}

// FirstSignature returns the earliest signature with the given action, the
// one that decided the request. Nil when there is none.
func FirstSignature(sigs []*ApprovalSignature, action SignatureAction) *ApprovalSignature {
	matching := make([]*ApprovalSignature, 0, len(sigs))
	for _, s := range sigs {
		if s != nil && s.Action == action {
			matching = append(matching, s)
		}
	}
	if len(matching) == 0 {
		return nil
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].SignedAt.Before(matching[j].SignedAt)
	})
	return matching[0]
}

func ToDataModel(r *PurchaseRequest) *purchaseDatamodel.PurchaseRequest {
	return &purchaseDatamodel.PurchaseRequest{
		ID:                    r.ID,
		RequesterID:           r.RequesterID,
		RequesterName:         r.RequesterName,
		VendorName:            r.VendorName,
		VendorType:            r.VendorType,
		Description:           r.Description,
		PurchaseAmount:        r.PurchaseAmount,
		TaxAmount:             r.TaxAmount,
		ShippingAmount:        r.ShippingAmount,
		TotalAmount:           r.TotalAmount,
		Currency:              r.Currency,
		ExpenseDate:           r.ExpenseDate,
		Status:                string(r.Status),
		ExternalOrderID:       r.ExternalOrderID,
		ExternalReceiptStatus: string(r.ExternalReceiptStatus),
		RejectionReason:       r.RejectionReason,
		EmployeeSignedAt:      r.EmployeeSignedAt,
		EmployeeSignatureRef:  r.EmployeeSignatureRef,
		SubmittedAt:           r.SubmittedAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func FromDataModel(r *purchaseDatamodel.PurchaseRequest) *PurchaseRequest {
	return &PurchaseRequest{
		ID:                    r.ID,
		RequesterID:           r.RequesterID,
		RequesterName:         r.RequesterName,
		VendorName:            r.VendorName,
		VendorType:            r.VendorType,
		Description:           r.Description,
		PurchaseAmount:        r.PurchaseAmount,
		TaxAmount:             r.TaxAmount,
		ShippingAmount:        r.ShippingAmount,
		TotalAmount:           r.TotalAmount,
		Currency:              r.Currency,
		ExpenseDate:           r.ExpenseDate,
		Status:                Status(r.Status),
		ExternalOrderID:       r.ExternalOrderID,
		ExternalReceiptStatus: ExternalReceiptStatus(r.ExternalReceiptStatus),
		RejectionReason:       r.RejectionReason,
		EmployeeSignedAt:      r.EmployeeSignedAt,
		EmployeeSignatureRef:  r.EmployeeSignatureRef,
		SubmittedAt:           r.SubmittedAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func FromDataModelSlice(rows []*purchaseDatamodel.PurchaseRequest) []*PurchaseRequest {
	result := make([]*PurchaseRequest, len(rows))
	for i, r := range rows {
		result[i] = FromDataModel(r)
	}
	return result
}

func SignatureToDataModel(s *ApprovalSignature) *purchaseDatamodel.ApprovalSignature {
	return &purchaseDatamodel.ApprovalSignature{
		ID:            s.ID,
		RequestID:     s.RequestID,
		Action:        string(s.Action),
		ApproverID:    s.ApproverID,
		ApproverName:  s.ApproverName,
		ApproverTitle: s.ApproverTitle,
		SignedAt:      s.SignedAt,
		Comment:       s.Comment,
		SignatureRef:  s.SignatureRef,
	}
}

func SignaturesFromDataModel(rows []*purchaseDatamodel.ApprovalSignature) []*ApprovalSignature {
	result := make([]*ApprovalSignature, len(rows))
	for i, s := range rows {
		result[i] = &ApprovalSignature{
			ID:            s.ID,
			RequestID:     s.RequestID,
			Action:        SignatureAction(s.Action),
			ApproverID:    s.ApproverID,
			ApproverName:  s.ApproverName,
			ApproverTitle: s.ApproverTitle,
			SignedAt:      s.SignedAt,
			Comment:       s.Comment,
			SignatureRef:  s.SignatureRef,
		}
	}
	return result
}
