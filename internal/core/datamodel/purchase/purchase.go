package purchase

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseRequest struct {
	ID                    int64           `gorm:"primaryKey"`
	RequesterID           string          `gorm:"column:requester_id;not null;index"`
	RequesterName         string          `gorm:"column:requester_name"`
	VendorName            string          `gorm:"column:vendor_name;not null"`
	VendorType            string          `gorm:"column:vendor_type"`
	Description           string          `gorm:"column:description"`
	PurchaseAmount        decimal.Decimal `gorm:"column:purchase_amount;type:numeric(12,2);not null"`
	TaxAmount             decimal.Decimal `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	ShippingAmount        decimal.Decimal `gorm:"column:shipping_amount;type:numeric(12,2);not null"`
	TotalAmount           decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency              string          `gorm:"column:currency;not null"`
	ExpenseDate           time.Time       `gorm:"column:expense_date;type:date"`
	Status                string          `gorm:"column:status;not null;index"`
	ExternalOrderID       *string         `gorm:"column:external_order_id;uniqueIndex"`
	ExternalReceiptStatus string          `gorm:"column:external_receipt_status"`
	RejectionReason       *string         `gorm:"column:rejection_reason"`
	EmployeeSignedAt      *time.Time      `gorm:"column:employee_signed_at"`
	EmployeeSignatureRef  *string         `gorm:"column:employee_signature_ref"`
	SubmittedAt           *time.Time      `gorm:"column:submitted_at"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (PurchaseRequest) TableName() string {
	return "purchase_requests"
}

type ApprovalSignature struct {
	ID            int64     `gorm:"primaryKey"`
	RequestID     int64     `gorm:"column:request_id;not null;index"`
	Action        string    `gorm:"column:action;not null"`
	ApproverID    string    `gorm:"column:approver_id;not null"`
	ApproverName  string    `gorm:"column:approver_name"`
	ApproverTitle string    `gorm:"column:approver_title"`
	SignedAt      time.Time `gorm:"column:signed_at;not null"`
	Comment       *string   `gorm:"column:comment"`
	SignatureRef  *string   `gorm:"column:signature_ref"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ApprovalSignature) TableName() string {
	return "approval_signatures"
}
