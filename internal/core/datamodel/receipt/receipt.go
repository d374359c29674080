package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

type Receipt struct {
	ID          int64     `gorm:"primaryKey"`
	RequestID   int64     `gorm:"column:request_id;not null;index"`
	FileKey     string    `gorm:"column:file_key;not null"`
	FileName    string    `gorm:"column:file_name"`
	ContentType string    `gorm:"column:content_type"`
	SizeBytes   int64     `gorm:"column:size_bytes"`
	Source      string    `gorm:"column:source;not null"`
	Status      string    `gorm:"column:status;not null"`
	UploadedAt  time.Time `gorm:"column:uploaded_at;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Receipt) TableName() string {
	return "receipts"
}

type Analysis struct {
	ID              int64               `gorm:"primaryKey"`
	ReceiptID       int64               `gorm:"column:receipt_id;not null;uniqueIndex"`
	ExtractedVendor *string             `gorm:"column:extracted_vendor"`
	ExtractedAmount decimal.NullDecimal `gorm:"column:extracted_amount;type:numeric(12,2)"`
	ExtractedDate   *time.Time          `gorm:"column:extracted_date;type:date"`
	ExtractedItems  []string            `gorm:"column:extracted_items;serializer:json"`
	VendorMatch     bool                `gorm:"column:vendor_match"`
	AmountMatch     bool                `gorm:"column:amount_match"`
	DateMatch       bool                `gorm:"column:date_match"`
	Confidence      int                 `gorm:"column:confidence"`
	Recommendation  string              `gorm:"column:recommendation;not null"`
	Concerns        []string            `gorm:"column:concerns;serializer:json"`
	Fallback        bool                `gorm:"column:fallback"`
	Note            string              `gorm:"column:note"`
	ErrorDetail     *string             `gorm:"column:error_detail"`
	Model           string              `gorm:"column:model"`
	AnalyzedAt      time.Time           `gorm:"column:analyzed_at;not null"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Analysis) TableName() string {
	return "receipt_analyses"
}
