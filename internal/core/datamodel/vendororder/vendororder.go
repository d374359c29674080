package vendororder

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExternalOrder is one vendor order as last seen by a sync pass. ID is the
// vendor's own order identifier.
type ExternalOrder struct {
	ID              string          `gorm:"primaryKey;column:id"`
	TotalAmount     decimal.Decimal `gorm:"column:total_amount;type:numeric(14,2)"`
	RawTotal        decimal.Decimal `gorm:"column:raw_total;type:numeric(20,0)"`
	Currency        string          `gorm:"column:currency"`
	OrderDate       time.Time       `gorm:"column:order_date"`
	SyncStatus      string          `gorm:"column:sync_status;not null;index"`
	MatchRequestID  *int64          `gorm:"column:match_request_id;index"`
	MatchConfidence int             `gorm:"column:match_confidence"`
	MatchReasons    []string        `gorm:"column:match_reasons;serializer:json"`
	FailureReason   *string         `gorm:"column:failure_reason"`
	RawPayload      string          `gorm:"column:raw_payload;type:text"`
	LastSyncedAt    time.Time       `gorm:"column:last_synced_at"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (ExternalOrder) TableName() string {
	return "external_orders"
}

type SyncRun struct {
	ID          string     `gorm:"primaryKey;column:id"`
	Trigger     string     `gorm:"column:trigger_source"`
	Force       bool       `gorm:"column:force"`
	Since       time.Time  `gorm:"column:since"`
	Status      string     `gorm:"column:status;not null"`
	Processed   int        `gorm:"column:processed"`
	Matched     int        `gorm:"column:matched"`
	Pending     int        `gorm:"column:pending"`
	Unmatched   int        `gorm:"column:unmatched"`
	Skipped     int        `gorm:"column:skipped"`
	Failed      int        `gorm:"column:failed"`
	ErrorDetail *string    `gorm:"column:error_detail"`
	StartedAt   time.Time  `gorm:"column:started_at"`
	FinishedAt  *time.Time `gorm:"column:finished_at"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}
