package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	vendororderDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/vendororder"
	"github.com/frahmantamala/purchase-approval/internal/vendorapi"
)

type SyncStatus string

const (
	SyncStatusUnmatched SyncStatus = "unmatched"
	SyncStatusMatched   SyncStatus = "matched"
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusFailed    SyncStatus = "failed"
)

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusUnmatched, SyncStatusMatched, SyncStatusPending, SyncStatusFailed:
		return true
	}
	return false
}

type RunStatus string

const (
	RunStatusRunning       RunStatus = "running"
	RunStatusCompleted     RunStatus = "completed"
	RunStatusFailed        RunStatus = "failed"
	RunStatusNotConfigured RunStatus = "not_configured"
)

const (
	TriggerManual    = "manual"
	TriggerCLI       = "cli"
	TriggerScheduled = "scheduled"
)

var (
	microUnitFloor = decimal.NewFromInt(10000)
	microUnits     = decimal.NewFromInt(1000000)
)

// ToCurrencyUnits converts a vendor amount to standard currency units. The
// vendor reports micro-units without saying so; anything above 10,000 is
// taken to be micro-units. A genuine order above $10,000 reported in
// standard units is misread by this rule.
func ToCurrencyUnits(raw decimal.Decimal) decimal.Decimal {
	if raw.GreaterThan(microUnitFloor) {
		return raw.Div(microUnits)
	}
	return raw
}

// Order is the part of a vendor order the engine scores.
type Order struct {
	ID        string
	RawTotal  decimal.Decimal
	Currency  string
	CreatedAt time.Time
}

// Total is the order total in standard currency units.
func (o Order) Total() decimal.Decimal {
	return ToCurrencyUnits(o.RawTotal)
}

func OrderFromVendor(v vendorapi.Order) Order {
	return Order{
		ID:        v.ID,
		RawTotal:  v.Pricing.Total,
		Currency:  v.Currency,
		CreatedAt: v.CreatedAt,
	}
}

type MatchResult struct {
	RequestID  int64    `json:"request_id"`
	Confidence int      `json:"confidence"`
	Reasons    []string `json:"reasons"`
	AutoLink   bool     `json:"auto_link"`
}

// ExternalOrder is a vendor order with its last match outcome.
type ExternalOrder struct {
	ID              string          `json:"id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	RawTotal        decimal.Decimal `json:"raw_total"`
	Currency        string          `json:"currency"`
	OrderDate       time.Time       `json:"order_date"`
	SyncStatus      SyncStatus      `json:"sync_status"`
	MatchRequestID  *int64          `json:"match_request_id,omitempty"`
	MatchConfidence int             `json:"match_confidence"`
	MatchReasons    []string        `json:"match_reasons"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	LastSyncedAt    time.Time       `json:"last_synced_at"`
}

// SyncRun records one reconciliation pass and its per-status counters.
type SyncRun struct {
	ID          string     `json:"id"`
	Trigger     string     `json:"trigger"`
	Force       bool       `json:"force"`
	Since       time.Time  `json:"since"`
	Status      RunStatus  `json:"status"`
	Processed   int        `json:"processed"`
	Matched     int        `json:"matched"`
	Pending     int        `json:"pending"`
	Unmatched   int        `json:"unmatched"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	ErrorDetail *string    `json:"error_detail,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (r *SyncRun) count(status SyncStatus) {
	r.Processed++
	switch status {
	case SyncStatusMatched:
		r.Matched++
	case SyncStatusPending:
		r.Pending++
	case SyncStatusUnmatched:
		r.Unmatched++
	case SyncStatusFailed:
		r.Failed++
	}
}

func ExternalOrderFromDataModel(o *vendororderDatamodel.ExternalOrder) *ExternalOrder {
	return &ExternalOrder{
		ID:              o.ID,
		TotalAmount:     o.TotalAmount,
		RawTotal:        o.RawTotal,
		Currency:        o.Currency,
		OrderDate:       o.OrderDate,
		SyncStatus:      SyncStatus(o.SyncStatus),
		MatchRequestID:  o.MatchRequestID,
		MatchConfidence: o.MatchConfidence,
		MatchReasons:    o.MatchReasons,
		FailureReason:   o.FailureReason,
		LastSyncedAt:    o.LastSyncedAt,
	}
}

func ExternalOrdersFromDataModel(rows []*vendororderDatamodel.ExternalOrder) []*ExternalOrder {
	out := make([]*ExternalOrder, len(rows))
	for i, o := range rows {
		out[i] = ExternalOrderFromDataModel(o)
	}
	return out
}

func SyncRunToDataModel(r *SyncRun) *vendororderDatamodel.SyncRun {
	return &vendororderDatamodel.SyncRun{
		ID:          r.ID,
		Trigger:     r.Trigger,
		Force:       r.Force,
		Since:       r.Since,
		Status:      string(r.Status),
		Processed:   r.Processed,
		Matched:     r.Matched,
		Pending:     r.Pending,
		Unmatched:   r.Unmatched,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		ErrorDetail: r.ErrorDetail,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

func SyncRunFromDataModel(r *vendororderDatamodel.SyncRun) *SyncRun {
	return &SyncRun{
		ID:          r.ID,
		Trigger:     r.Trigger,
		Force:       r.Force,
		Since:       r.Since,
		Status:      RunStatus(r.Status),
		Processed:   r.Processed,
		Matched:     r.Matched,
		Pending:     r.Pending,
		Unmatched:   r.Unmatched,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		ErrorDetail: r.ErrorDetail,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}
