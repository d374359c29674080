package receipt

import (
	"time"

	receiptDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/receipt"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusNeedsInfo Status = "needs_info"
	StatusApproved  Status = "approved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusNeedsInfo, StatusApproved:
		return true
	}
	return false
}

// CanTransitionTo: an approved receipt is final.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusNeedsInfo || to == StatusApproved
	case StatusNeedsInfo:
		return to == StatusPending || to == StatusApproved
	}
	return false
}

type Source string

const (
	SourceUpload Source = "upload"
	SourceVendor Source = "vendor"
)

type Receipt struct {
	ID          int64     `json:"id"`
	RequestID   int64     `json:"request_id"`
	FileKey     string    `json:"file_key"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Source      Source    `json:"source"`
	Status      Status    `json:"status"`
	UploadedAt  time.Time `json:"uploaded_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Latest returns the authoritative receipt from a list ordered most recent
// first, or nil.
func Latest(receipts []*Receipt) *Receipt {
	if len(receipts) == 0 {
		return nil
	}
	return receipts[0]
}

func ToDataModel(r *Receipt) *receiptDatamodel.Receipt {
	return &receiptDatamodel.Receipt{
		ID:          r.ID,
		RequestID:   r.RequestID,
		FileKey:     r.FileKey,
		FileName:    r.FileName,
		ContentType: r.ContentType,
		SizeBytes:   r.SizeBytes,
		Source:      string(r.Source),
		Status:      string(r.Status),
		UploadedAt:  r.UploadedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func FromDataModel(r *receiptDatamodel.Receipt) *Receipt {
	if r == nil {
		return nil
	}
	return &Receipt{
		ID:          r.ID,
		RequestID:   r.RequestID,
		FileKey:     r.FileKey,
		FileName:    r.FileName,
		ContentType: r.ContentType,
		SizeBytes:   r.SizeBytes,
		Source:      Source(r.Source),
		Status:      Status(r.Status),
		UploadedAt:  r.UploadedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func FromDataModelSlice(rows []*receiptDatamodel.Receipt) []*Receipt {
	out := make([]*Receipt, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromDataModel(row))
	}
	return out
}
