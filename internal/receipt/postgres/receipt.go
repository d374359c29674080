package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	receiptDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/receipt"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) receipt.RepositoryAPI {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) Create(ctx context.Context, rec *receiptDatamodel.Receipt) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *ReceiptRepository) GetByID(ctx context.Context, id int64) (*receiptDatamodel.Receipt, error) {
	var rec receiptDatamodel.Receipt
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, receipt.ErrReceiptNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListByRequest orders most recent first; id breaks ties between receipts
// stored in the same instant.
func (r *ReceiptRepository) ListByRequest(ctx context.Context, requestID int64) ([]*receiptDatamodel.Receipt, error) {
	var rows []*receiptDatamodel.Receipt
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("uploaded_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

func (r *ReceiptRepository) UpdateStatus(ctx context.Context, id int64, from, to receipt.Status) error {
	res := r.db.WithContext(ctx).Model(&receiptDatamodel.Receipt{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&receiptDatamodel.Receipt{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return receipt.ErrReceiptNotFound
		}
		return receipt.ErrReceiptStatusInvalid
	}
	return nil
}
