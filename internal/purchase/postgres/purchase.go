package postgres

import (
	"context"
	"errors"
	"time"

	purchaseDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/purchase"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"gorm.io/gorm"
)

// PurchaseRepository implements purchase.RepositoryAPI using GORM
type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) purchase.RepositoryAPI {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) Create(ctx context.Context, req *purchaseDatamodel.PurchaseRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *PurchaseRepository) GetByID(ctx context.Context, id int64) (*purchaseDatamodel.PurchaseRequest, error) {
	var req purchaseDatamodel.PurchaseRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, purchase.ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *PurchaseRepository) List(ctx context.Context, filter purchase.ListFilter) ([]*purchaseDatamodel.PurchaseRequest, error) {
	var rows []*purchaseDatamodel.PurchaseRequest
	q := r.db.WithContext(ctx).Model(&purchaseDatamodel.PurchaseRequest{})
	if filter.RequesterID != "" {
		q = q.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	err := q.Order("created_at DESC").Order("id DESC").
		Offset(filter.Offset).
		Find(&rows).Error
	return rows, err
}

// ListApprovedUnlinked is the candidate snapshot for a reconciliation pass.
func (r *PurchaseRepository) ListApprovedUnlinked(ctx context.Context) ([]*purchaseDatamodel.PurchaseRequest, error) {
	var rows []*purchaseDatamodel.PurchaseRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND external_order_id IS NULL", string(purchase.StatusApproved)).
		Order("expense_date ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *PurchaseRepository) Transition(ctx context.Context, id int64, from, to purchase.Status, updates map[string]interface{}) error {
	values := map[string]interface{}{
		"status":     string(to),
		"updated_at": time.Now(),
	}
	for k, v := range updates {
		values[k] = v
	}

	res := r.db.WithContext(ctx).Model(&purchaseDatamodel.PurchaseRequest{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// Decide moves a pending request to approved or rejected and records the
// signature in one transaction.
func (r *PurchaseRepository) Decide(ctx context.Context, id int64, to purchase.Status, rejectionReason *string, sig *purchaseDatamodel.ApprovalSignature) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		values := map[string]interface{}{
			"status":     string(to),
			"updated_at": time.Now(),
		}
		if rejectionReason != nil {
			values["rejection_reason"] = *rejectionReason
		}

		res := tx.Model(&purchaseDatamodel.PurchaseRequest{}).
			Where("id = ? AND status = ?", id, string(purchase.StatusPending)).
			Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return (&PurchaseRepository{db: tx}).missOrConflict(ctx, id)
		}

		sig.RequestID = id
		return tx.Create(sig).Error
	})
}

// LinkExternalOrder is a conditional write: it only succeeds while the
// request is approved and unlinked. The unique index on external_order_id
// rejects a second request claiming the same order.
func (r *PurchaseRepository) LinkExternalOrder(ctx context.Context, id int64, orderID string) error {
	res := r.db.WithContext(ctx).Model(&purchaseDatamodel.PurchaseRequest{}).
		Where("id = ? AND external_order_id IS NULL AND status = ?", id, string(purchase.StatusApproved)).
		Updates(map[string]interface{}{
			"external_order_id":       orderID,
			"external_receipt_status": string(purchase.ExternalReceiptPending),
			"updated_at":              time.Now(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return purchase.ErrAlreadyLinked
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return purchase.ErrAlreadyLinked
	}
	return nil
}

func (r *PurchaseRepository) SetExternalReceiptStatus(ctx context.Context, id int64, status purchase.ExternalReceiptStatus) error {
	return r.db.WithContext(ctx).Model(&purchaseDatamodel.PurchaseRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"external_receipt_status": string(status),
			"updated_at":              time.Now(),
		}).Error
}

func (r *PurchaseRepository) ListSignatures(ctx context.Context, requestID int64) ([]*purchaseDatamodel.ApprovalSignature, error) {
	var sigs []*purchaseDatamodel.ApprovalSignature
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("signed_at ASC").
		Order("id ASC").
		Find(&sigs).Error
	return sigs, err
}

func (r *PurchaseRepository) missOrConflict(ctx context.Context, id int64) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&purchaseDatamodel.PurchaseRequest{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return purchase.ErrRequestNotFound
	}
	return purchase.ErrInvalidRequestStatus
}
