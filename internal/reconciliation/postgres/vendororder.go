package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	vendororderDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/vendororder"
	"github.com/frahmantamala/purchase-approval/internal/reconciliation"
)

type VendorOrderRepository struct {
	db *gorm.DB
}

func NewVendorOrderRepository(db *gorm.DB) reconciliation.RepositoryAPI {
	return &VendorOrderRepository{db: db}
}

func (r *VendorOrderRepository) GetOrder(ctx context.Context, id string) (*vendororderDatamodel.ExternalOrder, error) {
	var o vendororderDatamodel.ExternalOrder
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reconciliation.ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// SaveOrder inserts the order or overwrites the previous sync outcome, except
// that a matched row is only ever replaced by another matched outcome. It
// reports false when a concurrent pass already matched the order.
func (r *VendorOrderRepository) SaveOrder(ctx context.Context, o *vendororderDatamodel.ExternalOrder) (bool, error) {
	matched := string(reconciliation.SyncStatusMatched)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{
				SQL:  "external_orders.sync_status <> ? OR excluded.sync_status = ?",
				Vars: []interface{}{matched, matched},
			},
		}},
		UpdateAll: true,
	}).Create(o)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReplaceOrder overwrites the order unconditionally. Forced re-syncs use it to
// rescore an order whose link they keep.
func (r *VendorOrderRepository) ReplaceOrder(ctx context.Context, o *vendororderDatamodel.ExternalOrder) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(o).Error
}

func (r *VendorOrderRepository) ListOrders(ctx context.Context, filter reconciliation.OrderFilter) ([]*vendororderDatamodel.ExternalOrder, error) {
	var rows []*vendororderDatamodel.ExternalOrder
	q := r.db.WithContext(ctx).Model(&vendororderDatamodel.ExternalOrder{})
	if filter.Status != "" {
		q = q.Where("sync_status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	err := q.Order("order_date DESC").Order("id ASC").
		Offset(filter.Offset).
		Find(&rows).Error
	return rows, err
}

func (r *VendorOrderRepository) CreateSyncRun(ctx context.Context, run *vendororderDatamodel.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *VendorOrderRepository) UpdateSyncRun(ctx context.Context, run *vendororderDatamodel.SyncRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *VendorOrderRepository) LatestSyncRun(ctx context.Context) (*vendororderDatamodel.SyncRun, error) {
	var run vendororderDatamodel.SyncRun
	err := r.db.WithContext(ctx).Order("started_at DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reconciliation.ErrSyncRunNotFound
		}
		return nil, err
	}
	return &run, nil
}
