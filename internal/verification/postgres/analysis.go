package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	receiptDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/receipt"
	"github.com/frahmantamala/purchase-approval/internal/verification"
)

var analysisColumns = []string{
	"extracted_vendor", "extracted_amount", "extracted_date", "extracted_items",
	"vendor_match", "amount_match", "date_match",
	"confidence", "recommendation", "concerns",
	"fallback", "note", "error_detail", "model", "analyzed_at", "updated_at",
}

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) verification.RepositoryAPI {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) GetByReceiptID(ctx context.Context, receiptID int64) (*receiptDatamodel.Analysis, error) {
	var a receiptDatamodel.Analysis
	err := r.db.WithContext(ctx).Where("receipt_id = ?", receiptID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, verification.ErrAnalysisNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Upsert keeps one analysis per receipt; a forced re-check replaces it.
func (r *AnalysisRepository) Upsert(ctx context.Context, a *receiptDatamodel.Analysis) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "receipt_id"}},
		DoUpdates: clause.AssignmentColumns(analysisColumns),
	}).Create(a).Error
}
