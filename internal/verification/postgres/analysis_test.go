package postgres

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	receiptDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/receipt"
	"github.com/frahmantamala/purchase-approval/internal/verification"
)

func TestAnalysisRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AnalysisRepository Suite")
}

var _ = Describe("AnalysisRepository", func() {
	var (
		db   *gorm.DB
		repo verification.RepositoryAPI
		ctx  context.Context
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&receiptDatamodel.Analysis{})).To(Succeed())

		repo = NewAnalysisRepository(db)
		ctx = context.Background()
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	It("should return ErrAnalysisNotFound before the first analysis", func() {
		_, err := repo.GetByReceiptID(ctx, 1)
		Expect(err).To(MatchError(verification.ErrAnalysisNotFound))
	})

	It("should keep one analysis per receipt and replace it on upsert", func() {
		vendor := "Acme Corp."
		day := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
		first := &receiptDatamodel.Analysis{
			ReceiptID:       7,
			ExtractedVendor: &vendor,
			ExtractedAmount: decimal.NewNullDecimal(decimal.RequireFromString("100.50")),
			ExtractedDate:   &day,
			ExtractedItems:  []string{"Domain renewal"},
			VendorMatch:     true,
			AmountMatch:     true,
			Confidence:      75,
			Recommendation:  string(verification.RecommendReview),
			Concerns:        []string{"Date mismatch"},
			Model:           "gpt-4o",
			AnalyzedAt:      time.Now(),
		}
		Expect(repo.Upsert(ctx, first)).To(Succeed())

		got, err := repo.GetByReceiptID(ctx, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(*got.ExtractedVendor).To(Equal("Acme Corp."))
		Expect(got.ExtractedAmount.Decimal.Equal(decimal.RequireFromString("100.50"))).To(BeTrue())
		Expect(got.ExtractedItems).To(Equal([]string{"Domain renewal"}))
		Expect(got.Concerns).To(Equal([]string{"Date mismatch"}))

		second := &receiptDatamodel.Analysis{
			ReceiptID:      7,
			Confidence:     0,
			Recommendation: string(verification.RecommendReview),
			Concerns:       []string{"Receipt analysis failed; review manually"},
			Fallback:       true,
			Note:           "Receipt analysis failed; review manually",
			AnalyzedAt:     time.Now(),
		}
		Expect(repo.Upsert(ctx, second)).To(Succeed())

		var count int64
		Expect(db.Model(&receiptDatamodel.Analysis{}).Where("receipt_id = ?", 7).Count(&count).Error).To(Succeed())
		Expect(count).To(Equal(int64(1)))

		got, err = repo.GetByReceiptID(ctx, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Fallback).To(BeTrue())
		Expect(got.ExtractedVendor).To(BeNil())
		Expect(got.ExtractedAmount.Valid).To(BeFalse())
		Expect(got.Confidence).To(Equal(0))
	})
})
