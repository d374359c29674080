package verification_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-approval/internal"
	receiptDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/receipt"
	"github.com/frahmantamala/purchase-approval/internal/core/events"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
	"github.com/frahmantamala/purchase-approval/internal/storage"
	"github.com/frahmantamala/purchase-approval/internal/verification"
)

type mockAnalysisRepository struct {
	rows        map[int64]*receiptDatamodel.Analysis
	getError    error
	upsertError error
	upserts     int
}

func (m *mockAnalysisRepository) GetByReceiptID(ctx context.Context, receiptID int64) (*receiptDatamodel.Analysis, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	a, ok := m.rows[receiptID]
	if !ok {
		return nil, verification.ErrAnalysisNotFound
	}
	return a, nil
}

func (m *mockAnalysisRepository) Upsert(ctx context.Context, a *receiptDatamodel.Analysis) error {
	if m.upsertError != nil {
		return m.upsertError
	}
	m.upserts++
	m.rows[a.ReceiptID] = a
	return nil
}

type fakeReceipts map[int64]*receipt.Receipt

func (f fakeReceipts) FindByID(ctx context.Context, id int64) (*receipt.Receipt, error) {
	r, ok := f[id]
	if !ok {
		return nil, receipt.ErrReceiptNotFound
	}
	return r, nil
}

type fakeRequests map[int64]*purchase.PurchaseRequest

func (f fakeRequests) FindByID(ctx context.Context, id int64) (*purchase.PurchaseRequest, error) {
	r, ok := f[id]
	if !ok {
		return nil, purchase.ErrRequestNotFound
	}
	return r, nil
}

type fakeFiles struct {
	data  map[string][]byte
	err   error
	reads int
}

func (f *fakeFiles) Get(ctx context.Context, key string, maxBytes int64) ([]byte, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.data[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	if int64(len(d)) > maxBytes {
		return nil, storage.ErrObjectTooLarge
	}
	return d, nil
}

type fakeExtractor struct {
	configured bool
	fields     *verification.ExtractedFields
	err        error
	calls      int
	lastInput  verification.ExtractionInput
	deadline   bool
	block      chan struct{}
}

func (f *fakeExtractor) Configured() bool { return f.configured }
func (f *fakeExtractor) Model() string    { return "gpt-4o" }

func (f *fakeExtractor) Extract(ctx context.Context, in verification.ExtractionInput) (*verification.ExtractedFields, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.calls++
	f.lastInput = in
	_, f.deadline = ctx.Deadline()
	return f.fields, f.err
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.events = append(p.events, event)
	return nil
}

var _ = Describe("Verification Service", func() {
	var (
		repo      *mockAnalysisRepository
		receipts  fakeReceipts
		requests  fakeRequests
		files     *fakeFiles
		extractor *fakeExtractor
		publisher *recordingPublisher
		service   *verification.Service
		ctx       context.Context
		day       time.Time
		owner     purchase.Actor
	)

	BeforeEach(func() {
		day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		repo = &mockAnalysisRepository{rows: make(map[int64]*receiptDatamodel.Analysis)}
		receipts = fakeReceipts{
			1: {ID: 1, RequestID: 10, FileKey: "receipts/10/a.png", ContentType: "image/png", SizeBytes: 9},
			2: {ID: 2, RequestID: 10, FileKey: "receipts/10/b.pdf", ContentType: "application/pdf", SizeBytes: 9},
			3: {ID: 3, RequestID: 10, FileKey: "receipts/10/c.png", ContentType: "image/png", SizeBytes: 4096},
		}
		requests = fakeRequests{
			10: {
				ID:          10,
				RequesterID: "emp-1",
				VendorName:  "ACME CORPORATION",
				TotalAmount: decimal.RequireFromString("100.00"),
				ExpenseDate: day,
				Status:      purchase.StatusApproved,
			},
		}
		files = &fakeFiles{data: map[string][]byte{
			"receipts/10/a.png": []byte("png-bytes"),
			"receipts/10/c.png": make([]byte, 4096),
		}}
		vendor := "Acme Corp."
		amount := decimal.RequireFromString("100.50")
		extracted := day.AddDate(0, 0, 2)
		extractor = &fakeExtractor{
			configured: true,
			fields:     &verification.ExtractedFields{Vendor: &vendor, Amount: &amount, Date: &extracted},
		}
		publisher = &recordingPublisher{}
		owner = purchase.Actor{ID: "emp-1"}
		ctx = context.Background()
	})

	JustBeforeEach(func() {
		lg := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = verification.NewService(repo, receipts, requests, files, extractor, publisher,
			verification.Config{MaxImageBytes: 1024, Timeout: time.Second}, lg)
	})

	It("should score the receipt, persist it and publish the outcome", func() {
		analysis, err := service.VerifyReceipt(ctx, 1, false)
		Expect(err).NotTo(HaveOccurred())

		Expect(analysis.Result.Confidence).To(Equal(75))
		Expect(analysis.Result.Recommendation).To(Equal(verification.RecommendReview))
		Expect(analysis.Model).To(Equal("gpt-4o"))
		Expect(analysis.Persisted).To(BeTrue())
		Expect(analysis.Cached).To(BeFalse())

		Expect(extractor.lastInput.ContentType).To(Equal("image/png"))
		Expect(extractor.lastInput.Expected.Vendor).To(Equal("ACME CORPORATION"))
		Expect(extractor.deadline).To(BeTrue())

		Expect(repo.rows).To(HaveKey(int64(1)))
		Expect(repo.rows[1].ExtractedAmount.Decimal.String()).To(Equal("100.5"))

		Expect(publisher.events).To(HaveLen(1))
		ev, ok := publisher.events[0].(*events.ReceiptVerifiedEvent)
		Expect(ok).To(BeTrue())
		Expect(ev.Confidence).To(Equal(75))
		Expect(ev.Recommendation).To(Equal("review"))
	})

	It("should return the stored analysis without calling the extractor again", func() {
		_, err := service.VerifyReceipt(ctx, 1, false)
		Expect(err).NotTo(HaveOccurred())

		again, err := service.VerifyReceipt(ctx, 1, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Cached).To(BeTrue())
		Expect(again.Result.Confidence).To(Equal(75))
		Expect(again.RequestID).To(Equal(int64(10)))
		Expect(extractor.calls).To(Equal(1))
		Expect(repo.upserts).To(Equal(1))
	})

	It("should re-run the extraction when forced", func() {
		_, err := service.VerifyReceipt(ctx, 1, false)
		Expect(err).NotTo(HaveOccurred())

		vendor := "Acme Corporation"
		amount := decimal.RequireFromString("100.00")
		extractor.fields = &verification.ExtractedFields{Vendor: &vendor, Amount: &amount, Date: &day}

		forced, err := service.VerifyReceipt(ctx, 1, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(forced.Cached).To(BeFalse())
		Expect(forced.Result.Recommendation).To(Equal(verification.RecommendApprove))
		Expect(extractor.calls).To(Equal(2))
		Expect(repo.rows[1].Confidence).To(Equal(95))
	})

	Context("when extraction is not configured", func() {
		BeforeEach(func() {
			extractor.configured = false
		})

		It("should return an unpersisted fallback", func() {
			analysis, err := service.VerifyReceipt(ctx, 1, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Result.Fallback).To(BeTrue())
			Expect(analysis.Result.Note).To(ContainSubstring("not configured"))
			Expect(analysis.Persisted).To(BeFalse())
			Expect(repo.rows).To(BeEmpty())
			Expect(extractor.calls).To(BeZero())
			Expect(files.reads).To(BeZero())
		})
	})

	It("should fall back for non-image receipts before any network call", func() {
		analysis, err := service.VerifyReceipt(ctx, 2, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(analysis.Result.Fallback).To(BeTrue())
		Expect(analysis.Result.Recommendation).To(Equal(verification.RecommendReview))
		Expect(analysis.Result.Note).To(ContainSubstring("application/pdf"))
		Expect(extractor.calls).To(BeZero())
		Expect(files.reads).To(BeZero())
		Expect(repo.rows).To(HaveKey(int64(2)))
	})

	It("should fall back for oversized images before any network call", func() {
		analysis, err := service.VerifyReceipt(ctx, 3, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(analysis.Result.Fallback).To(BeTrue())
		Expect(analysis.Result.Note).To(ContainSubstring("larger than"))
		Expect(extractor.calls).To(BeZero())
		Expect(files.reads).To(BeZero())
	})

	It("should fall back when the stored object turns out larger than recorded", func() {
		receipts[3].SizeBytes = 10
		analysis, err := service.VerifyReceipt(ctx, 3, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(analysis.Result.Fallback).To(BeTrue())
		Expect(extractor.calls).To(BeZero())
	})

	It("should record the backend error detail on a fallback", func() {
		extractor.err = errors.New("status code: 500")
		analysis, err := service.VerifyReceipt(ctx, 1, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(analysis.Result.Fallback).To(BeTrue())
		Expect(analysis.Result.Confidence).To(Equal(0))
		Expect(*analysis.ErrorDetail).To(Equal("status code: 500"))
		Expect(*repo.rows[1].ErrorDetail).To(Equal("status code: 500"))
	})

	It("should fall back when every extracted field is empty", func() {
		extractor.fields = &verification.ExtractedFields{}
		analysis, err := service.VerifyReceipt(ctx, 1, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(analysis.Result.Fallback).To(BeTrue())
		Expect(analysis.Result.VendorMatch || analysis.Result.AmountMatch || analysis.Result.DateMatch).To(BeFalse())
	})

	It("should surface storage failures as errors", func() {
		files.err = errors.New("connection refused")
		_, err := service.VerifyReceipt(ctx, 1, false)
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Type).To(Equal(internal.ErrorTypeExternal))
		Expect(repo.rows).To(BeEmpty())
	})

	It("should report an unknown receipt", func() {
		_, err := service.VerifyReceipt(ctx, 404, false)
		Expect(err).To(MatchError(receipt.ErrReceiptNotFound))
	})

	Describe("access checks", func() {
		It("should let the requester ask for verification", func() {
			analysis, err := service.RequestVerification(ctx, 1, owner, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Result.Confidence).To(Equal(75))
		})

		It("should hide other employees' receipts", func() {
			_, err := service.RequestVerification(ctx, 1, purchase.Actor{ID: "emp-2"}, false)
			Expect(err).To(MatchError(purchase.ErrUnauthorizedAccess))

			_, err = service.GetAnalysis(ctx, 1, purchase.Actor{ID: "emp-2"})
			Expect(err).To(MatchError(purchase.ErrUnauthorizedAccess))
		})

		It("should return ErrAnalysisNotFound before the first verification", func() {
			_, err := service.GetAnalysis(ctx, 1, purchase.Actor{ID: "mgr-1", Approver: true})
			Expect(err).To(MatchError(verification.ErrAnalysisNotFound))
		})
	})

	Describe("background verification", func() {
		It("should let shutdown wait for verifications started on upload", func() {
			extractor.block = make(chan struct{})
			service.ReceiptStored(receipts[1])

			short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			Expect(service.Drain(short)).To(BeFalse())

			close(extractor.block)
			Expect(service.Drain(ctx)).To(BeTrue())
			Expect(repo.upserts).To(Equal(1))
			Expect(extractor.calls).To(Equal(1))
		})
	})
})
