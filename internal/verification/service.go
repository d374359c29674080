package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/purchase-approval/internal"
	receiptDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/receipt"
	"github.com/frahmantamala/purchase-approval/internal/core/events"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
	"github.com/frahmantamala/purchase-approval/internal/storage"
)

const (
	DefaultMaxImageBytes = 20 * 1024 * 1024
	DefaultTimeout       = 30 * time.Second
)

var ErrAnalysisNotFound = internal.ErrAnalysisNotFound

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

func IsSupportedImage(contentType string) bool {
	return supportedImageTypes[contentType]
}

// ExtractionInput carries the expected values as context for the model.
type ExtractionInput struct {
	Data        []byte
	ContentType string
	Expected    Expectation
}

// Extractor reads vendor, amount, date and items off a receipt image.
type Extractor interface {
	Configured() bool
	Model() string
	Extract(ctx context.Context, in ExtractionInput) (*ExtractedFields, error)
}

type RepositoryAPI interface {
	GetByReceiptID(ctx context.Context, receiptID int64) (*receiptDatamodel.Analysis, error)
	Upsert(ctx context.Context, a *receiptDatamodel.Analysis) error
}

type ReceiptLookup interface {
	FindByID(ctx context.Context, id int64) (*receipt.Receipt, error)
}

type RequestLookup interface {
	FindByID(ctx context.Context, id int64) (*purchase.PurchaseRequest, error)
}

type FileReader interface {
	Get(ctx context.Context, key string, maxBytes int64) ([]byte, error)
}

type Config struct {
	MaxImageBytes int64
	Timeout       time.Duration
}

type Service struct {
	repo      RepositoryAPI
	receipts  ReceiptLookup
	requests  RequestLookup
	files     FileReader
	extractor Extractor
	publisher events.Publisher
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	background sync.WaitGroup
}

func NewService(repo RepositoryAPI, receipts ReceiptLookup, requests RequestLookup, files FileReader, extractor Extractor, publisher events.Publisher, config Config, logger *slog.Logger) *Service {
	if config.MaxImageBytes <= 0 {
		config.MaxImageBytes = DefaultMaxImageBytes
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Service{
		repo:      repo,
		receipts:  receipts,
		requests:  requests,
		files:     files,
		extractor: extractor,
		publisher: publisher,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// VerifyReceipt returns the stored analysis for a receipt, computing it when
// none exists or force is set. Business outcomes, including every fallback,
// come back as an Analysis; only infrastructure failures are errors.
func (s *Service) VerifyReceipt(ctx context.Context, receiptID int64, force bool) (*Analysis, error) {
	rec, err := s.receipts.FindByID(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	if !force {
		row, err := s.repo.GetByReceiptID(ctx, receiptID)
		switch {
		case err == nil:
			cached := FromDataModel(row, rec.RequestID)
			cached.Cached = true
			return cached, nil
		case !errors.Is(err, ErrAnalysisNotFound):
			s.logger.Error("failed to load receipt analysis", "error", err, "receipt_id", receiptID)
			return nil, internal.NewInternalError("failed to load receipt analysis", err)
		}
	}

	req, err := s.requests.FindByID(ctx, rec.RequestID)
	if err != nil {
		return nil, err
	}
	expected := Expectation{Vendor: req.VendorName, Amount: req.TotalAmount, Date: req.ExpenseDate}

	analysis := &Analysis{ReceiptID: rec.ID, RequestID: rec.RequestID, AnalyzedAt: s.now()}

	if s.extractor == nil || !s.extractor.Configured() {
		s.logger.Warn("receipt verification not configured", "receipt_id", receiptID)
		analysis.Result = Fallback("Receipt verification is not configured; review manually")
		return analysis, nil
	}
	analysis.Model = s.extractor.Model()

	switch {
	case !IsSupportedImage(rec.ContentType):
		analysis.Result = Fallback(fmt.Sprintf("Receipt file type %s cannot be analyzed automatically; review manually", displayType(rec.ContentType)))
	case rec.SizeBytes > s.config.MaxImageBytes:
		analysis.Result = s.oversized()
	default:
		data, err := s.files.Get(ctx, rec.FileKey, s.config.MaxImageBytes)
		if errors.Is(err, storage.ErrObjectTooLarge) {
			analysis.Result = s.oversized()
			break
		}
		if err != nil {
			s.logger.Error("failed to read receipt file", "error", err, "receipt_id", receiptID, "key", rec.FileKey)
			return nil, internal.NewExternalError("failed to read receipt file", err)
		}
		analysis.Result = s.extract(ctx, analysis, ExtractionInput{Data: data, ContentType: rec.ContentType, Expected: expected})
	}

	if err := s.repo.Upsert(ctx, ToDataModel(analysis)); err != nil {
		s.logger.Error("failed to save receipt analysis", "error", err, "receipt_id", receiptID)
		return nil, internal.NewInternalError("failed to save receipt analysis", err)
	}
	analysis.Persisted = true

	s.logger.Info("receipt verified",
		"receipt_id", receiptID,
		"request_id", rec.RequestID,
		"confidence", analysis.Result.Confidence,
		"recommendation", analysis.Result.Recommendation,
		"fallback", analysis.Result.Fallback,
	)
	s.publish(ctx, events.NewReceiptVerifiedEvent(rec.ID, rec.RequestID, analysis.Result.Confidence, string(analysis.Result.Recommendation), analysis.Result.Fallback))

	return analysis, nil
}

func (s *Service) extract(ctx context.Context, analysis *Analysis, in ExtractionInput) Result {
	extractCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	fields, err := s.extractor.Extract(extractCtx, in)
	if err != nil {
		s.logger.Warn("receipt extraction failed", "error", err, "receipt_id", analysis.ReceiptID)
		detail := err.Error()
		analysis.ErrorDetail = &detail
		return Fallback("Receipt analysis failed; review manually")
	}
	if fields == nil {
		return Fallback("Receipt details could not be extracted; review manually")
	}
	return Verify(*fields, in.Expected)
}

func (s *Service) oversized() Result {
	return Fallback(fmt.Sprintf("Receipt image is larger than %d MB; review manually", s.config.MaxImageBytes/(1024*1024)))
}

// RequestVerification is VerifyReceipt on behalf of a caller who must be able
// to see the receipt's request.
func (s *Service) RequestVerification(ctx context.Context, receiptID int64, actor purchase.Actor, force bool) (*Analysis, error) {
	if _, err := s.authorize(ctx, receiptID, actor); err != nil {
		return nil, err
	}
	return s.VerifyReceipt(ctx, receiptID, force)
}

func (s *Service) GetAnalysis(ctx context.Context, receiptID int64, actor purchase.Actor) (*Analysis, error) {
	rec, err := s.authorize(ctx, receiptID, actor)
	if err != nil {
		return nil, err
	}
	row, err := s.repo.GetByReceiptID(ctx, receiptID)
	if err != nil {
		if errors.Is(err, ErrAnalysisNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, internal.NewInternalError("failed to load receipt analysis", err)
	}
	return FromDataModel(row, rec.RequestID), nil
}

func (s *Service) authorize(ctx context.Context, receiptID int64, actor purchase.Actor) (*receipt.Receipt, error) {
	rec, err := s.receipts.FindByID(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	req, err := s.requests.FindByID(ctx, rec.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.VisibleTo(actor) {
		return nil, purchase.ErrUnauthorizedAccess
	}
	return rec, nil
}

// ReceiptStored verifies a freshly stored receipt in the background. Drain
// waits for these.
func (s *Service) ReceiptStored(r *receipt.Receipt) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout+30*time.Second)
		defer cancel()
		if _, err := s.VerifyReceipt(ctx, r.ID, false); err != nil {
			s.logger.Error("background receipt verification failed", "error", err, "receipt_id", r.ID)
		}
	}()
}

// Drain blocks until background verifications finish or ctx is done, and
// reports whether they all finished.
func (s *Service) Drain(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func displayType(ct string) string {
	if ct == "" {
		return "(unknown)"
	}
	return ct
}
