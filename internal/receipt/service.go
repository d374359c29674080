package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/purchase-approval/internal"
	receiptDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/receipt"
	"github.com/frahmantamala/purchase-approval/internal/core/events"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
)

const DefaultMaxFileBytes = 20 * 1024 * 1024

var (
	ErrReceiptNotFound      = internal.ErrReceiptNotFound
	ErrReceiptStatusInvalid = internal.ErrReceiptStatusInvalid
)

var allowedContentTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// RepositoryAPI lists a request's receipts most recent first; UpdateStatus is
// conditional on the current status.
type RepositoryAPI interface {
	Create(ctx context.Context, r *receiptDatamodel.Receipt) error
	GetByID(ctx context.Context, id int64) (*receiptDatamodel.Receipt, error)
	ListByRequest(ctx context.Context, requestID int64) ([]*receiptDatamodel.Receipt, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
}

type FileStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

type RequestLookup interface {
	GetRequest(ctx context.Context, id int64, actor purchase.Actor) (*purchase.PurchaseRequest, error)
	FindByID(ctx context.Context, id int64) (*purchase.PurchaseRequest, error)
}

// UploadHook is told about every employee upload. It must not block. Vendor
// receipts are verified by whoever fetched them.
type UploadHook interface {
	ReceiptStored(r *Receipt)
}

type File struct {
	FileName    string
	ContentType string
	Data        []byte
}

type Service struct {
	repo         RepositoryAPI
	files        FileStore
	requests     RequestLookup
	hook         UploadHook
	publisher    events.Publisher
	logger       *slog.Logger
	maxFileBytes int64
	now          func() time.Time
}

func NewService(repo RepositoryAPI, files FileStore, requests RequestLookup, publisher events.Publisher, maxFileBytes int64, logger *slog.Logger) *Service {
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	return &Service{
		repo:         repo,
		files:        files,
		requests:     requests,
		publisher:    publisher,
		logger:       logger,
		maxFileBytes: maxFileBytes,
		now:          time.Now,
	}
}

// SetUploadHook wires post-upload processing. Verification depends on this
// package, so it is attached after both services exist.
func (s *Service) SetUploadHook(h UploadHook) {
	s.hook = h
}

func (s *Service) MaxFileBytes() int64 {
	return s.maxFileBytes
}

// Upload stores an employee-provided receipt against an approved request.
func (s *Service) Upload(ctx context.Context, requestID int64, actor purchase.Actor, f File) (*Receipt, error) {
	if appErr := s.validateFile(f); appErr != nil {
		return nil, appErr
	}

	req, err := s.requests.GetRequest(ctx, requestID, actor)
	if err != nil {
		return nil, err
	}
	if req.Status != purchase.StatusApproved {
		s.logger.Warn("receipt upload on non-approved request", "request_id", requestID, "status", req.Status)
		return nil, purchase.ErrInvalidRequestStatus
	}

	existing, err := s.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, internal.NewInternalError("failed to list receipts", err)
	}
	if latest := Latest(FromDataModelSlice(existing)); latest != nil && latest.Status == StatusApproved {
		return nil, internal.ErrRequestImmutable
	}

	return s.store(ctx, requestID, SourceUpload, f)
}

// AddVendorReceipt stores a receipt document downloaded from the vendor.
func (s *Service) AddVendorReceipt(ctx context.Context, requestID int64, f File) (*Receipt, error) {
	if appErr := s.validateFile(f); appErr != nil {
		return nil, appErr
	}
	if _, err := s.requests.FindByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store(ctx, requestID, SourceVendor, f)
}

func (s *Service) store(ctx context.Context, requestID int64, source Source, f File) (*Receipt, error) {
	contentType := normalizeContentType(f.ContentType)
	key := fmt.Sprintf("receipts/%d/%s%s", requestID, uuid.NewString(), allowedContentTypes[contentType])

	if err := s.files.Put(ctx, key, contentType, f.Data); err != nil {
		s.logger.Error("failed to store receipt file", "error", err, "request_id", requestID, "key", key)
		return nil, internal.NewExternalError("failed to store receipt file", err)
	}

	now := s.now()
	row := &receiptDatamodel.Receipt{
		RequestID:   requestID,
		FileKey:     key,
		FileName:    path.Base(f.FileName),
		ContentType: contentType,
		SizeBytes:   int64(len(f.Data)),
		Source:      string(source),
		Status:      string(StatusPending),
		UploadedAt:  now,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		s.logger.Error("failed to save receipt", "error", err, "request_id", requestID)
		return nil, internal.NewInternalError("failed to save receipt", err)
	}

	r := FromDataModel(row)
	s.logger.Info("receipt stored", "receipt_id", r.ID, "request_id", requestID, "source", source, "size_bytes", r.SizeBytes)

	if s.hook != nil && source == SourceUpload {
		s.hook.ReceiptStored(r)
	}
	return r, nil
}

func (s *Service) FindByID(ctx context.Context, id int64) (*Receipt, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReceiptNotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, internal.NewInternalError("failed to load receipt", err)
	}
	return FromDataModel(row), nil
}

// List returns the receipts of a request the actor can see, latest first.
func (s *Service) List(ctx context.Context, requestID int64, actor purchase.Actor) ([]*Receipt, error) {
	if _, err := s.requests.GetRequest(ctx, requestID, actor); err != nil {
		return nil, err
	}
	return s.ListForRequest(ctx, requestID)
}

func (s *Service) ListForRequest(ctx context.Context, requestID int64) ([]*Receipt, error) {
	rows, err := s.repo.ListByRequest(ctx, requestID)
	if err != nil {
		s.logger.Error("failed to list receipts", "error", err, "request_id", requestID)
		return nil, internal.NewInternalError("failed to list receipts", err)
	}
	return FromDataModelSlice(rows), nil
}

// SetStatus records an approver's review of a receipt.
func (s *Service) SetStatus(ctx context.Context, id int64, actor purchase.Actor, to Status) (*Receipt, error) {
	if !actor.Approver {
		return nil, purchase.ErrUnauthorizedAccess
	}
	if !to.Valid() {
		return nil, internal.NewValidationFieldError("status", "must be one of pending, needs_info, approved", internal.ErrCodeValidationFailed)
	}

	current, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(to) {
		s.logger.Warn("receipt status transition refused", "receipt_id", id, "from", current.Status, "to", to)
		return nil, ErrReceiptStatusInvalid
	}

	if err := s.repo.UpdateStatus(ctx, id, current.Status, to); err != nil {
		if errors.Is(err, ErrReceiptStatusInvalid) {
			return nil, ErrReceiptStatusInvalid
		}
		s.logger.Error("failed to update receipt status", "error", err, "receipt_id", id)
		return nil, internal.NewInternalError("failed to update receipt status", err)
	}

	s.logger.Info("receipt reviewed", "receipt_id", id, "request_id", current.RequestID, "from", current.Status, "to", to, "approver_id", actor.ID)
	s.publish(ctx, events.NewRequestStateChangedEvent(current.RequestID, "receipt_"+string(current.Status), "receipt_"+string(to), actor.ID))

	current.Status = to
	current.UpdatedAt = s.now()
	return current, nil
}

func (s *Service) validateFile(f File) *internal.AppError {
	if len(f.Data) == 0 {
		return internal.NewValidationFieldError("file", "file is empty", internal.ErrCodeValidationFailed)
	}
	if int64(len(f.Data)) > s.maxFileBytes {
		return internal.NewValidationFieldError("file", fmt.Sprintf("file exceeds %d bytes", s.maxFileBytes), internal.ErrCodeValidationFailed)
	}
	if _, ok := allowedContentTypes[normalizeContentType(f.ContentType)]; !ok {
		return internal.NewValidationFieldError("file", "file must be a JPEG, PNG, GIF, WebP image or a PDF", internal.ErrCodeValidationFailed)
	}
	return nil
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
