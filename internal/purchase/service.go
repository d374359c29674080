package purchase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/purchase-approval/internal"
	purchaseDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/purchase"
	"github.com/frahmantamala/purchase-approval/internal/core/events"
)

const DefaultCurrency = "USD"

var (
	ErrRequestNotFound      = internal.ErrRequestNotFound
	ErrUnauthorizedAccess   = internal.ErrUnauthorizedAccess
	ErrInvalidRequestStatus = internal.ErrInvalidRequestStatus
	ErrAlreadyLinked        = internal.ErrRequestAlreadyLinked
)

// RepositoryAPI is the persistence boundary for purchase requests and their
// approval signatures. Status changes are conditional on the current status so
// concurrent writers cannot both win.
type RepositoryAPI interface {
	Create(ctx context.Context, r *purchaseDatamodel.PurchaseRequest) error
	GetByID(ctx context.Context, id int64) (*purchaseDatamodel.PurchaseRequest, error)
	List(ctx context.Context, filter ListFilter) ([]*purchaseDatamodel.PurchaseRequest, error)
	ListApprovedUnlinked(ctx context.Context) ([]*purchaseDatamodel.PurchaseRequest, error)
	Transition(ctx context.Context, id int64, from, to Status, updates map[string]interface{}) error
	Decide(ctx context.Context, id int64, to Status, rejectionReason *string, sig *purchaseDatamodel.ApprovalSignature) error
	LinkExternalOrder(ctx context.Context, id int64, orderID string) error
	SetExternalReceiptStatus(ctx context.Context, id int64, status ExternalReceiptStatus) error
	ListSignatures(ctx context.Context, requestID int64) ([]*purchaseDatamodel.ApprovalSignature, error)
}

type Service struct {
	repo      RepositoryAPI
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo RepositoryAPI, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) CreateRequest(ctx context.Context, actor Actor, dto CreateRequestDTO) (*PurchaseRequest, error) {
	if appErr := dto.Validate(); appErr != nil {
		s.logger.Warn("purchase request validation failed", "error", appErr.GetDetailedMessage(), "requester_id", actor.ID)
		return nil, appErr
	}
	expenseDate, _ := dto.ParsedExpenseDate()

	currency := dto.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	now := s.now()
	req := &PurchaseRequest{
		RequesterID:    actor.ID,
		RequesterName:  actor.Name,
		VendorName:     dto.VendorName,
		VendorType:     dto.VendorType,
		Description:    dto.Description,
		PurchaseAmount: dto.PurchaseAmount,
		TaxAmount:      dto.TaxAmount,
		ShippingAmount: dto.ShippingAmount,
		TotalAmount:    dto.ComputedTotal(),
		Currency:       currency,
		ExpenseDate:    expenseDate,
		Status:         StatusDraft,
	}
	if dto.Submit {
		req.Status = StatusPending
		req.SubmittedAt = &now
		if dto.SignatureRef != nil {
			req.EmployeeSignedAt = &now
			req.EmployeeSignatureRef = dto.SignatureRef
		}
	}

	row := ToDataModel(req)
	if err := s.repo.Create(ctx, row); err != nil {
		s.logger.Error("failed to create purchase request", "error", err, "requester_id", actor.ID)
		return nil, internal.NewInternalError("failed to create purchase request", err)
	}
	created := FromDataModel(row)

	s.logger.Info("purchase request created",
		"request_id", created.ID,
		"requester_id", actor.ID,
		"total", created.TotalAmount.StringFixed(2),
		"status", created.Status)

	if created.Status == StatusPending {
		s.publish(ctx, events.NewRequestStateChangedEvent(created.ID, string(StatusDraft), string(StatusPending), actor.ID))
	}
	return created, nil
}

func (s *Service) SubmitRequest(ctx context.Context, id int64, actor Actor, dto SubmitDTO) (*PurchaseRequest, error) {
	req, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != actor.ID {
		s.logger.Warn("submit denied: not the requester", "request_id", id, "user_id", actor.ID)
		return nil, ErrUnauthorizedAccess
	}
	if !req.CanSubmit() {
		return nil, ErrInvalidRequestStatus
	}

	now := s.now()
	updates := map[string]interface{}{"submitted_at": now}
	if dto.SignatureRef != nil {
		updates["employee_signed_at"] = now
		updates["employee_signature_ref"] = *dto.SignatureRef
	}
	if err := s.repo.Transition(ctx, id, StatusDraft, StatusPending, updates); err != nil {
		return nil, s.mapRepoError("submit", id, err)
	}

	s.logger.Info("purchase request submitted", "request_id", id, "requester_id", actor.ID)
	s.publish(ctx, events.NewRequestStateChangedEvent(id, string(StatusDraft), string(StatusPending), actor.ID))
	return s.FindByID(ctx, id)
}

// GetRequest returns the request when the actor may see it.
func (s *Service) GetRequest(ctx context.Context, id int64, actor Actor) (*PurchaseRequest, error) {
	req, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.VisibleTo(actor) {
		s.logger.Warn("unauthorized access to purchase request", "request_id", id, "user_id", actor.ID)
		return nil, ErrUnauthorizedAccess
	}
	return req, nil
}

// FindByID skips access control; callers are internal.
func (s *Service) FindByID(ctx context.Context, id int64) (*PurchaseRequest, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, ErrRequestNotFound
		}
		s.logger.Error("failed to load purchase request", "error", err, "request_id", id)
		return nil, internal.NewInternalError("failed to load purchase request", err)
	}
	return FromDataModel(row), nil
}

// ListRequests lists everything for approvers and only their own requests
// for everyone else.
func (s *Service) ListRequests(ctx context.Context, actor Actor, filter ListFilter) ([]*PurchaseRequest, error) {
	if !actor.Approver {
		filter.RequesterID = actor.ID
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list purchase requests", "error", err, "user_id", actor.ID)
		return nil, internal.NewInternalError("failed to list purchase requests", err)
	}
	return FromDataModelSlice(rows), nil
}

func (s *Service) ApproveRequest(ctx context.Context, id int64, actor Actor, dto DecisionDTO) (*PurchaseRequest, error) {
	return s.decide(ctx, id, actor, StatusApproved, nil, dto.Comment, dto.SignatureRef)
}

func (s *Service) RejectRequest(ctx context.Context, id int64, actor Actor, dto RejectDTO) (*PurchaseRequest, error) {
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}
	reason := dto.Reason
	return s.decide(ctx, id, actor, StatusRejected, &reason, dto.Comment, dto.SignatureRef)
}

func (s *Service) decide(ctx context.Context, id int64, actor Actor, to Status, reason, comment, signatureRef *string) (*PurchaseRequest, error) {
	if !actor.Approver {
		s.logger.Warn("decision denied: approver role required", "request_id", id, "user_id", actor.ID)
		return nil, ErrUnauthorizedAccess
	}

	req, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.CanBeDecided() {
		s.logger.Warn("cannot decide purchase request in current status",
			"request_id", id,
			"current_status", req.Status,
			"target_status", to)
		return nil, ErrInvalidRequestStatus
	}

	action := ActionApproved
	if to == StatusRejected {
		action = ActionRejected
	}
	sig := &ApprovalSignature{
		RequestID:     id,
		Action:        action,
		ApproverID:    actor.ID,
		ApproverName:  actor.Name,
		ApproverTitle: actor.Title,
		SignedAt:      s.now(),
		Comment:       comment,
		SignatureRef:  signatureRef,
	}

	if err := s.repo.Decide(ctx, id, to, reason, SignatureToDataModel(sig)); err != nil {
		return nil, s.mapRepoError("decide", id, err)
	}

	s.logger.Info("purchase request decided",
		"request_id", id,
		"approver_id", actor.ID,
		"status", to)
	s.publish(ctx, events.NewRequestStateChangedEvent(id, string(req.Status), string(to), actor.ID))

	return s.FindByID(ctx, id)
}

func (s *Service) GetSignatures(ctx context.Context, id int64) ([]*ApprovalSignature, error) {
	rows, err := s.repo.ListSignatures(ctx, id)
	if err != nil {
		s.logger.Error("failed to list signatures", "error", err, "request_id", id)
		return nil, internal.NewInternalError("failed to list signatures", err)
	}
	return SignaturesFromDataModel(rows), nil
}

// ListEligibleForMatching returns approved, unlinked requests in the vendor
// family, in a stable order (expense date, then id).
func (s *Service) ListEligibleForMatching(ctx context.Context, family string) ([]*PurchaseRequest, error) {
	rows, err := s.repo.ListApprovedUnlinked(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]*PurchaseRequest, 0, len(rows))
	for _, row := range rows {
		r := FromDataModel(row)
		if r.EligibleForOrderMatch(family) {
			eligible = append(eligible, r)
		}
	}
	return eligible, nil
}

// LinkExternalOrder attaches a vendor order to an approved request and marks
// its vendor receipt as pending. Returns ErrAlreadyLinked when another writer
// got there first.
func (s *Service) LinkExternalOrder(ctx context.Context, id int64, orderID string) error {
	if err := s.repo.LinkExternalOrder(ctx, id, orderID); err != nil {
		if errors.Is(err, ErrAlreadyLinked) {
			s.logger.Warn("order link lost the race", "request_id", id, "order_id", orderID)
			return ErrAlreadyLinked
		}
		s.logger.Error("failed to link order", "error", err, "request_id", id, "order_id", orderID)
		return err
	}
	s.logger.Info("order linked to purchase request", "request_id", id, "order_id", orderID)
	s.publish(ctx, events.NewRequestStateChangedEvent(id, string(StatusApproved), "order_linked", "system"))
	return nil
}

func (s *Service) SetExternalReceiptStatus(ctx context.Context, id int64, status ExternalReceiptStatus) error {
	if err := s.repo.SetExternalReceiptStatus(ctx, id, status); err != nil {
		s.logger.Error("failed to update external receipt status", "error", err, "request_id", id, "status", status)
		return err
	}
	return nil
}

func (s *Service) mapRepoError(op string, id int64, err error) error {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		return ErrRequestNotFound
	case errors.Is(err, ErrInvalidRequestStatus):
		s.logger.Warn("status changed concurrently", "op", op, "request_id", id)
		return ErrInvalidRequestStatus
	default:
		s.logger.Error("purchase request update failed", "op", op, "error", err, "request_id", id)
		return internal.NewInternalError("failed to update purchase request", err)
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
