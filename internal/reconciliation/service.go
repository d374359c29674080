package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/purchase-approval/internal"
	vendororderDatamodel "github.com/frahmantamala/purchase-approval/internal/core/datamodel/vendororder"
	"github.com/frahmantamala/purchase-approval/internal/core/events"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/vendorapi"
)

var (
	ErrOrderNotFound   = errors.New("external order not found")
	ErrSyncRunNotFound = internal.ErrSyncRunNotFound
)

// OrderSource lists vendor orders.
type OrderSource interface {
	Configured() bool
	ListOrders(ctx context.Context, since time.Time) ([]vendorapi.Order, error)
}

// PurchaseServiceAPI is what a sync pass needs from purchase requests.
type PurchaseServiceAPI interface {
	ListEligibleForMatching(ctx context.Context, family string) ([]*purchase.PurchaseRequest, error)
	FindByID(ctx context.Context, id int64) (*purchase.PurchaseRequest, error)
	LinkExternalOrder(ctx context.Context, id int64, orderID string) error
	SetExternalReceiptStatus(ctx context.Context, id int64, status purchase.ExternalReceiptStatus) error
}

// ReceiptFetchTrigger queues the vendor receipt download for a linked order.
type ReceiptFetchTrigger interface {
	TriggerReceiptFetch(orderID string, requestID int64) error
}

type RepositoryAPI interface {
	GetOrder(ctx context.Context, id string) (*vendororderDatamodel.ExternalOrder, error)
	SaveOrder(ctx context.Context, o *vendororderDatamodel.ExternalOrder) (bool, error)
	ReplaceOrder(ctx context.Context, o *vendororderDatamodel.ExternalOrder) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]*vendororderDatamodel.ExternalOrder, error)
	CreateSyncRun(ctx context.Context, r *vendororderDatamodel.SyncRun) error
	UpdateSyncRun(ctx context.Context, r *vendororderDatamodel.SyncRun) error
	LatestSyncRun(ctx context.Context) (*vendororderDatamodel.SyncRun, error)
}

type OrderFilter struct {
	Status SyncStatus
	Limit  int
	Offset int
}

type SyncOptions struct {
	Since   *time.Time
	Force   bool
	Trigger string
}

type Config struct {
	VendorFamily      string
	MatchThreshold    int
	AutoLinkThreshold int
	LookbackDays      int
}

type Service struct {
	repo      RepositoryAPI
	source    OrderSource
	purchases PurchaseServiceAPI
	fetcher   ReceiptFetchTrigger
	publisher events.Publisher
	engine    Engine
	lookback  int
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	repo RepositoryAPI,
	source OrderSource,
	purchases PurchaseServiceAPI,
	fetcher ReceiptFetchTrigger,
	publisher events.Publisher,
	config Config,
	logger *slog.Logger,
) *Service {
	lookback := config.LookbackDays
	if lookback <= 0 {
		lookback = 30
	}
	return &Service{
		repo:      repo,
		source:    source,
		purchases: purchases,
		fetcher:   fetcher,
		publisher: publisher,
		engine:    NewEngine(config.VendorFamily, config.MatchThreshold, config.AutoLinkThreshold),
		lookback:  lookback,
		logger:    logger,
		now:       time.Now,
	}
}

// SyncOrders runs one reconciliation pass. Configuration and upstream
// problems are reported on the returned run, not as an error; the error is
// reserved for failing to record the run at all.
func (s *Service) SyncOrders(ctx context.Context, opts SyncOptions) (*SyncRun, error) {
	started := s.now()
	since := started.AddDate(0, 0, -s.lookback)
	if opts.Since != nil {
		since = *opts.Since
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}

	run := &SyncRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Force:     opts.Force,
		Since:     since,
		Status:    RunStatusRunning,
		StartedAt: started,
	}
	if err := s.repo.CreateSyncRun(ctx, SyncRunToDataModel(run)); err != nil {
		s.logger.Error("failed to record sync run", "error", err)
		return nil, internal.NewInternalError("failed to record sync run", err)
	}

	log := s.logger.With("sync_run_id", run.ID, "force", opts.Force)

	if s.source == nil || !s.source.Configured() {
		log.Warn("order sync skipped: vendor api not configured")
		detail := "vendor API credentials are not configured"
		return s.finish(ctx, run, RunStatusNotConfigured, &detail)
	}

	orders, err := s.source.ListOrders(ctx, since)
	if err != nil {
		log.Error("failed to list vendor orders", "error", err)
		detail := err.Error()
		return s.finish(ctx, run, RunStatusFailed, &detail)
	}

	candidates, err := s.purchases.ListEligibleForMatching(ctx, s.engine.VendorFamily)
	if err != nil {
		log.Error("failed to load candidate requests", "error", err)
		detail := fmt.Sprintf("failed to load candidate requests: %v", err)
		return s.finish(ctx, run, RunStatusFailed, &detail)
	}

	log.Info("order sync started", "orders", len(orders), "candidates", len(candidates), "since", since.Format(time.DateOnly))

	for _, vo := range orders {
		if ctx.Err() != nil {
			detail := ctx.Err().Error()
			return s.finish(ctx, run, RunStatusFailed, &detail)
		}

		status, linkedID, err := s.processOrder(ctx, vo, candidates, opts.Force)
		if err != nil {
			log.Error("order processing failed", "order_id", vo.ID, "error", err)
			run.count(SyncStatusFailed)
			continue
		}
		if linkedID != 0 {
			candidates = without(candidates, linkedID)
		}
		if status == "" {
			run.Skipped++
			continue
		}
		run.count(status)
	}

	return s.finish(ctx, run, RunStatusCompleted, nil)
}

// processOrder scores and records one order. An empty status means the
// order was skipped. linkedID is the request taken out of the candidate pool.
func (s *Service) processOrder(ctx context.Context, vo vendorapi.Order, candidates []*purchase.PurchaseRequest, force bool) (SyncStatus, int64, error) {
	existing, err := s.repo.GetOrder(ctx, vo.ID)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return "", 0, fmt.Errorf("load order: %w", err)
	}

	var linkedID int64
	if existing != nil && SyncStatus(existing.SyncStatus) == SyncStatusMatched && existing.MatchRequestID != nil {
		if !force {
			return "", 0, nil
		}
		linkedID = *existing.MatchRequestID
	}

	if vo.DecodeErr != nil {
		return s.recordUndecodable(ctx, vo)
	}

	order := OrderFromVendor(vo)
	row := &vendororderDatamodel.ExternalOrder{
		ID:           order.ID,
		TotalAmount:  order.Total(),
		RawTotal:     order.RawTotal,
		Currency:     order.Currency,
		OrderDate:    order.CreatedAt,
		RawPayload:   string(vo.Raw),
		LastSyncedAt: s.now(),
	}

	if linkedID != 0 {
		status := s.rescoreLinked(ctx, order, linkedID, candidates, row)
		if err := s.repo.ReplaceOrder(ctx, row); err != nil {
			return "", 0, fmt.Errorf("save order: %w", err)
		}
		return status, 0, nil
	}

	lostRace := false
	result := s.engine.FindBestMatch(order, candidates)
	switch {
	case result == nil:
		row.SyncStatus = string(SyncStatusUnmatched)
		row.MatchReasons = []string{}

	case result.AutoLink:
		row.MatchRequestID = &result.RequestID
		row.MatchConfidence = result.Confidence
		row.MatchReasons = result.Reasons

		err := s.purchases.LinkExternalOrder(ctx, result.RequestID, order.ID)
		switch {
		case err == nil:
			row.SyncStatus = string(SyncStatusMatched)
		case errors.Is(err, purchase.ErrAlreadyLinked):
			// another writer linked the request first; leave it for review
			lostRace = true
			row.SyncStatus = string(SyncStatusPending)
			row.MatchReasons = append(row.MatchReasons, "Request was linked to another order; needs review")
		default:
			reason := fmt.Sprintf("failed to link request %d: %v", result.RequestID, err)
			row.SyncStatus = string(SyncStatusFailed)
			row.FailureReason = &reason
		}

	default:
		row.SyncStatus = string(SyncStatusPending)
		row.MatchRequestID = &result.RequestID
		row.MatchConfidence = result.Confidence
		row.MatchReasons = result.Reasons
	}

	saved, err := s.repo.SaveOrder(ctx, row)
	if err != nil {
		return "", 0, fmt.Errorf("save order: %w", err)
	}
	if !saved {
		// a concurrent pass matched this order between our read and write
		s.logger.Info("order already matched by another pass", "order_id", order.ID)
		if lostRace {
			return "", result.RequestID, nil
		}
		return "", 0, nil
	}

	status := SyncStatus(row.SyncStatus)
	if result == nil {
		return status, 0, nil
	}

	switch status {
	case SyncStatusMatched:
		s.logger.Info("order auto-linked", "order_id", order.ID, "request_id", result.RequestID, "confidence", result.Confidence)
		s.publish(ctx, events.NewOrderMatchedEvent(order.ID, result.RequestID, result.Confidence, true))
		s.triggerReceiptFetch(ctx, order.ID, result.RequestID)
		return status, result.RequestID, nil
	case SyncStatusPending:
		s.publish(ctx, events.NewOrderMatchedEvent(order.ID, result.RequestID, result.Confidence, false))
		if lostRace {
			return status, result.RequestID, nil
		}
	}
	return status, 0, nil
}

// rescoreLinked handles a forced re-sync of an order that is already linked.
// The link is never moved: if the linked request still wins, the order stays
// matched with fresh scores, otherwise it drops to pending for review.
func (s *Service) rescoreLinked(ctx context.Context, order Order, linkedID int64, candidates []*purchase.PurchaseRequest, row *vendororderDatamodel.ExternalOrder) SyncStatus {
	row.MatchRequestID = &linkedID

	pool := candidates
	if linked, err := s.purchases.FindByID(ctx, linkedID); err == nil {
		pool = append([]*purchase.PurchaseRequest{linked}, without(candidates, linkedID)...)
	} else {
		s.logger.Warn("linked request could not be loaded for re-sync", "order_id", order.ID, "request_id", linkedID, "error", err)
	}

	result := s.engine.FindBestMatch(order, pool)
	if result != nil && result.RequestID == linkedID {
		row.SyncStatus = string(SyncStatusMatched)
		row.MatchConfidence = result.Confidence
		row.MatchReasons = result.Reasons
		return SyncStatusMatched
	}

	row.SyncStatus = string(SyncStatusPending)
	row.MatchReasons = []string{}
	if result != nil {
		row.MatchConfidence = result.Confidence
		row.MatchReasons = append(row.MatchReasons, result.Reasons...)
		row.MatchReasons = append(row.MatchReasons, fmt.Sprintf("Re-sync prefers request %d over linked request %d; link kept", result.RequestID, linkedID))
	} else {
		row.MatchReasons = append(row.MatchReasons, fmt.Sprintf("Linked request %d no longer scores as a match; link kept", linkedID))
	}
	s.logger.Warn("forced re-sync disagrees with existing link", "order_id", order.ID, "request_id", linkedID)
	return SyncStatusPending
}

// recordUndecodable stores an order the vendor sent in a shape we could not
// read. A matched row keeps its link.
func (s *Service) recordUndecodable(ctx context.Context, vo vendorapi.Order) (SyncStatus, int64, error) {
	if vo.ID == "" {
		return "", 0, vo.DecodeErr
	}
	reason := vo.DecodeErr.Error()
	saved, err := s.repo.SaveOrder(ctx, &vendororderDatamodel.ExternalOrder{
		ID:            vo.ID,
		SyncStatus:    string(SyncStatusFailed),
		MatchReasons:  []string{},
		FailureReason: &reason,
		RawPayload:    string(vo.Raw),
		LastSyncedAt:  s.now(),
	})
	if err != nil {
		return "", 0, fmt.Errorf("save order: %w", err)
	}
	if !saved {
		return "", 0, nil
	}
	return SyncStatusFailed, 0, nil
}

func (s *Service) triggerReceiptFetch(ctx context.Context, orderID string, requestID int64) {
	if s.fetcher == nil {
		return
	}
	if err := s.fetcher.TriggerReceiptFetch(orderID, requestID); err != nil {
		s.logger.Warn("could not queue receipt fetch", "order_id", orderID, "request_id", requestID, "error", err)
		if err := s.purchases.SetExternalReceiptStatus(ctx, requestID, purchase.ExternalReceiptFailed); err != nil {
			s.logger.Error("failed to mark receipt fetch failed", "request_id", requestID, "error", err)
		}
	}
}

func (s *Service) finish(ctx context.Context, run *SyncRun, status RunStatus, detail *string) (*SyncRun, error) {
	finished := s.now()
	run.Status = status
	run.ErrorDetail = detail
	run.FinishedAt = &finished

	// a cancelled pass still records how it ended
	if err := s.repo.UpdateSyncRun(context.WithoutCancel(ctx), SyncRunToDataModel(run)); err != nil {
		s.logger.Error("failed to update sync run", "sync_run_id", run.ID, "error", err)
		return nil, internal.NewInternalError("failed to update sync run", err)
	}

	s.logger.Info("order sync finished",
		"sync_run_id", run.ID,
		"status", run.Status,
		"processed", run.Processed,
		"matched", run.Matched,
		"pending", run.Pending,
		"unmatched", run.Unmatched,
		"skipped", run.Skipped,
		"failed", run.Failed)
	return run, nil
}

func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]*ExternalOrder, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	rows, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list external orders", "error", err)
		return nil, internal.NewInternalError("failed to list external orders", err)
	}
	return ExternalOrdersFromDataModel(rows), nil
}

func (s *Service) LatestSyncRun(ctx context.Context) (*SyncRun, error) {
	row, err := s.repo.LatestSyncRun(ctx)
	if err != nil {
		if errors.Is(err, ErrSyncRunNotFound) {
			return nil, ErrSyncRunNotFound
		}
		return nil, internal.NewInternalError("failed to load sync run", err)
	}
	return SyncRunFromDataModel(row), nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func without(reqs []*purchase.PurchaseRequest, id int64) []*purchase.PurchaseRequest {
	out := make([]*purchase.PurchaseRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
