package journey

import (
	"context"

	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
)

type RequestSource interface {
	GetRequest(ctx context.Context, id int64, actor purchase.Actor) (*purchase.PurchaseRequest, error)
	GetSignatures(ctx context.Context, id int64) ([]*purchase.ApprovalSignature, error)
}

type ReceiptSource interface {
	ListForRequest(ctx context.Context, requestID int64) ([]*receipt.Receipt, error)
}

// Service loads the inputs for Build fresh on every call.
type Service struct {
	requests RequestSource
	receipts ReceiptSource
}

func NewService(requests RequestSource, receipts ReceiptSource) *Service {
	return &Service{requests: requests, receipts: receipts}
}

func (s *Service) GetJourney(ctx context.Context, requestID int64, actor purchase.Actor) ([]Step, error) {
	req, err := s.requests.GetRequest(ctx, requestID, actor)
	if err != nil {
		return nil, err
	}
	sigs, err := s.requests.GetSignatures(ctx, requestID)
	if err != nil {
		return nil, err
	}
	receipts, err := s.receipts.ListForRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return Build(req, sigs, receipts, req.ExternalOrderID), nil
}
