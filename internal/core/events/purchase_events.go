package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderMatched        = "order.matched"
	EventTypeReceiptVerified     = "receipt.verified"
	EventTypeRequestStateChanged = "request.state_changed"
)

type OrderMatchedEvent struct {
	BaseEvent
	OrderID    string `json:"order_id"`
	RequestID  int64  `json:"request_id"`
	Confidence int    `json:"confidence"`
	AutoLinked bool   `json:"auto_linked"`
}

func NewOrderMatchedEvent(orderID string, requestID int64, confidence int, autoLinked bool) *OrderMatchedEvent {
	return &OrderMatchedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderMatched,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":    orderID,
				"request_id":  requestID,
				"confidence":  confidence,
				"auto_linked": autoLinked,
			},
		},
		OrderID:    orderID,
		RequestID:  requestID,
		Confidence: confidence,
		AutoLinked: autoLinked,
	}
}

type ReceiptVerifiedEvent struct {
	BaseEvent
	ReceiptID      int64  `json:"receipt_id"`
	RequestID      int64  `json:"request_id"`
	Confidence     int    `json:"confidence"`
	Recommendation string `json:"recommendation"`
	Fallback       bool   `json:"fallback"`
}

func NewReceiptVerifiedEvent(receiptID, requestID int64, confidence int, recommendation string, fallback bool) *ReceiptVerifiedEvent {
	return &ReceiptVerifiedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeReceiptVerified,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"receipt_id":     receiptID,
				"request_id":     requestID,
				"confidence":     confidence,
				"recommendation": recommendation,
				"fallback":       fallback,
			},
		},
		ReceiptID:      receiptID,
		RequestID:      requestID,
		Confidence:     confidence,
		Recommendation: recommendation,
		Fallback:       fallback,
	}
}

// RequestStateChangedEvent fires on every transition that changes the
// request's journey: submission, decision, order link and receipt review.
type RequestStateChangedEvent struct {
	BaseEvent
	RequestID int64  `json:"request_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	ActorID   string `json:"actor_id"`
}

func NewRequestStateChangedEvent(requestID int64, from, to, actorID string) *RequestStateChangedEvent {
	return &RequestStateChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeRequestStateChanged,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"request_id": requestID,
				"from":       from,
				"to":         to,
				"actor_id":   actorID,
			},
		},
		RequestID: requestID,
		From:      from,
		To:        to,
		ActorID:   actorID,
	}
}
