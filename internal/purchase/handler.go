package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/internal/transport"
	"github.com/frahmantamala/purchase-approval/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	CreateRequest(ctx context.Context, actor Actor, dto CreateRequestDTO) (*PurchaseRequest, error)
	SubmitRequest(ctx context.Context, id int64, actor Actor, dto SubmitDTO) (*PurchaseRequest, error)
	GetRequest(ctx context.Context, id int64, actor Actor) (*PurchaseRequest, error)
	ListRequests(ctx context.Context, actor Actor, filter ListFilter) ([]*PurchaseRequest, error)
	ApproveRequest(ctx context.Context, id int64, actor Actor, dto DecisionDTO) (*PurchaseRequest, error)
	RejectRequest(ctx context.Context, id int64, actor Actor, dto RejectDTO) (*PurchaseRequest, error)
	GetSignatures(ctx context.Context, id int64) ([]*ApprovalSignature, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// ActorFromUser maps the authenticated caller onto the domain actor.
func ActorFromUser(u *auth.User) Actor {
	return Actor{
		ID:       u.ID,
		Name:     u.Name,
		Title:    u.Title,
		Approver: u.IsApprover(),
	}
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.Logger.Error("CreateRequest: user not found in context")
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto CreateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("CreateRequest: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.Service.CreateRequest(r.Context(), ActorFromUser(user), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	var dto SubmitDTO
	if !h.decodeOptional(w, r, &dto) {
		return
	}

	req, err := h.Service.SubmitRequest(r.Context(), id, ActorFromUser(user), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	req, err := h.Service.GetRequest(r.Context(), id, ActorFromUser(user))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	filter := ListFilter{Limit: 20}
	q := r.URL.Query()
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			filter.Limit = l
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}
	if status := q.Get("status"); status != "" {
		if !Status(status).Valid() {
			h.WriteError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = Status(status)
	}
	if requester := q.Get("requester_id"); requester != "" {
		filter.RequesterID = requester
	}

	requests, err := h.Service.ListRequests(r.Context(), ActorFromUser(user), filter)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	var dto DecisionDTO
	if !h.decodeOptional(w, r, &dto) {
		return
	}

	req, err := h.Service.ApproveRequest(r.Context(), id, ActorFromUser(user), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.Logger.Info("ApproveRequest: request approved", "request_id", id, "approver_id", user.ID)
	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	var dto RejectDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("RejectRequest: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.Service.RejectRequest(r.Context(), id, ActorFromUser(user), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.Logger.Info("RejectRequest: request rejected", "request_id", id, "approver_id", user.ID)
	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) GetSignatures(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	if _, err := h.Service.GetRequest(r.Context(), id, ActorFromUser(user)); err != nil {
		h.WriteAppError(w, err)
		return
	}

	sigs, err := h.Service.GetSignatures(r.Context(), id)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"signatures": sigs})
}

func (h *Handler) requestID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.Logger.Error("invalid request ID", "id", idStr)
		h.WriteError(w, http.StatusBadRequest, "invalid request ID")
		return 0, false
	}
	return id, true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.Logger.Error("invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
