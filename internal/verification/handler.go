package verification

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/transport"
	"github.com/frahmantamala/purchase-approval/pkg/logger"
)

type ServiceAPI interface {
	RequestVerification(ctx context.Context, receiptID int64, actor purchase.Actor, force bool) (*Analysis, error)
	GetAnalysis(ctx context.Context, receiptID int64, actor purchase.Actor) (*Analysis, error)
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

// VerifyReceipt returns the cached analysis, or runs one when none exists or
// force=true.
func (h *Handler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		f, err := strconv.ParseBool(raw)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = f
	}

	analysis, err := h.Service.RequestVerification(r.Context(), id, purchase.ActorFromUser(user), force)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, analysis)
}

func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	analysis, err := h.Service.GetAnalysis(r.Context(), id, purchase.ActorFromUser(user))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, analysis)
}
