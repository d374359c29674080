package journey

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/transport"
	"github.com/frahmantamala/purchase-approval/pkg/logger"
)

type ServiceAPI interface {
	GetJourney(ctx context.Context, requestID int64, actor purchase.Actor) ([]Step, error)
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

func (h *Handler) GetJourney(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	steps, err := h.Service.GetJourney(r.Context(), id, purchase.ActorFromUser(user))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": id,
		"steps":      steps,
	})
}
