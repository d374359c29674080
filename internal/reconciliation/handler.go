package reconciliation

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/internal/transport"
	"github.com/frahmantamala/purchase-approval/pkg/logger"
)

type ServiceAPI interface {
	SyncOrders(ctx context.Context, opts SyncOptions) (*SyncRun, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*ExternalOrder, error)
	LatestSyncRun(ctx context.Context) (*SyncRun, error)
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

// SyncOrders runs a reconciliation pass inline and returns its run record.
func (h *Handler) SyncOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	opts := SyncOptions{Trigger: TriggerManual}
	q := r.URL.Query()
	if force := q.Get("force"); force != "" {
		f, err := strconv.ParseBool(force)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		opts.Force = f
	}
	if sinceStr := q.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.DateOnly, sinceStr)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "since must be formatted as YYYY-MM-DD")
			return
		}
		opts.Since = &since
	}

	h.Logger.Info("SyncOrders: sync requested", "user_id", user.ID, "force", opts.Force)

	run, err := h.Service.SyncOrders(r.Context(), opts)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, run)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := OrderFilter{Limit: 50}
	q := r.URL.Query()
	if status := q.Get("status"); status != "" {
		if !SyncStatus(status).Valid() {
			h.WriteError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = SyncStatus(status)
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			filter.Limit = l
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	orders, err := h.Service.ListOrders(r.Context(), filter)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handler) LatestSyncRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.LatestSyncRun(r.Context())
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, run)
}
