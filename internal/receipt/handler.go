package receipt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/transport"
	"github.com/frahmantamala/purchase-approval/pkg/logger"
)

const multipartOverhead = 1 << 20

type ServiceAPI interface {
	Upload(ctx context.Context, requestID int64, actor purchase.Actor, f File) (*Receipt, error)
	List(ctx context.Context, requestID int64, actor purchase.Actor) ([]*Receipt, error)
	SetStatus(ctx context.Context, id int64, actor purchase.Actor, to Status) (*Receipt, error)
	MaxFileBytes() int64
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

type StatusDTO struct {
	Status Status `json:"status"`
}

// Upload expects a multipart form with the receipt in the "file" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	requestID, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	maxBytes := h.Service.MaxFileBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		h.Logger.Error("Upload: invalid multipart body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid multipart body or file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.Logger.Error("Upload: failed to read file", "error", err)
		h.WriteError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	rec, err := h.Service.Upload(r.Context(), requestID, purchase.ActorFromUser(user), File{
		FileName:    header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	requestID, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	receipts, err := h.Service.List(r.Context(), requestID, purchase.ActorFromUser(user))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"receipts": receipts})
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	var dto StatusDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.Service.SetStatus(r.Context(), id, purchase.ActorFromUser(user), dto.Status)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, rec)
}
