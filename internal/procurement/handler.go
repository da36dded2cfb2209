package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/platform/httpx"
	"github.com/partsflow/partsflow/internal/shared"
)

// DocumentRenderer produces printable documents for purchase orders.
type DocumentRenderer interface {
	RenderPurchaseOrder(ctx context.Context, po PurchaseOrder) ([]byte, error)
}

// Handler wires purchase order HTTP endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validate  *validator.Validate
	documents DocumentRenderer
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// WithDocuments enables the printable document endpoint.
func (h *Handler) WithDocuments(renderer DocumentRenderer) *Handler {
	h.documents = renderer
	return h
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/submit", h.handleSubmit)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/reject", h.handleReject)
	r.Get("/{id}/fulfillment", h.handleFulfillment)
	r.Get("/{id}/document", h.handleDocument)
}

// CreateRequest is the purchase order intake payload.
type CreateRequest struct {
	ServiceCenterID int64               `json:"service_center_id" validate:"required,gt=0"`
	Priority        string              `json:"priority" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	Submit          bool                `json:"submit"`
	Lines           []CreateLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CreateLineRequest is one requested part. At least one identifier must be
// present; the service resolves it against the catalog.
type CreateLineRequest struct {
	PartID     int64  `json:"part_id" validate:"omitempty,gt=0"`
	PartNumber string `json:"part_number" validate:"omitempty,max=100"`
	PartName   string `json:"part_name" validate:"omitempty,max=200"`
	Qty        int64  `json:"qty" validate:"required,gt=0"`
}

// ApproveRequest carries optional per-line quantity overrides.
type ApproveRequest struct {
	Overrides []ApproveLineRequest `json:"overrides" validate:"omitempty,dive"`
}

// ApproveLineRequest overrides one line. Zero rejects the line.
type ApproveLineRequest struct {
	LineID      int64 `json:"line_id" validate:"required,gt=0"`
	ApprovedQty int64 `json:"approved_qty" validate:"gte=0"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	input := CreateInput{
		ServiceCenterID: req.ServiceCenterID,
		RequestedBy:     actor.ID,
		Priority:        Priority(req.Priority),
		Submit:          req.Submit,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			PartID:     line.PartID,
			PartNumber: line.PartNumber,
			PartName:   line.PartName,
			Qty:        line.Qty,
		})
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scID, err := strconv.ParseInt(r.URL.Query().Get("service_center_id"), 10, 64)
	if err != nil || scID <= 0 {
		httpx.ProblemKind(w, httpx.KindValidation, "service_center_id query parameter required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.service.ListByServiceCenter(r.Context(), scID, limit)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	po, err := h.service.SubmitPurchaseOrder(r.Context(), id, actor.ID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
		return
	}
	overrides := make([]LineOverride, 0, len(req.Overrides))
	for _, o := range req.Overrides {
		overrides = append(overrides, LineOverride{LineID: o.LineID, ApprovedQty: o.ApprovedQty})
	}
	actor := shared.ActorFromContext(r.Context())
	po, err := h.service.ApprovePurchaseOrder(r.Context(), id, actor.ID, overrides)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	po, err := h.service.RejectPurchaseOrder(r.Context(), id, actor.ID, req.Reason)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleFulfillment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	snap, err := h.service.FulfillmentSnapshot(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	if h.documents == nil {
		httpx.Problem(w, http.StatusNotImplemented, httpx.KindInternal, "Not Implemented", "document rendering is not configured")
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	pdf, err := h.documents.RenderPurchaseOrder(r.Context(), po)
	if err != nil {
		h.logger.Error("render purchase order document", slog.Any("error", err))
		httpx.Internal(w)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", po.Number))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) poID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid purchase order id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.ProblemKind(w, httpx.KindNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
	case errors.Is(err, ErrAlreadyDecided):
		httpx.ProblemKind(w, httpx.KindAlreadyDecided, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.ProblemKind(w, httpx.KindInvalidTransition, err.Error())
	case errors.Is(err, catalog.ErrUnavailable):
		httpx.ProblemKind(w, httpx.KindCatalogUnavailable, "part catalog is unavailable, retry later")
	default:
		h.logger.Error("procurement request failed", slog.Any("error", err))
		httpx.Internal(w)
	}
}
