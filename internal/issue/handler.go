package issue

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/platform/httpx"
	"github.com/partsflow/partsflow/internal/shared"
	"github.com/partsflow/partsflow/internal/stock"
)

// Handler wires issue HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs issue handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers issue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/reject", h.handleReject)
	r.Post("/{id}/issue", h.handleIssue)
	r.Post("/{id}/dispatches", h.handleDispatch)
	r.Post("/{id}/returns", h.handleReturn)
}

// CreateRequest is the issue intake payload.
type CreateRequest struct {
	POID            int64               `json:"po_id" validate:"omitempty,gt=0"`
	ServiceCenterID int64               `json:"service_center_id" validate:"required,gt=0"`
	Lines           []CreateLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CreateLineRequest is one requested part.
type CreateLineRequest struct {
	PartID         int64  `json:"part_id" validate:"omitempty,gt=0"`
	PartNumber     string `json:"part_number" validate:"omitempty,max=100"`
	PartName       string `json:"part_name" validate:"omitempty,max=200"`
	SourceBucketID int64  `json:"source_bucket_id" validate:"omitempty,gt=0"`
	Qty            int64  `json:"qty" validate:"required,gt=0"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// IssueRequest triggers the stock deduction. Quantities optionally caps
// issued quantity per line.
type IssueRequest struct {
	Quantities map[int64]int64 `json:"quantities"`
}

// DispatchRequest records one shipment leg.
type DispatchRequest struct {
	LineID     int64  `json:"line_id" validate:"required,gt=0"`
	Qty        int64  `json:"qty" validate:"required,gt=0"`
	SubOrderID string `json:"sub_order_id" validate:"required,max=100"`
	Carrier    string `json:"carrier" validate:"omitempty,max=100"`
}

// ReturnRequest books parts back into stock.
type ReturnRequest struct {
	Reason string              `json:"reason" validate:"required,min=3,max=500"`
	Lines  []ReturnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ReturnLineRequest is one returned part.
type ReturnLineRequest struct {
	PartID int64 `json:"part_id" validate:"required,gt=0"`
	Qty    int64 `json:"qty" validate:"required,gt=0"`
}

type createResponse struct {
	Request
	Warnings []ShortfallWarning `json:"warnings,omitempty"`
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
		POID:            req.POID,
		ServiceCenterID: req.ServiceCenterID,
		RequestedBy:     actor.ID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			PartID:         line.PartID,
			PartNumber:     line.PartNumber,
			PartName:       line.PartName,
			SourceBucketID: line.SourceBucketID,
			Qty:            line.Qty,
		})
	}
	created, warnings, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, createResponse{Request: created, Warnings: warnings})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scID, err := strconv.ParseInt(r.URL.Query().Get("service_center_id"), 10, 64)
	if err != nil || scID <= 0 {
		httpx.ProblemKind(w, httpx.KindValidation, "service_center_id query parameter required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	issues, err := h.service.ListByServiceCenter(r.Context(), scID, limit)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, issues)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.issueID(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.issueID(w, r)
	if !ok {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	req, err := h.service.AdminApprove(r.Context(), id, actor.ID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.issueID(w, r)
	if !ok {
		return
	}
	var body RejectRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	req, err := h.service.AdminReject(r.Context(), id, actor.ID, body.Reason)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.issueID(w, r)
	if !ok {
		return
	}
	var body IssueRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid JSON body")
		return
	}
	actor := shared.ActorFromContext(r.Context())
	req, err := h.service.IssueParts(r.Context(), IssueInput{
		IssueID:        id,
		ActorID:        actor.ID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Quantities:     body.Quantities,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.issueID(w, r)
	if !ok {
		return
	}
	var body DispatchRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	rec, err := h.service.RecordDispatch(r.Context(), DispatchInput{
		IssueID:    id,
		LineID:     body.LineID,
		Qty:        body.Qty,
		SubOrderID: body.SubOrderID,
		Carrier:    body.Carrier,
		ActorID:    actor.ID,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.issueID(w, r)
	if !ok {
		return
	}
	var body ReturnRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	input := ReturnInput{IssueID: id, ActorID: actor.ID, Reason: body.Reason}
	for _, line := range body.Lines {
		input.Lines = append(input.Lines, ReturnLine{PartID: line.PartID, Qty: line.Qty})
	}
	entries, err := h.service.CreateReturn(r.Context(), input)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) issueID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid issue id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPONotFound):
		httpx.ProblemKind(w, httpx.KindNotFound, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrSeparationOfDuties):
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
	case errors.Is(err, ErrAlreadyIssued):
		httpx.ProblemKind(w, httpx.KindAlreadyIssued, err.Error())
	case errors.Is(err, ErrAlreadyDecided):
		httpx.ProblemKind(w, httpx.KindAlreadyDecided, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.ProblemKind(w, httpx.KindInvalidTransition, err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.ProblemKind(w, httpx.KindConflict, "request already processed")
	case errors.Is(err, stock.ErrInsufficientStock):
		httpx.ProblemKind(w, httpx.KindInsufficientStock, err.Error())
	case errors.Is(err, catalog.ErrUnavailable):
		httpx.ProblemKind(w, httpx.KindCatalogUnavailable, "part catalog is unavailable, retry later")
	default:
		h.logger.Error("issue request failed", slog.Any("error", err))
		httpx.Internal(w)
	}
}
