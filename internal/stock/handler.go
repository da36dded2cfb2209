package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/partsflow/partsflow/internal/platform/httpx"
	"github.com/partsflow/partsflow/internal/shared"
)

// Handler wires stock HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/low", h.handleLowStock)
	r.Get("/{partID}", h.handleGet)
	r.Get("/{partID}/ledger", h.handleLedger)
	r.Post("/adjustments", h.handleAdjust)
}

type entryView struct {
	Entry
	Status EntryStatus `json:"status"`
}

func viewOf(e Entry) entryView {
	return entryView{Entry: e, Status: e.Status()}
}

// AdjustRequest is the manual adjustment payload (receipts, corrections).
type AdjustRequest struct {
	PartID int64  `json:"part_id" validate:"required,gt=0"`
	Delta  int64  `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,min=3,max=200"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	partID, err := strconv.ParseInt(chi.URLParam(r, "partID"), 10, 64)
	if err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid part id")
		return
	}
	entry, err := h.service.GetEntry(r.Context(), partID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(entry))
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	partID, err := strconv.ParseInt(chi.URLParam(r, "partID"), 10, 64)
	if err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid part id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.ListLedger(r.Context(), partID, limit)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListLowStock(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, viewOf(e))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	entry, err := h.service.Adjust(r.Context(), AdjustInput{
		PartID:    req.PartID,
		Delta:     req.Delta,
		Reason:    req.Reason,
		ActorID:   actor.ID,
		RefModule: "STOCK",
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(entry))
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEntryNotFound):
		httpx.ProblemKind(w, httpx.KindNotFound, err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.ProblemKind(w, httpx.KindInsufficientStock, err.Error())
	case errors.Is(err, ErrInvalidAdjustment):
		httpx.ProblemKind(w, httpx.KindValidation, err.Error())
	default:
		h.logger.Error("stock request failed", slog.Any("error", err))
		httpx.Internal(w)
	}
}
