package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/partsflow/partsflow/internal/platform/httpx"
)

// Handler wires catalog lookup endpoints. These exist as a debug aid for
// operators; order intake consumes the service directly.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/resolve", h.handleResolve)
	r.Get("/{id}", h.handleGet)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := Ref{Number: q.Get("number"), Name: q.Get("name")}
	if idStr := q.Get("id"); idStr != "" {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			httpx.ProblemKind(w, httpx.KindValidation, "id must be an integer")
			return
		}
		ref.ID = id
	}
	part, err := h.service.ResolvePart(r.Context(), ref)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, part)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.ProblemKind(w, httpx.KindValidation, "invalid part id")
		return
	}
	part, err := h.service.ResolvePart(r.Context(), Ref{ID: id})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, part)
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPartNotFound):
		httpx.ProblemKind(w, httpx.KindNotFound, err.Error())
	case errors.Is(err, ErrUnavailable):
		httpx.ProblemKind(w, httpx.KindCatalogUnavailable, err.Error())
	default:
		h.logger.Error("catalog request failed", slog.Any("error", err))
		httpx.Internal(w)
	}
}
