package httpx

import (
	"net/http"
)

// Machine-readable error kinds shared across the API surface.
const (
	KindValidation         = "validation_error"
	KindNotFound           = "not_found"
	KindInvalidTransition  = "invalid_transition"
	KindInsufficientStock  = "insufficient_stock"
	KindAlreadyIssued      = "already_issued"
	KindAlreadyDecided     = "already_decided"
	KindCatalogUnavailable = "catalog_unavailable"
	KindConflict           = "conflict"
	KindInternal           = "internal_error"
)

// StatusForKind maps an error kind to its HTTP status code.
func StatusForKind(kind string) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindAlreadyIssued, KindAlreadyDecided, KindConflict:
		return http.StatusConflict
	case KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case KindCatalogUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ProblemKind sends a problem response derived from the error kind.
func ProblemKind(w http.ResponseWriter, kind, detail string) {
	status := StatusForKind(kind)
	Problem(w, status, kind, http.StatusText(status), detail)
}

// Internal sends a generic 500 without leaking internals.
func Internal(w http.ResponseWriter) {
	Problem(w, http.StatusInternalServerError, KindInternal, "Internal Error", "")
}
