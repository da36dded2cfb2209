package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Part is the read-only catalog entity the core consumes. Prices and GST
// always come from here, never from caller-supplied payloads.
type Part struct {
	ID        int64           `json:"id"`
	Number    string          `json:"number"`
	Name      string          `json:"name"`
	HSNCode   string          `json:"hsn_code"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	GSTRate   decimal.Decimal `json:"gst_rate"`
}

// Ref carries the identifiers a caller may use to reference a part. Upstream
// systems are inconsistent about which one they send.
type Ref struct {
	ID     int64
	Number string
	Name   string
}

// Empty reports whether the reference carries no usable identifier.
func (r Ref) Empty() bool {
	return r.ID == 0 && r.Number == "" && r.Name == ""
}

// Resolver is the narrow lookup interface consumed by order intake.
type Resolver interface {
	ResolvePart(ctx context.Context, ref Ref) (Part, error)
}

var (
	// ErrPartNotFound indicates no part matches the reference.
	ErrPartNotFound = errors.New("catalog: part not found")
	// ErrUnavailable indicates the lookup failed or timed out. Callers may
	// retry with backoff; the core never retries implicitly.
	ErrUnavailable = errors.New("catalog: lookup unavailable")
)
