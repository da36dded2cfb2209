package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/partsflow/partsflow/internal/fulfillment"
)

// Status is the purchase order lifecycle. DRAFT and PENDING are requester
// states; APPROVED onwards is owned by central inventory. The fulfillment
// states are derived, never set by direct user action.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusPartial   Status = "PARTIALLY_FULFILLED"
	StatusFulfilled Status = "FULFILLED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusFulfilled
}

// Priority of a purchase order.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// LineStatus is the per-line approval outcome.
type LineStatus string

const (
	LinePending  LineStatus = "PENDING"
	LineApproved LineStatus = "APPROVED"
	LineRejected LineStatus = "REJECTED"
)

// PurchaseOrder is a service center's request for parts from the central
// warehouse. Never deleted, only superseded by status.
type PurchaseOrder struct {
	ID              int64      `json:"id"`
	Number          string     `json:"number"`
	ServiceCenterID int64      `json:"service_center_id"`
	RequestedBy     int64      `json:"requested_by"`
	Priority        Priority   `json:"priority"`
	Status          Status     `json:"status"`
	OrderedAt       time.Time  `json:"ordered_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	DecidedBy       *int64     `json:"decided_by,omitempty"`
	RejectReason    string     `json:"reject_reason,omitempty"`
	Lines           []Line     `json:"lines,omitempty"`
}

// Line is one requested part. The redundant name/number/HSN identifiers exist
// because upstream systems are inconsistent about how they reference parts.
type Line struct {
	ID          int64                     `json:"id"`
	POID        int64                     `json:"po_id"`
	Ref         fulfillment.PartReference `json:"ref"`
	Requested   int64                     `json:"requested"`
	ApprovedQty int64                     `json:"approved_qty"`
	UnitPrice   decimal.Decimal           `json:"unit_price"`
	Status      LineStatus                `json:"status"`
}

// EffectiveRequested is the quantity fulfillment is measured against: the
// approved quantity once a decision exists, the requested quantity before.
func (l Line) EffectiveRequested() int64 {
	if l.Status == LineApproved {
		return l.ApprovedQty
	}
	return l.Requested
}

var (
	// ErrNotFound indicates the purchase order does not exist.
	ErrNotFound = errors.New("procurement: purchase order not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrInvalidTransition occurs when an action violates the status workflow.
	ErrInvalidTransition = errors.New("procurement: invalid state transition")
	// ErrAlreadyDecided occurs when another actor already approved or
	// rejected the order.
	ErrAlreadyDecided = errors.New("procurement: purchase order already decided")
)
