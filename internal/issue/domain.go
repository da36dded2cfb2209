// Package issue implements the parts issue workflow: requests raised against
// central stock, admin approval, and the stock-affecting issue action.
package issue

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/partsflow/partsflow/internal/fulfillment"
)

// Status is the parts issue lifecycle. The stock deduction happens exactly
// once, on the transition into ISSUED.
type Status string

const (
	StatusPendingApproval Status = "PENDING_ADMIN_APPROVAL"
	StatusAdminApproved   Status = "ADMIN_APPROVED"
	StatusAdminRejected   Status = "ADMIN_REJECTED"
	StatusIssued          Status = "ISSUED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusAdminRejected || s == StatusIssued
}

// Request is a parts issue raised by a service center, optionally linked to
// the purchase order it fulfils.
type Request struct {
	ID              int64           `json:"id"`
	Number          string          `json:"number"`
	POID            int64           `json:"po_id,omitempty"`
	ServiceCenterID int64           `json:"service_center_id"`
	RequestedBy     int64           `json:"requested_by"`
	Status          Status          `json:"status"`
	TotalValue      decimal.Decimal `json:"total_value"`
	CreatedAt       time.Time       `json:"created_at"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	IssuedAt        *time.Time      `json:"issued_at,omitempty"`
	DecidedBy       *int64          `json:"decided_by,omitempty"`
	IssuedBy        *int64          `json:"issued_by,omitempty"`
	RejectReason    string          `json:"reject_reason,omitempty"`
	Lines           []Line          `json:"lines,omitempty"`
}

// Line is one part on an issue request. IssuedQty is the legacy scalar kept
// for documents predating dispatch records; once dispatches exist they are
// authoritative.
type Line struct {
	ID             int64                     `json:"id"`
	IssueID        int64                     `json:"issue_id"`
	Ref            fulfillment.PartReference `json:"ref"`
	SourceBucketID int64                     `json:"source_bucket_id,omitempty"`
	Requested      int64                     `json:"requested"`
	IssuedQty      int64                     `json:"issued_qty"`
	ReturnedQty    int64                     `json:"returned_qty,omitempty"`
	SubOrderID     string                    `json:"sub_order_id,omitempty"`
	UnitPrice      decimal.Decimal           `json:"unit_price"`
	Dispatches     []DispatchRecord          `json:"dispatches,omitempty"`
}

// DispatchRecord is one physical shipment leg against a line.
type DispatchRecord struct {
	ID           int64     `json:"id"`
	LineID       int64     `json:"line_id"`
	Qty          int64     `json:"qty"`
	SubOrderID   string    `json:"sub_order_id"`
	Carrier      string    `json:"carrier,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// ShortfallWarning flags a line whose requested quantity exceeds what is on
// hand at creation time. Advisory only; stock is re-checked at issue time.
type ShortfallWarning struct {
	PartID    int64 `json:"part_id"`
	Requested int64 `json:"requested"`
	OnHand    int64 `json:"on_hand"`
}

var (
	// ErrNotFound indicates the issue request does not exist.
	ErrNotFound = errors.New("issue: request not found")
	// ErrPONotFound indicates the linked purchase order does not exist.
	ErrPONotFound = errors.New("issue: linked purchase order not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("issue: invalid input")
	// ErrInvalidTransition occurs when an action violates the status workflow.
	ErrInvalidTransition = errors.New("issue: invalid state transition")
	// ErrAlreadyDecided occurs when another admin already approved or
	// rejected the request.
	ErrAlreadyDecided = errors.New("issue: request already decided")
	// ErrAlreadyIssued guards the at-most-once stock deduction.
	ErrAlreadyIssued = errors.New("issue: parts already issued")
	// ErrSeparationOfDuties occurs when the approver tries to also perform
	// the issue action.
	ErrSeparationOfDuties = errors.New("issue: approver cannot issue the same request")
)
