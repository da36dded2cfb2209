package stock

import (
	"errors"
	"time"
)

// EntryStatus describes availability derived from quantity vs thresholds.
type EntryStatus string

const (
	// StatusInStock means quantity is above the minimum level.
	StatusInStock EntryStatus = "IN_STOCK"
	// StatusLowStock means quantity is at or below the minimum level.
	StatusLowStock EntryStatus = "LOW_STOCK"
	// StatusOutOfStock means nothing is on hand.
	StatusOutOfStock EntryStatus = "OUT_OF_STOCK"
)

// Entry is the per-part stock bucket in the central warehouse. Quantity is
// mutated only through the ledger; workflow code never touches it directly.
type Entry struct {
	ID        int64     `json:"id"`
	PartID    int64     `json:"part_id"`
	OnHand    int64     `json:"on_hand"`
	MinLevel  int64     `json:"min_level"`
	MaxLevel  int64     `json:"max_level"`
	Location  string    `json:"location"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status derives availability from quantity and the minimum threshold. It is
// recomputed on read and never stored.
func (e Entry) Status() EntryStatus {
	switch {
	case e.OnHand <= 0:
		return StatusOutOfStock
	case e.OnHand <= e.MinLevel:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// LedgerEntry is one immutable quantity change. Entries are append-only and
// never edited after creation.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	PartID    int64     `json:"part_id"`
	Delta     int64     `json:"delta"`
	PrevQty   int64     `json:"prev_qty"`
	NewQty    int64     `json:"new_qty"`
	Reason    string    `json:"reason"`
	RefModule string    `json:"ref_module"`
	RefID     string    `json:"ref_id"`
	ActorID   int64     `json:"actor_id"`
	At        time.Time `json:"at"`
}

// AdjustInput describes one atomic quantity change. Positive delta is a
// receipt, negative a deduction.
type AdjustInput struct {
	PartID    int64
	Delta     int64
	Reason    string
	ActorID   int64
	RefModule string
	RefID     string
}

var (
	// ErrInsufficientStock is returned when a deduction would go below zero.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrEntryNotFound indicates no stock bucket exists for the part.
	ErrEntryNotFound = errors.New("stock: entry not found")
	// ErrInvalidAdjustment indicates a zero delta or missing part/reason.
	ErrInvalidAdjustment = errors.New("stock: invalid adjustment")
)
