package stock

import (
	"context"
	"time"
)

// AdjustedEvent is emitted after a committed ledger mutation for consumption
// by notification and invoicing systems.
type AdjustedEvent struct {
	PartID  int64     `json:"part_id"`
	Delta   int64     `json:"delta"`
	PrevQty int64     `json:"prev_qty"`
	NewQty  int64     `json:"new_qty"`
	Reason  string    `json:"reason"`
	ActorID int64     `json:"actor_id"`
	At      time.Time `json:"at"`
}

// Publisher receives stock domain events.
type Publisher interface {
	PublishStockAdjusted(ctx context.Context, evt AdjustedEvent) error
}
