package procurement

import (
	"context"
	"time"
)

// StatusChangedEvent is emitted on every purchase order status transition for
// consumption by notification and invoicing systems.
type StatusChangedEvent struct {
	POID      int64     `json:"po_id"`
	Number    string    `json:"number"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ActorID   int64     `json:"actor_id"`
	At        time.Time `json:"at"`
}

// Publisher receives purchase order domain events.
type Publisher interface {
	PublishPOStatusChanged(ctx context.Context, evt StatusChangedEvent) error
}
