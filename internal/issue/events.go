package issue

import (
	"context"
	"time"
)

// StatusChangedEvent is emitted on every issue status transition.
type StatusChangedEvent struct {
	IssueID   int64     `json:"issue_id"`
	Number    string    `json:"number"`
	POID      int64     `json:"po_id,omitempty"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ActorID   int64     `json:"actor_id"`
	At        time.Time `json:"at"`
}

// Publisher receives issue domain events.
type Publisher interface {
	PublishIssueStatusChanged(ctx context.Context, evt StatusChangedEvent) error
}
