// Package notify bridges domain events onto the background job queue. The
// HTTP request path only enqueues; delivery happens in the worker.
package notify

import (
	"context"
	"log/slog"

	"github.com/partsflow/partsflow/internal/issue"
	"github.com/partsflow/partsflow/internal/observability"
	"github.com/partsflow/partsflow/internal/procurement"
	"github.com/partsflow/partsflow/internal/stock"
	"github.com/partsflow/partsflow/jobs"
)

// Publisher implements the domain event ports by enqueuing Asynq tasks.
// Enqueue failures are logged, never propagated: a notification must not fail
// a committed business action. Domain counters are bumped here because every
// event stream passes through.
type Publisher struct {
	client  *jobs.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewPublisher constructs Publisher. metrics may be nil.
func NewPublisher(client *jobs.Client, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, metrics: metrics, logger: logger}
}

// PublishPOStatusChanged enqueues a purchase order status notification.
func (p *Publisher) PublishPOStatusChanged(ctx context.Context, evt procurement.StatusChangedEvent) error {
	p.metrics.ObservePOTransition(string(evt.NewStatus))
	return p.enqueue(ctx, jobs.TaskNotifyPOStatus, jobs.POStatusPayload{
		POID:      evt.POID,
		Number:    evt.Number,
		OldStatus: string(evt.OldStatus),
		NewStatus: string(evt.NewStatus),
		ActorID:   evt.ActorID,
		At:        evt.At,
	})
}

// PublishIssueStatusChanged enqueues an issue status notification.
func (p *Publisher) PublishIssueStatusChanged(ctx context.Context, evt issue.StatusChangedEvent) error {
	if evt.NewStatus == issue.StatusIssued {
		p.metrics.ObserveIssuePerformed()
	}
	return p.enqueue(ctx, jobs.TaskNotifyIssueStatus, jobs.IssueStatusPayload{
		IssueID:   evt.IssueID,
		Number:    evt.Number,
		POID:      evt.POID,
		OldStatus: string(evt.OldStatus),
		NewStatus: string(evt.NewStatus),
		ActorID:   evt.ActorID,
		At:        evt.At,
	})
}

// PublishStockAdjusted enqueues a stock adjustment notification.
func (p *Publisher) PublishStockAdjusted(ctx context.Context, evt stock.AdjustedEvent) error {
	p.metrics.ObserveStockAdjustment(evt.Delta)
	return p.enqueue(ctx, jobs.TaskNotifyStockAdjusted, jobs.StockAdjustedPayload{
		PartID:  evt.PartID,
		Delta:   evt.Delta,
		PrevQty: evt.PrevQty,
		NewQty:  evt.NewQty,
		Reason:  evt.Reason,
		ActorID: evt.ActorID,
		At:      evt.At,
	})
}

func (p *Publisher) enqueue(ctx context.Context, taskType string, payload any) error {
	if err := p.client.Enqueue(ctx, taskType, payload); err != nil {
		p.logger.Warn("enqueue notification", slog.String("task", taskType), slog.Any("error", err))
	}
	return nil
}
