// Package jobs defines the Asynq task types and handlers processed by the
// background worker.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotifyPOStatus fans a purchase order status change out to
	// notification channels.
	TaskNotifyPOStatus = "notify:po_status"
	// TaskNotifyIssueStatus fans an issue status change out.
	TaskNotifyIssueStatus = "notify:issue_status"
	// TaskNotifyStockAdjusted fans a stock adjustment out.
	TaskNotifyStockAdjusted = "notify:stock_adjusted"
	// TaskIdempotencyCleanup purges processed idempotency keys past
	// retention.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskLowStockScan enqueues notifications for parts at or below their
	// minimum level.
	TaskLowStockScan = "stock:low_scan"
)

// POStatusPayload carries a purchase order status change.
type POStatusPayload struct {
	POID      int64     `json:"po_id"`
	Number    string    `json:"number"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ActorID   int64     `json:"actor_id"`
	At        time.Time `json:"at"`
}

// IssueStatusPayload carries an issue status change.
type IssueStatusPayload struct {
	IssueID   int64     `json:"issue_id"`
	Number    string    `json:"number"`
	POID      int64     `json:"po_id,omitempty"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ActorID   int64     `json:"actor_id"`
	At        time.Time `json:"at"`
}

// StockAdjustedPayload carries a stock quantity change.
type StockAdjustedPayload struct {
	PartID  int64     `json:"part_id"`
	Delta   int64     `json:"delta"`
	PrevQty int64     `json:"prev_qty"`
	NewQty  int64     `json:"new_qty"`
	Reason  string    `json:"reason"`
	ActorID int64     `json:"actor_id"`
	At      time.Time `json:"at"`
}

// NewTask marshals payload into an Asynq task of the given type.
func NewTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NotifyJob handles the notify:* task family. Delivery is a structured log
// line today; SMTP and webhook channels plug in behind the same handler.
type NotifyJob struct {
	logger *slog.Logger
}

// NewNotifyJob constructs NotifyJob.
func NewNotifyJob(logger *slog.Logger) *NotifyJob {
	return &NotifyJob{logger: logger}
}

// HandlePOStatus processes TaskNotifyPOStatus tasks.
func (j *NotifyJob) HandlePOStatus(ctx context.Context, t *asynq.Task) error {
	var p POStatusPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return asynq.SkipRetry
	}
	j.logger.Info("purchase order status changed",
		slog.Int64("po_id", p.POID),
		slog.String("number", p.Number),
		slog.String("old", p.OldStatus),
		slog.String("new", p.NewStatus),
		slog.Int64("actor_id", p.ActorID))
	return nil
}

// HandleIssueStatus processes TaskNotifyIssueStatus tasks.
func (j *NotifyJob) HandleIssueStatus(ctx context.Context, t *asynq.Task) error {
	var p IssueStatusPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return asynq.SkipRetry
	}
	j.logger.Info("issue status changed",
		slog.Int64("issue_id", p.IssueID),
		slog.String("number", p.Number),
		slog.Int64("po_id", p.POID),
		slog.String("old", p.OldStatus),
		slog.String("new", p.NewStatus),
		slog.Int64("actor_id", p.ActorID))
	return nil
}

// HandleStockAdjusted processes TaskNotifyStockAdjusted tasks.
func (j *NotifyJob) HandleStockAdjusted(ctx context.Context, t *asynq.Task) error {
	var p StockAdjustedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return asynq.SkipRetry
	}
	j.logger.Info("stock adjusted",
		slog.Int64("part_id", p.PartID),
		slog.Int64("delta", p.Delta),
		slog.Int64("new_qty", p.NewQty),
		slog.String("reason", p.Reason))
	return nil
}
