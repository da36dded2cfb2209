package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/partsflow/partsflow/internal/stock"
)

// IdempotencyCleanupPayload controls key retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds the cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	return NewTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: retentionHours})
}

// IdempotencyStore is the slice of the idempotency store the cleanup job
// needs.
type IdempotencyStore interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob purges processed keys past retention.
type IdempotencyCleanupJob struct {
	store  IdempotencyStore
	logger *slog.Logger
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(store IdempotencyStore, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var p IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return asynq.SkipRetry
	}
	if p.RetentionHours <= 0 {
		p.RetentionHours = 72
	}
	retention := time.Duration(p.RetentionHours) * time.Hour
	if err := j.store.Cleanup(ctx, retention); err != nil {
		j.logger.Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	j.logger.Info("idempotency keys cleaned", slog.Int("retention_hours", p.RetentionHours))
	return nil
}

// NewLowStockScanTask builds the low stock scan task.
func NewLowStockScanTask() (*asynq.Task, error) {
	return NewTask(TaskLowStockScan, struct{}{})
}

// StockLister is the slice of the stock service the scan job needs.
type StockLister interface {
	ListLowStock(ctx context.Context) ([]stock.Entry, error)
}

// LowStockScanJob reports parts at or below their minimum level so purchasers
// can reorder before buckets run dry.
type LowStockScanJob struct {
	stock  StockLister
	logger *slog.Logger
}

// NewLowStockScanJob constructs the job.
func NewLowStockScanJob(lister StockLister, logger *slog.Logger) *LowStockScanJob {
	return &LowStockScanJob{stock: lister, logger: logger}
}

// Handle processes TaskLowStockScan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	entries, err := j.stock.ListLowStock(ctx)
	if err != nil {
		j.logger.Error("low stock scan", slog.Any("error", err))
		return err
	}
	for _, e := range entries {
		j.logger.Warn("low stock",
			slog.Int64("part_id", e.PartID),
			slog.Int64("on_hand", e.OnHand),
			slog.Int64("min_level", e.MinLevel),
			slog.String("status", string(e.Status())))
	}
	j.logger.Info("low stock scan complete", slog.Int("flagged", len(entries)))
	return nil
}
