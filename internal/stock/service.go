package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/partsflow/partsflow/internal/platform/db"
	"github.com/partsflow/partsflow/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
	GetEntry(ctx context.Context, partID int64) (Entry, error)
	GetEntryForUpdate(ctx context.Context, partID int64) (Entry, error)
	UpdateEntryQty(ctx context.Context, entryID, newQty int64) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
	ListLedger(ctx context.Context, partID int64, limit int) ([]LedgerEntry, error)
	ListLowStock(ctx context.Context) ([]Entry, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// Service owns the stock ledger: every quantity change goes through here and
// is applied exactly once.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	publisher Publisher
	allowNeg  bool
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, publisher Publisher, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, publisher: publisher, allowNeg: cfg.AllowNegativeStock, logger: logger}
}

// Adjust applies a single atomic quantity change.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Entry, error) {
	entries, err := s.AdjustBatch(ctx, []AdjustInput{input})
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// AdjustBatch applies all adjustments or none. Rows are locked in part-id
// order so concurrent batches cannot deadlock. When the batch runs inside a
// caller transaction (context-carried), it joins it.
func (s *Service) AdjustBatch(ctx context.Context, inputs []AdjustInput) ([]Entry, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no adjustments", ErrInvalidAdjustment)
	}
	for _, in := range inputs {
		if in.PartID == 0 || in.Delta == 0 || in.Reason == "" {
			return nil, fmt.Errorf("%w: part %d delta %d", ErrInvalidAdjustment, in.PartID, in.Delta)
		}
	}

	ordered := make([]AdjustInput, len(inputs))
	copy(ordered, inputs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].PartID < ordered[j].PartID })

	results := make(map[int64]Entry, len(ordered))
	var events []AdjustedEvent

	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		for _, in := range ordered {
			entry, err := s.repo.GetEntryForUpdate(ctx, in.PartID)
			if err != nil {
				return err
			}
			newQty := entry.OnHand + in.Delta
			if newQty < 0 && !s.allowNeg {
				return fmt.Errorf("%w: part %d has %d, requested %d", ErrInsufficientStock, in.PartID, entry.OnHand, -in.Delta)
			}
			ledger := LedgerEntry{
				PartID:    in.PartID,
				Delta:     in.Delta,
				PrevQty:   entry.OnHand,
				NewQty:    newQty,
				Reason:    in.Reason,
				RefModule: in.RefModule,
				RefID:     in.RefID,
				ActorID:   in.ActorID,
			}
			if _, err := s.repo.InsertLedgerEntry(ctx, ledger); err != nil {
				return err
			}
			if err := s.repo.UpdateEntryQty(ctx, entry.ID, newQty); err != nil {
				return err
			}
			entry.OnHand = newQty
			results[in.PartID] = entry
			events = append(events, AdjustedEvent{
				PartID:  in.PartID,
				Delta:   in.Delta,
				PrevQty: ledger.PrevQty,
				NewQty:  newQty,
				Reason:  in.Reason,
				ActorID: in.ActorID,
				At:      time.Now().UTC(),
			})
		}
		// Events describe committed changes only. When this batch joined a
		// caller transaction they wait for its commit, not ours.
		db.OnCommit(ctx, func(ctx context.Context) {
			s.afterAdjust(ctx, events)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(inputs))
	seen := make(map[int64]bool, len(inputs))
	for _, in := range inputs {
		if seen[in.PartID] {
			continue
		}
		seen[in.PartID] = true
		out = append(out, results[in.PartID])
	}
	return out, nil
}

func (s *Service) afterAdjust(ctx context.Context, events []AdjustedEvent) {
	for _, evt := range events {
		if s.publisher != nil {
			if pubErr := s.publisher.PublishStockAdjusted(ctx, evt); pubErr != nil {
				s.logger.Warn("publish stock adjusted", slog.Int64("part_id", evt.PartID), slog.Any("error", pubErr))
			}
		}
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  evt.ActorID,
				Action:   "stock:adjust",
				Entity:   "stock_entry",
				EntityID: fmt.Sprintf("%d", evt.PartID),
				Meta: map[string]any{
					"delta":    evt.Delta,
					"prev_qty": evt.PrevQty,
					"new_qty":  evt.NewQty,
					"reason":   evt.Reason,
				},
			})
		}
	}
}

// QuantityOf returns a read-only snapshot of the on-hand quantity.
func (s *Service) QuantityOf(ctx context.Context, partID int64) (int64, error) {
	entry, err := s.repo.GetEntry(ctx, partID)
	if err != nil {
		return 0, err
	}
	return entry.OnHand, nil
}

// GetEntry returns the stock bucket for a part.
func (s *Service) GetEntry(ctx context.Context, partID int64) (Entry, error) {
	return s.repo.GetEntry(ctx, partID)
}

// ListLedger returns ledger history for a part.
func (s *Service) ListLedger(ctx context.Context, partID int64, limit int) ([]LedgerEntry, error) {
	return s.repo.ListLedger(ctx, partID, limit)
}

// ListLowStock returns entries at or below their minimum level.
func (s *Service) ListLowStock(ctx context.Context) ([]Entry, error) {
	return s.repo.ListLowStock(ctx)
}
