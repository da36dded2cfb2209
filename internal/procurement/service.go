package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/fulfillment"
	"github.com/partsflow/partsflow/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetDecision(ctx context.Context, id int64, status Status, actorID int64, reason string, at time.Time) error
	UpdateLineApproval(ctx context.Context, lineID, approvedQty int64, status LineStatus) error
	ListByServiceCenter(ctx context.Context, serviceCenterID int64, limit int) ([]PurchaseOrder, error)
}

// IssuesPort exposes the related parts issues needed for fulfillment.
type IssuesPort interface {
	ListForPO(ctx context.Context, poID int64) ([]fulfillment.Issue, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates purchase order intake, approval and fulfillment.
type Service struct {
	repo      RepositoryPort
	catalog   catalog.Resolver
	issues    IssuesPort
	approvals *shared.ApprovalRecorder
	audit     AuditPort
	publisher Publisher
	logger    *slog.Logger
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, resolver catalog.Resolver, issues IssuesPort, approvals *shared.ApprovalRecorder, audit AuditPort, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: resolver, issues: issues, approvals: approvals, audit: audit, publisher: publisher, logger: logger}
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	ServiceCenterID int64
	RequestedBy     int64
	Priority        Priority
	Submit          bool
	Lines           []LineInput
}

// LineInput is one caller-supplied requested part. Prices are deliberately
// absent: they are always resolved from the catalog.
type LineInput struct {
	PartID     int64
	PartNumber string
	PartName   string
	Qty        int64
}

// LineOverride adjusts one line during approval. Zero approves nothing and
// rejects the line.
type LineOverride struct {
	LineID      int64
	ApprovedQty int64
}

// CreatePurchaseOrder validates input, resolves parts from the catalog and
// persists the order. A catalog failure aborts creation with no side effects.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if input.ServiceCenterID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: service center required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	if input.Priority == "" {
		input.Priority = PriorityNormal
	}

	// Resolve every part before touching storage so a catalog outage cannot
	// leave a partial order behind.
	lines := make([]Line, 0, len(input.Lines))
	for _, in := range input.Lines {
		if in.Qty <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
		part, err := s.catalog.ResolvePart(ctx, catalog.Ref{ID: in.PartID, Number: in.PartNumber, Name: in.PartName})
		if err != nil {
			if errors.Is(err, catalog.ErrPartNotFound) {
				return PurchaseOrder{}, fmt.Errorf("%w: unresolvable part reference", ErrValidation)
			}
			return PurchaseOrder{}, err
		}
		lines = append(lines, Line{
			Ref: fulfillment.PartReference{
				PartID: part.ID,
				Name:   part.Name,
				Number: part.Number,
				HSN:    part.HSNCode,
			},
			Requested: in.Qty,
			UnitPrice: part.UnitPrice,
			Status:    LinePending,
		})
	}

	status := StatusDraft
	if input.Submit {
		status = StatusPending
	}
	po := PurchaseOrder{
		Number:          generateNumber("PO"),
		ServiceCenterID: input.ServiceCenterID,
		RequestedBy:     input.RequestedBy,
		Priority:        input.Priority,
		Status:          status,
		OrderedAt:       time.Now().UTC(),
	}

	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		poID, err := s.repo.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		for i := range lines {
			lines[i].POID = poID
			lineID, err := s.repo.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines = lines

	s.recordAudit(ctx, input.RequestedBy, "PO_CREATE", po.ID, map[string]any{"number": po.Number, "status": string(po.Status)})
	s.publishStatus(ctx, po, "", po.Status, input.RequestedBy)
	return po, nil
}

// SubmitPurchaseOrder transitions a draft to pending approval.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		var err error
		po, err = s.repo.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("%w: submit from %s", ErrInvalidTransition, po.Status)
		}
		if err := s.repo.UpdateStatus(ctx, poID, StatusPending); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{
				Module: "PO", RefID: shared.ApprovalRef("PO", poID), ActorID: actorID,
				Action: shared.ApprovalSubmit, Note: fmt.Sprintf("PO %s submitted", po.Number),
			})
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	old := po.Status
	po.Status = StatusPending
	s.publishStatus(ctx, po, old, StatusPending, actorID)
	return po, nil
}

// ApprovePurchaseOrder marks a pending order approved. Overrides adjust
// individual line quantities; an override of zero rejects the line. State is
// re-checked inside the transaction so concurrent deciders cannot overwrite
// each other.
func (s *Service) ApprovePurchaseOrder(ctx context.Context, poID, actorID int64, overrides []LineOverride) (PurchaseOrder, error) {
	byLine := make(map[int64]int64, len(overrides))
	for _, o := range overrides {
		if o.ApprovedQty < 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: negative override", ErrValidation)
		}
		byLine[o.LineID] = o.ApprovedQty
	}

	var po PurchaseOrder
	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		var err error
		po, err = s.repo.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if err := guardDecidable(po.Status); err != nil {
			return err
		}
		for id := range byLine {
			if !po.HasLine(id) {
				return fmt.Errorf("%w: unknown line %d", ErrValidation, id)
			}
		}
		for i, line := range po.Lines {
			qty := line.Requested
			if override, ok := byLine[line.ID]; ok {
				qty = override
			}
			status := LineApproved
			if qty == 0 {
				status = LineRejected
			}
			if err := s.repo.UpdateLineApproval(ctx, line.ID, qty, status); err != nil {
				return err
			}
			po.Lines[i].ApprovedQty = qty
			po.Lines[i].Status = status
		}
		now := time.Now().UTC()
		if err := s.repo.SetDecision(ctx, poID, StatusApproved, actorID, "", now); err != nil {
			return err
		}
		po.ApprovedAt = &now
		po.DecidedBy = &actorID
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{
				Module: "PO", RefID: shared.ApprovalRef("PO", poID), ActorID: actorID,
				Action: shared.ApprovalApprove, Note: fmt.Sprintf("PO %s approved", po.Number),
			})
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	old := po.Status
	po.Status = StatusApproved
	s.recordAudit(ctx, actorID, "PO_APPROVE", poID, map[string]any{"number": po.Number, "overrides": len(overrides)})
	s.publishStatus(ctx, po, old, StatusApproved, actorID)
	return po, nil
}

// RejectPurchaseOrder marks a pending order rejected. A reason is mandatory
// so calling UIs can show why.
func (s *Service) RejectPurchaseOrder(ctx context.Context, poID, actorID int64, reason string) (PurchaseOrder, error) {
	if reason == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: rejection reason required", ErrValidation)
	}
	var po PurchaseOrder
	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		var err error
		po, err = s.repo.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if err := guardDecidable(po.Status); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := s.repo.SetDecision(ctx, poID, StatusRejected, actorID, reason, now); err != nil {
			return err
		}
		po.RejectedAt = &now
		po.DecidedBy = &actorID
		po.RejectReason = reason
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{
				Module: "PO", RefID: shared.ApprovalRef("PO", poID), ActorID: actorID,
				Action: shared.ApprovalReject, Note: reason,
			})
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	old := po.Status
	po.Status = StatusRejected
	s.recordAudit(ctx, actorID, "PO_REJECT", poID, map[string]any{"number": po.Number, "reason": reason})
	s.publishStatus(ctx, po, old, StatusRejected, actorID)
	return po, nil
}

// GetPurchaseOrder fetches an order with lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, poID int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, poID)
}

// ListByServiceCenter returns orders for one service center.
func (s *Service) ListByServiceCenter(ctx context.Context, serviceCenterID int64, limit int) ([]PurchaseOrder, error) {
	return s.repo.ListByServiceCenter(ctx, serviceCenterID, limit)
}

// POExists reports whether the purchase order exists. The issue workflow
// checks this before linking a request to an order id.
func (s *Service) POExists(ctx context.Context, poID int64) (bool, error) {
	_, err := s.repo.GetPO(ctx, poID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FulfillmentSnapshot aggregates issued/remaining per line from the related
// issues. Pure read over committed data.
func (s *Service) FulfillmentSnapshot(ctx context.Context, poID int64) (map[int64]fulfillment.LineFulfillment, error) {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return nil, err
	}
	issues, err := s.issues.ListForPO(ctx, poID)
	if err != nil {
		return nil, err
	}
	return fulfillment.Snapshot(calcLines(po), issues), nil
}

// RecomputeFulfillment re-derives the order's fulfillment status after stock
// moved. Called by the issue workflow once a parts issue is committed.
func (s *Service) RecomputeFulfillment(ctx context.Context, poID int64) error {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	switch po.Status {
	case StatusApproved, StatusPartial, StatusFulfilled:
	default:
		// Fulfillment states only apply once approved.
		return nil
	}

	issues, err := s.issues.ListForPO(ctx, poID)
	if err != nil {
		return err
	}
	lines := calcLines(po)
	snap := fulfillment.Snapshot(lines, issues)

	next := po.Status
	switch fulfillment.Aggregate(lines, snap) {
	case fulfillment.AggregateFulfilled:
		next = StatusFulfilled
	case fulfillment.AggregatePartial:
		next = StatusPartial
	case fulfillment.AggregateOpen:
		next = StatusApproved
	}
	if next == po.Status {
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, poID, next); err != nil {
		return err
	}
	s.recordAudit(ctx, 0, "PO_FULFILLMENT", poID, map[string]any{"number": po.Number, "status": string(next)})
	s.publishStatus(ctx, po, po.Status, next, 0)
	return nil
}

// HasLine reports whether the order contains the given line id.
func (po PurchaseOrder) HasLine(lineID int64) bool {
	for _, line := range po.Lines {
		if line.ID == lineID {
			return true
		}
	}
	return false
}

// guardDecidable enforces that only pending orders can be decided.
func guardDecidable(status Status) error {
	switch status {
	case StatusPending:
		return nil
	case StatusApproved, StatusRejected, StatusPartial, StatusFulfilled:
		return fmt.Errorf("%w: currently %s", ErrAlreadyDecided, status)
	default:
		return fmt.Errorf("%w: decide from %s", ErrInvalidTransition, status)
	}
}

// calcLines maps order lines to the calculator's view, skipping rejected
// lines so they do not hold the order open.
func calcLines(po PurchaseOrder) []fulfillment.POLine {
	lines := make([]fulfillment.POLine, 0, len(po.Lines))
	for _, line := range po.Lines {
		if line.Status == LineRejected {
			continue
		}
		lines = append(lines, fulfillment.POLine{
			ID:        line.ID,
			Ref:       line.Ref,
			Requested: line.EffectiveRequested(),
		})
	}
	return lines
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func (s *Service) publishStatus(ctx context.Context, po PurchaseOrder, old, next Status, actorID int64) {
	if s.publisher == nil {
		return
	}
	evt := StatusChangedEvent{
		POID:      po.ID,
		Number:    po.Number,
		OldStatus: old,
		NewStatus: next,
		ActorID:   actorID,
		At:        time.Now().UTC(),
	}
	if err := s.publisher.PublishPOStatusChanged(ctx, evt); err != nil && s.logger != nil {
		s.logger.Warn("publish po status", slog.Int64("po_id", po.ID), slog.Any("error", err))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
