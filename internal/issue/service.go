package issue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/fulfillment"
	"github.com/partsflow/partsflow/internal/shared"
	"github.com/partsflow/partsflow/internal/stock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, req Request) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	Get(ctx context.Context, id int64) (Request, error)
	GetForUpdate(ctx context.Context, id int64) (Request, error)
	SetDecision(ctx context.Context, id int64, status Status, actorID int64, reason string, at time.Time) error
	MarkIssued(ctx context.Context, id, actorID int64, at time.Time) error
	UpdateLineIssuedQty(ctx context.Context, lineID, qty int64) error
	UpdateLineReturnedQty(ctx context.Context, lineID, qty int64) error
	InsertDispatch(ctx context.Context, d DispatchRecord) (int64, error)
	ListForPO(ctx context.Context, poID int64) ([]Request, error)
	ListByServiceCenter(ctx context.Context, serviceCenterID int64, limit int) ([]Request, error)
}

// StockPort is the slice of the stock service the workflow needs.
type StockPort interface {
	AdjustBatch(ctx context.Context, inputs []stock.AdjustInput) ([]stock.Entry, error)
	QuantityOf(ctx context.Context, partID int64) (int64, error)
}

// ProcurementPort lets the workflow verify the linked purchase order and
// trigger fulfillment recomputation on it after stock moved.
type ProcurementPort interface {
	POExists(ctx context.Context, poID int64) (bool, error)
	RecomputeFulfillment(ctx context.Context, poID int64) error
}

// IdempotencyPort guards the issue action against duplicate delivery.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the parts issue workflow.
type Service struct {
	repo        RepositoryPort
	stock       StockPort
	catalog     catalog.Resolver
	procurement ProcurementPort
	idempotency IdempotencyPort
	approvals   *shared.ApprovalRecorder
	audit       AuditPort
	publisher   Publisher
	logger      *slog.Logger
}

// NewService constructs the issue service. procurement may be nil for issues
// raised without a purchase order link.
func NewService(repo RepositoryPort, stockPort StockPort, resolver catalog.Resolver, proc ProcurementPort,
	idem IdempotencyPort, approvals *shared.ApprovalRecorder, audit AuditPort, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo: repo, stock: stockPort, catalog: resolver, procurement: proc,
		idempotency: idem, approvals: approvals, audit: audit, publisher: publisher, logger: logger,
	}
}

// CreateInput describes a new issue request.
type CreateInput struct {
	POID            int64
	ServiceCenterID int64
	RequestedBy     int64
	Lines           []LineInput
}

// LineInput is one requested part for issue.
type LineInput struct {
	PartID         int64
	PartNumber     string
	PartName       string
	SourceBucketID int64
	Qty            int64
}

// Create validates the request, resolves parts and prices from the catalog
// and persists it in PENDING_ADMIN_APPROVAL. The stock check here is
// advisory: shortfalls are reported as warnings, not errors, because stock is
// re-checked when the issue is actually performed.
func (s *Service) Create(ctx context.Context, input CreateInput) (Request, []ShortfallWarning, error) {
	if input.ServiceCenterID == 0 {
		return Request{}, nil, fmt.Errorf("%w: service center required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Request{}, nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	if input.POID != 0 && s.procurement != nil {
		ok, err := s.procurement.POExists(ctx, input.POID)
		if err != nil {
			return Request{}, nil, err
		}
		if !ok {
			return Request{}, nil, fmt.Errorf("%w: po %d", ErrPONotFound, input.POID)
		}
	}

	var warnings []ShortfallWarning
	total := decimal.Zero
	lines := make([]Line, 0, len(input.Lines))
	for _, in := range input.Lines {
		if in.Qty <= 0 {
			return Request{}, nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
		part, err := s.catalog.ResolvePart(ctx, catalog.Ref{ID: in.PartID, Number: in.PartNumber, Name: in.PartName})
		if err != nil {
			if errors.Is(err, catalog.ErrPartNotFound) {
				return Request{}, nil, fmt.Errorf("%w: unresolvable part reference", ErrValidation)
			}
			return Request{}, nil, err
		}
		onHand, err := s.stock.QuantityOf(ctx, part.ID)
		if err != nil && !errors.Is(err, stock.ErrEntryNotFound) {
			return Request{}, nil, err
		}
		if onHand < in.Qty {
			warnings = append(warnings, ShortfallWarning{PartID: part.ID, Requested: in.Qty, OnHand: onHand})
		}
		lines = append(lines, Line{
			Ref: fulfillment.PartReference{
				PartID: part.ID,
				Name:   part.Name,
				Number: part.Number,
				HSN:    part.HSNCode,
			},
			SourceBucketID: in.SourceBucketID,
			Requested:      in.Qty,
			UnitPrice:      part.UnitPrice,
		})
		total = total.Add(part.UnitPrice.Mul(decimal.NewFromInt(in.Qty)))
	}

	req := Request{
		Number:          generateNumber("ISS"),
		POID:            input.POID,
		ServiceCenterID: input.ServiceCenterID,
		RequestedBy:     input.RequestedBy,
		Status:          StatusPendingApproval,
		TotalValue:      total,
		CreatedAt:       time.Now().UTC(),
	}
	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		id, err := s.repo.Create(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		for i := range lines {
			lines[i].IssueID = id
			lineID, err := s.repo.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return Request{}, nil, err
	}
	req.Lines = lines

	s.recordAudit(ctx, input.RequestedBy, "ISSUE_CREATE", req.ID, map[string]any{"number": req.Number, "po_id": req.POID})
	s.publishStatus(ctx, req, "", StatusPendingApproval, input.RequestedBy)
	return req, warnings, nil
}

// AdminApprove moves a pending request to ADMIN_APPROVED. State is re-checked
// inside the transaction so two admins cannot both decide.
func (s *Service) AdminApprove(ctx context.Context, issueID, actorID int64) (Request, error) {
	return s.decide(ctx, issueID, actorID, StatusAdminApproved, "")
}

// AdminReject moves a pending request to ADMIN_REJECTED. A reason is
// mandatory.
func (s *Service) AdminReject(ctx context.Context, issueID, actorID int64, reason string) (Request, error) {
	if reason == "" {
		return Request{}, fmt.Errorf("%w: rejection reason required", ErrValidation)
	}
	return s.decide(ctx, issueID, actorID, StatusAdminRejected, reason)
}

func (s *Service) decide(ctx context.Context, issueID, actorID int64, next Status, reason string) (Request, error) {
	var req Request
	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.repo.GetForUpdate(ctx, issueID)
		if err != nil {
			return err
		}
		switch req.Status {
		case StatusPendingApproval:
		case StatusAdminApproved, StatusAdminRejected, StatusIssued:
			return fmt.Errorf("%w: currently %s", ErrAlreadyDecided, req.Status)
		default:
			return fmt.Errorf("%w: decide from %s", ErrInvalidTransition, req.Status)
		}
		now := time.Now().UTC()
		if err := s.repo.SetDecision(ctx, issueID, next, actorID, reason, now); err != nil {
			return err
		}
		req.DecidedBy = &actorID
		if next == StatusAdminRejected {
			req.RejectedAt = &now
			req.RejectReason = reason
		} else {
			req.ApprovedAt = &now
		}
		if s.approvals != nil {
			action := shared.ApprovalApprove
			if next == StatusAdminRejected {
				action = shared.ApprovalReject
			}
			_ = s.approvals.Record(ctx, shared.ApprovalLog{
				Module: "ISSUE", RefID: shared.ApprovalRef("ISSUE", issueID), ActorID: actorID,
				Action: action, Note: reason,
			})
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	old := req.Status
	req.Status = next
	s.recordAudit(ctx, actorID, "ISSUE_"+string(next), issueID, map[string]any{"number": req.Number, "reason": reason})
	s.publishStatus(ctx, req, old, next, actorID)
	return req, nil
}

// IssueInput drives the stock-affecting issue action.
type IssueInput struct {
	IssueID        int64
	ActorID        int64
	IdempotencyKey string
	// Quantities optionally caps issued quantity per line id. Lines absent
	// from the map are issued in full.
	Quantities map[int64]int64
}

// IssueParts performs the one-time stock deduction: the status change and
// every ledger write commit in a single transaction, so either all parts
// leave stock and the request is ISSUED, or nothing happened. The approver
// may not also be the issuer.
func (s *Service) IssueParts(ctx context.Context, input IssueInput) (Request, error) {
	for _, qty := range input.Quantities {
		if qty < 0 {
			return Request{}, fmt.Errorf("%w: negative issue quantity", ErrValidation)
		}
	}

	var req Request
	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.repo.GetForUpdate(ctx, input.IssueID)
		if err != nil {
			return err
		}
		switch req.Status {
		case StatusAdminApproved:
		case StatusIssued:
			return fmt.Errorf("%w: issue %s", ErrAlreadyIssued, req.Number)
		case StatusAdminRejected:
			return fmt.Errorf("%w: request was rejected", ErrInvalidTransition)
		default:
			return fmt.Errorf("%w: issue from %s", ErrInvalidTransition, req.Status)
		}
		if req.DecidedBy != nil && *req.DecidedBy == input.ActorID {
			return ErrSeparationOfDuties
		}
		if s.idempotency != nil && input.IdempotencyKey != "" {
			if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "ISSUE"); err != nil {
				return err
			}
		}

		var adjustments []stock.AdjustInput
		for i, line := range req.Lines {
			qty := line.Requested
			if override, ok := input.Quantities[line.ID]; ok {
				qty = override
			}
			if qty == 0 {
				continue
			}
			if qty > line.Requested {
				return fmt.Errorf("%w: line %d issues more than requested", ErrValidation, line.ID)
			}
			if err := s.repo.UpdateLineIssuedQty(ctx, line.ID, qty); err != nil {
				return err
			}
			req.Lines[i].IssuedQty = qty
			adjustments = append(adjustments, stock.AdjustInput{
				PartID:    line.Ref.PartID,
				Delta:     -qty,
				Reason:    fmt.Sprintf("issue %s", req.Number),
				ActorID:   input.ActorID,
				RefModule: "ISSUE",
				RefID:     shared.ApprovalRef("ISSUE", input.IssueID).String(),
			})
		}
		if len(adjustments) == 0 {
			return fmt.Errorf("%w: nothing to issue", ErrValidation)
		}
		// Joins this transaction via ctx, so a failed deduction rolls back
		// the status change and the idempotency key together.
		if _, err := s.stock.AdjustBatch(ctx, adjustments); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := s.repo.MarkIssued(ctx, input.IssueID, input.ActorID, now); err != nil {
			return err
		}
		req.IssuedAt = &now
		req.IssuedBy = &input.ActorID
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{
				Module: "ISSUE", RefID: shared.ApprovalRef("ISSUE", input.IssueID), ActorID: input.ActorID,
				Action: shared.ApprovalIssue, Note: fmt.Sprintf("issue %s performed", req.Number),
			})
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	old := req.Status
	req.Status = StatusIssued

	s.recordAudit(ctx, input.ActorID, "ISSUE_PERFORM", req.ID, map[string]any{"number": req.Number})
	s.publishStatus(ctx, req, old, StatusIssued, input.ActorID)
	if s.procurement != nil && req.POID != 0 {
		if err := s.procurement.RecomputeFulfillment(ctx, req.POID); err != nil && s.logger != nil {
			s.logger.Warn("recompute fulfillment", slog.Int64("po_id", req.POID), slog.Any("error", err))
		}
	}
	return req, nil
}

// DispatchInput records one shipment leg.
type DispatchInput struct {
	IssueID    int64
	LineID     int64
	Qty        int64
	SubOrderID string
	Carrier    string
	ActorID    int64
}

// RecordDispatch appends a shipment leg to an issued line. Dispatch records
// are append-only; corrections are new legs, never edits.
func (s *Service) RecordDispatch(ctx context.Context, input DispatchInput) (DispatchRecord, error) {
	if input.Qty <= 0 {
		return DispatchRecord{}, fmt.Errorf("%w: dispatch quantity must be positive", ErrValidation)
	}
	if input.SubOrderID == "" {
		return DispatchRecord{}, fmt.Errorf("%w: sub-order id required", ErrValidation)
	}
	var rec DispatchRecord
	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		req, err := s.repo.GetForUpdate(ctx, input.IssueID)
		if err != nil {
			return err
		}
		if req.Status != StatusIssued && req.Status != StatusAdminApproved {
			return fmt.Errorf("%w: dispatch from %s", ErrInvalidTransition, req.Status)
		}
		var line *Line
		for i := range req.Lines {
			if req.Lines[i].ID == input.LineID {
				line = &req.Lines[i]
				break
			}
		}
		if line == nil {
			return fmt.Errorf("%w: unknown line %d", ErrValidation, input.LineID)
		}
		rec = DispatchRecord{
			LineID:       input.LineID,
			Qty:          input.Qty,
			SubOrderID:   input.SubOrderID,
			Carrier:      input.Carrier,
			DispatchedAt: time.Now().UTC(),
		}
		rec.ID, err = s.repo.InsertDispatch(ctx, rec)
		return err
	})
	if err != nil {
		return DispatchRecord{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ISSUE_DISPATCH", input.IssueID, map[string]any{
		"line_id": input.LineID, "qty": input.Qty, "sub_order_id": input.SubOrderID,
	})
	return rec, nil
}

// ReturnInput describes parts coming back from a service center.
type ReturnInput struct {
	IssueID int64
	ActorID int64
	Reason  string
	Lines   []ReturnLine
}

// ReturnLine is one returned part.
type ReturnLine struct {
	PartID int64
	Qty    int64
}

// CreateReturn books returned parts back into stock with ledger entries
// referencing the originating issue. The issue itself stays ISSUED; the
// ledger and the per-line returned quantities are the record. The bound is
// cumulative: across all returns a part never comes back in greater quantity
// than was issued, enforced under the request row lock so concurrent returns
// serialize.
func (s *Service) CreateReturn(ctx context.Context, input ReturnInput) ([]stock.Entry, error) {
	if input.Reason == "" {
		return nil, fmt.Errorf("%w: return reason required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one return line required", ErrValidation)
	}

	var entries []stock.Entry
	var number string
	err := s.repo.Atomic(ctx, func(ctx context.Context) error {
		req, err := s.repo.GetForUpdate(ctx, input.IssueID)
		if err != nil {
			return err
		}
		if req.Status != StatusIssued {
			return fmt.Errorf("%w: return against %s", ErrInvalidTransition, req.Status)
		}
		number = req.Number

		outstanding := make(map[int64]int64, len(req.Lines))
		for _, line := range req.Lines {
			outstanding[line.Ref.PartID] += line.IssuedQty - line.ReturnedQty
		}
		adjustments := make([]stock.AdjustInput, 0, len(input.Lines))
		for _, ret := range input.Lines {
			if ret.Qty <= 0 {
				return fmt.Errorf("%w: return quantity must be positive", ErrValidation)
			}
			if ret.Qty > outstanding[ret.PartID] {
				return fmt.Errorf("%w: part %d returns more than is outstanding", ErrValidation, ret.PartID)
			}
			outstanding[ret.PartID] -= ret.Qty
			adjustments = append(adjustments, stock.AdjustInput{
				PartID:    ret.PartID,
				Delta:     ret.Qty,
				Reason:    fmt.Sprintf("return against issue %s: %s", req.Number, input.Reason),
				ActorID:   input.ActorID,
				RefModule: "ISSUE_RETURN",
				RefID:     shared.ApprovalRef("ISSUE", input.IssueID).String(),
			})
			// Spread the returned quantity over the part's lines in order.
			remaining := ret.Qty
			for i := range req.Lines {
				line := &req.Lines[i]
				if remaining == 0 {
					break
				}
				if line.Ref.PartID != ret.PartID {
					continue
				}
				avail := line.IssuedQty - line.ReturnedQty
				if avail <= 0 {
					continue
				}
				take := remaining
				if take > avail {
					take = avail
				}
				line.ReturnedQty += take
				remaining -= take
				if err := s.repo.UpdateLineReturnedQty(ctx, line.ID, line.ReturnedQty); err != nil {
					return err
				}
			}
		}
		entries, err = s.stock.AdjustBatch(ctx, adjustments)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "ISSUE_RETURN", input.IssueID, map[string]any{
		"number": number, "reason": input.Reason, "lines": len(input.Lines),
	})
	return entries, nil
}

// Get returns the request with lines and dispatches.
func (s *Service) Get(ctx context.Context, issueID int64) (Request, error) {
	return s.repo.Get(ctx, issueID)
}

// ListByServiceCenter returns issues for one service center.
func (s *Service) ListByServiceCenter(ctx context.Context, serviceCenterID int64, limit int) ([]Request, error) {
	return s.repo.ListByServiceCenter(ctx, serviceCenterID, limit)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "issue",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func (s *Service) publishStatus(ctx context.Context, req Request, old, next Status, actorID int64) {
	if s.publisher == nil {
		return
	}
	evt := StatusChangedEvent{
		IssueID:   req.ID,
		Number:    req.Number,
		POID:      req.POID,
		OldStatus: old,
		NewStatus: next,
		ActorID:   actorID,
		At:        time.Now().UTC(),
	}
	if err := s.publisher.PublishIssueStatusChanged(ctx, evt); err != nil && s.logger != nil {
		s.logger.Warn("publish issue status", slog.Int64("issue_id", req.ID), slog.Any("error", err))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
