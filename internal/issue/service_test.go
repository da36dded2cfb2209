package issue

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/shared"
	"github.com/partsflow/partsflow/internal/stock"
)

type memoryRepo struct {
	issues     map[int64]*Request
	nextID     int64
	nextLineID int64
	nextDispID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{issues: make(map[int64]*Request)}
}

func (r *memoryRepo) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memoryRepo) Create(ctx context.Context, req Request) (int64, error) {
	r.nextID++
	req.ID = r.nextID
	req.Lines = nil
	r.issues[req.ID] = &req
	return req.ID, nil
}

func (r *memoryRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	r.nextLineID++
	line.ID = r.nextLineID
	req := r.issues[line.IssueID]
	req.Lines = append(req.Lines, line)
	return line.ID, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Request, error) {
	req, ok := r.issues[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	clone := *req
	clone.Lines = append([]Line(nil), req.Lines...)
	return clone, nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (Request, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) SetDecision(ctx context.Context, id int64, status Status, actorID int64, reason string, at time.Time) error {
	req, ok := r.issues[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	req.DecidedBy = &actorID
	if status == StatusAdminRejected {
		req.RejectReason = reason
		req.RejectedAt = &at
	} else {
		req.ApprovedAt = &at
	}
	return nil
}

func (r *memoryRepo) MarkIssued(ctx context.Context, id, actorID int64, at time.Time) error {
	req, ok := r.issues[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = StatusIssued
	req.IssuedBy = &actorID
	req.IssuedAt = &at
	return nil
}

func (r *memoryRepo) UpdateLineIssuedQty(ctx context.Context, lineID, qty int64) error {
	for _, req := range r.issues {
		for i := range req.Lines {
			if req.Lines[i].ID == lineID {
				req.Lines[i].IssuedQty = qty
				return nil
			}
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) UpdateLineReturnedQty(ctx context.Context, lineID, qty int64) error {
	for _, req := range r.issues {
		for i := range req.Lines {
			if req.Lines[i].ID == lineID {
				req.Lines[i].ReturnedQty = qty
				return nil
			}
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) InsertDispatch(ctx context.Context, d DispatchRecord) (int64, error) {
	r.nextDispID++
	d.ID = r.nextDispID
	for _, req := range r.issues {
		for i := range req.Lines {
			if req.Lines[i].ID == d.LineID {
				req.Lines[i].Dispatches = append(req.Lines[i].Dispatches, d)
				return d.ID, nil
			}
		}
	}
	return 0, ErrNotFound
}

func (r *memoryRepo) ListForPO(ctx context.Context, poID int64) ([]Request, error) {
	var out []Request
	for _, req := range r.issues {
		if req.POID == poID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListByServiceCenter(ctx context.Context, serviceCenterID int64, limit int) ([]Request, error) {
	var out []Request
	for _, req := range r.issues {
		if req.ServiceCenterID == serviceCenterID {
			out = append(out, *req)
		}
	}
	return out, nil
}

type fakeStock struct {
	onHand map[int64]int64
}

func (s *fakeStock) AdjustBatch(ctx context.Context, inputs []stock.AdjustInput) ([]stock.Entry, error) {
	// Validate the whole batch before mutating anything.
	for _, in := range inputs {
		if s.onHand[in.PartID]+in.Delta < 0 {
			return nil, stock.ErrInsufficientStock
		}
	}
	out := make([]stock.Entry, 0, len(inputs))
	for _, in := range inputs {
		s.onHand[in.PartID] += in.Delta
		out = append(out, stock.Entry{PartID: in.PartID, OnHand: s.onHand[in.PartID]})
	}
	return out, nil
}

func (s *fakeStock) QuantityOf(ctx context.Context, partID int64) (int64, error) {
	qty, ok := s.onHand[partID]
	if !ok {
		return 0, stock.ErrEntryNotFound
	}
	return qty, nil
}

type fakeCatalog struct {
	parts map[int64]catalog.Part
}

func (c *fakeCatalog) ResolvePart(ctx context.Context, ref catalog.Ref) (catalog.Part, error) {
	if part, ok := c.parts[ref.ID]; ok {
		return part, nil
	}
	for _, part := range c.parts {
		if ref.Number != "" && part.Number == ref.Number {
			return part, nil
		}
	}
	return catalog.Part{}, catalog.ErrPartNotFound
}

type fakeProc struct {
	pos        map[int64]bool
	recomputed []int64
}

func (p *fakeProc) POExists(ctx context.Context, poID int64) (bool, error) {
	return p.pos[poID], nil
}

func (p *fakeProc) RecomputeFulfillment(ctx context.Context, poID int64) error {
	p.recomputed = append(p.recomputed, poID)
	return nil
}

type fakeIdem struct {
	seen map[string]bool
}

func (f *fakeIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	f.seen[key] = true
	return nil
}

type fixture struct {
	svc   *Service
	repo  *memoryRepo
	stock *fakeStock
	proc  *fakeProc
	idem  *fakeIdem
}

func newFixture() *fixture {
	repo := newMemoryRepo()
	st := &fakeStock{onHand: map[int64]int64{10: 8, 11: 3}}
	cat := &fakeCatalog{parts: map[int64]catalog.Part{
		10: {ID: 10, Number: "BRK-100", Name: "Brake Pad", UnitPrice: decimal.NewFromInt(450)},
		11: {ID: 11, Number: "FLT-200", Name: "Oil Filter", UnitPrice: decimal.NewFromInt(120)},
	}}
	proc := &fakeProc{pos: map[int64]bool{5: true}}
	idem := &fakeIdem{}
	svc := NewService(repo, st, cat, proc, idem, nil, nil, nil, nil)
	return &fixture{svc: svc, repo: repo, stock: st, proc: proc, idem: idem}
}

func (f *fixture) createApproved(t *testing.T, qty int64) Request {
	t.Helper()
	req, _, err := f.svc.Create(context.Background(), CreateInput{
		POID:            5,
		ServiceCenterID: 1,
		RequestedBy:     7,
		Lines:           []LineInput{{PartID: 10, Qty: qty}},
	})
	require.NoError(t, err)
	req, err = f.svc.AdminApprove(context.Background(), req.ID, 99)
	require.NoError(t, err)
	return req
}

func TestCreateComputesTotalsAndWarnings(t *testing.T) {
	f := newFixture()

	req, warnings, err := f.svc.Create(context.Background(), CreateInput{
		ServiceCenterID: 1,
		RequestedBy:     7,
		Lines: []LineInput{
			{PartID: 10, Qty: 2},
			{PartID: 11, Qty: 5}, // only 3 on hand
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, req.Status)
	require.True(t, req.TotalValue.Equal(decimal.NewFromInt(2*450+5*120)))
	require.Len(t, warnings, 1)
	require.Equal(t, int64(11), warnings[0].PartID)
	require.Equal(t, int64(3), warnings[0].OnHand)
}

func TestCreateRejectsUnknownPart(t *testing.T) {
	f := newFixture()

	_, _, err := f.svc.Create(context.Background(), CreateInput{
		ServiceCenterID: 1,
		Lines:           []LineInput{{PartID: 404, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateRejectsUnknownPO(t *testing.T) {
	f := newFixture()

	_, _, err := f.svc.Create(context.Background(), CreateInput{
		POID:            99999,
		ServiceCenterID: 1,
		Lines:           []LineInput{{PartID: 10, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrPONotFound)
}

func TestIssueDeductsStockOnce(t *testing.T) {
	f := newFixture()
	req := f.createApproved(t, 5)

	issued, err := f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 42, IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.Equal(t, StatusIssued, issued.Status)
	require.Equal(t, int64(3), f.stock.onHand[10])
	require.Equal(t, []int64{5}, f.proc.recomputed)

	_, err = f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 42, IdempotencyKey: "k2"})
	require.ErrorIs(t, err, ErrAlreadyIssued)
	require.Equal(t, int64(3), f.stock.onHand[10])
}

func TestIssueRejectsDuplicateIdempotencyKey(t *testing.T) {
	f := newFixture()
	first := f.createApproved(t, 1)
	second := f.createApproved(t, 1)

	_, err := f.svc.IssueParts(context.Background(), IssueInput{IssueID: first.ID, ActorID: 42, IdempotencyKey: "same"})
	require.NoError(t, err)

	_, err = f.svc.IssueParts(context.Background(), IssueInput{IssueID: second.ID, ActorID: 42, IdempotencyKey: "same"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestIssueEnforcesSeparationOfDuties(t *testing.T) {
	f := newFixture()
	req := f.createApproved(t, 1)

	_, err := f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 99})
	require.ErrorIs(t, err, ErrSeparationOfDuties)
}

func TestIssueInsufficientStockFails(t *testing.T) {
	f := newFixture()
	req := f.createApproved(t, 5)
	f.stock.onHand[10] = 2

	_, err := f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 42})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.Equal(t, int64(2), f.stock.onHand[10])

	got, err := f.svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotEqual(t, StatusIssued, got.Status)
}

func TestIssueBeforeApprovalFails(t *testing.T) {
	f := newFixture()
	req, _, err := f.svc.Create(context.Background(), CreateInput{
		ServiceCenterID: 1,
		Lines:           []LineInput{{PartID: 10, Qty: 1}},
	})
	require.NoError(t, err)

	_, err = f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 42})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIssuePartialQuantities(t *testing.T) {
	f := newFixture()
	req := f.createApproved(t, 5)

	issued, err := f.svc.IssueParts(context.Background(), IssueInput{
		IssueID:    req.ID,
		ActorID:    42,
		Quantities: map[int64]int64{req.Lines[0].ID: 3},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), issued.Lines[0].IssuedQty)
	require.Equal(t, int64(5), f.stock.onHand[10])

	_, err = f.svc.IssueParts(context.Background(), IssueInput{
		IssueID:    req.ID,
		ActorID:    42,
		Quantities: map[int64]int64{req.Lines[0].ID: 9},
	})
	require.ErrorIs(t, err, ErrAlreadyIssued)
}

func TestSecondDecisionFails(t *testing.T) {
	f := newFixture()
	req, _, err := f.svc.Create(context.Background(), CreateInput{
		ServiceCenterID: 1,
		Lines:           []LineInput{{PartID: 10, Qty: 1}},
	})
	require.NoError(t, err)

	_, err = f.svc.AdminReject(context.Background(), req.ID, 99, "not needed")
	require.NoError(t, err)

	_, err = f.svc.AdminApprove(context.Background(), req.ID, 100)
	require.ErrorIs(t, err, ErrAlreadyDecided)

	_, err = f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 42})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReturnRestocksWithinIssuedQty(t *testing.T) {
	f := newFixture()
	req := f.createApproved(t, 5)
	_, err := f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 42})
	require.NoError(t, err)
	require.Equal(t, int64(3), f.stock.onHand[10])

	_, err = f.svc.CreateReturn(context.Background(), ReturnInput{
		IssueID: req.ID, ActorID: 7, Reason: "wrong part",
		Lines: []ReturnLine{{PartID: 10, Qty: 9}},
	})
	require.ErrorIs(t, err, ErrValidation)

	entries, err := f.svc.CreateReturn(context.Background(), ReturnInput{
		IssueID: req.ID, ActorID: 7, Reason: "wrong part",
		Lines: []ReturnLine{{PartID: 10, Qty: 2}},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(5), f.stock.onHand[10])
}

func TestReturnBoundIsCumulative(t *testing.T) {
	f := newFixture()
	req := f.createApproved(t, 5)
	_, err := f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 42})
	require.NoError(t, err)
	require.Equal(t, int64(3), f.stock.onHand[10])

	// Full return succeeds once.
	_, err = f.svc.CreateReturn(context.Background(), ReturnInput{
		IssueID: req.ID, ActorID: 7, Reason: "order cancelled",
		Lines: []ReturnLine{{PartID: 10, Qty: 5}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(8), f.stock.onHand[10])

	// Nothing outstanding: repeating the same return must not restock again.
	_, err = f.svc.CreateReturn(context.Background(), ReturnInput{
		IssueID: req.ID, ActorID: 7, Reason: "order cancelled",
		Lines: []ReturnLine{{PartID: 10, Qty: 5}},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, int64(8), f.stock.onHand[10])
}

func TestReturnBoundSpansPartialReturns(t *testing.T) {
	f := newFixture()
	req := f.createApproved(t, 5)
	_, err := f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 42})
	require.NoError(t, err)

	_, err = f.svc.CreateReturn(context.Background(), ReturnInput{
		IssueID: req.ID, ActorID: 7, Reason: "damaged",
		Lines: []ReturnLine{{PartID: 10, Qty: 3}},
	})
	require.NoError(t, err)

	// Only 2 are still out; 3 more exceeds the cumulative bound.
	_, err = f.svc.CreateReturn(context.Background(), ReturnInput{
		IssueID: req.ID, ActorID: 7, Reason: "damaged",
		Lines: []ReturnLine{{PartID: 10, Qty: 3}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateReturn(context.Background(), ReturnInput{
		IssueID: req.ID, ActorID: 7, Reason: "damaged",
		Lines: []ReturnLine{{PartID: 10, Qty: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(8), f.stock.onHand[10])

	got, err := f.svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Lines[0].ReturnedQty)
}

func TestRecordDispatchAndFulfillmentView(t *testing.T) {
	f := newFixture()
	req := f.createApproved(t, 5)
	_, err := f.svc.IssueParts(context.Background(), IssueInput{IssueID: req.ID, ActorID: 42})
	require.NoError(t, err)

	rec, err := f.svc.RecordDispatch(context.Background(), DispatchInput{
		IssueID: req.ID, LineID: req.Lines[0].ID, Qty: 2, SubOrderID: "SUB-1", Carrier: "bluedart", ActorID: 42,
	})
	require.NoError(t, err)
	require.NotZero(t, rec.ID)

	adapter := NewFulfillmentAdapter(f.repo)
	issues, err := adapter.ListForPO(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Len(t, issues[0].Lines, 1)
	require.Len(t, issues[0].Lines[0].Dispatches, 1)
	require.Equal(t, int64(2), issues[0].Lines[0].Dispatches[0].Qty)
}

func TestFulfillmentAdapterSkipsUnissued(t *testing.T) {
	f := newFixture()
	_, _, err := f.svc.Create(context.Background(), CreateInput{
		POID: 5, ServiceCenterID: 1,
		Lines: []LineInput{{PartID: 10, Qty: 1}},
	})
	require.NoError(t, err)

	adapter := NewFulfillmentAdapter(f.repo)
	issues, err := adapter.ListForPO(context.Background(), 5)
	require.NoError(t, err)
	require.Empty(t, issues)
}
