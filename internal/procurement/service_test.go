package procurement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/fulfillment"
)

type memoryRepo struct {
	orders     map[int64]*PurchaseOrder
	nextPOID   int64
	nextLineID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]*PurchaseOrder)}
}

func (r *memoryRepo) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memoryRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	r.nextPOID++
	po.ID = r.nextPOID
	po.Lines = nil
	r.orders[po.ID] = &po
	return po.ID, nil
}

func (r *memoryRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	r.nextLineID++
	line.ID = r.nextLineID
	po := r.orders[line.POID]
	po.Lines = append(po.Lines, line)
	return line.ID, nil
}

func (r *memoryRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	clone := *po
	clone.Lines = append([]Line(nil), po.Lines...)
	return clone, nil
}

func (r *memoryRepo) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return r.GetPO(ctx, id)
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	po, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	return nil
}

func (r *memoryRepo) SetDecision(ctx context.Context, id int64, status Status, actorID int64, reason string, at time.Time) error {
	po, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	po.DecidedBy = &actorID
	if status == StatusRejected {
		po.RejectReason = reason
		po.RejectedAt = &at
	} else {
		po.ApprovedAt = &at
	}
	return nil
}

func (r *memoryRepo) UpdateLineApproval(ctx context.Context, lineID, approvedQty int64, status LineStatus) error {
	for _, po := range r.orders {
		for i := range po.Lines {
			if po.Lines[i].ID == lineID {
				po.Lines[i].ApprovedQty = approvedQty
				po.Lines[i].Status = status
				return nil
			}
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) ListByServiceCenter(ctx context.Context, serviceCenterID int64, limit int) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	for _, po := range r.orders {
		if po.ServiceCenterID == serviceCenterID {
			out = append(out, *po)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	parts map[int64]catalog.Part
	down  bool
}

func (c *fakeCatalog) ResolvePart(ctx context.Context, ref catalog.Ref) (catalog.Part, error) {
	if c.down {
		return catalog.Part{}, catalog.ErrUnavailable
	}
	if part, ok := c.parts[ref.ID]; ok {
		return part, nil
	}
	for _, part := range c.parts {
		if ref.Number != "" && part.Number == ref.Number {
			return part, nil
		}
		if ref.Name != "" && part.Name == ref.Name {
			return part, nil
		}
	}
	return catalog.Part{}, catalog.ErrPartNotFound
}

type fakeIssues struct {
	issues []fulfillment.Issue
}

func (f *fakeIssues) ListForPO(ctx context.Context, poID int64) ([]fulfillment.Issue, error) {
	return f.issues, nil
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{parts: map[int64]catalog.Part{
		10: {ID: 10, Number: "BRK-100", Name: "Brake Pad", HSNCode: "8708", UnitPrice: decimal.NewFromInt(450)},
		11: {ID: 11, Number: "FLT-200", Name: "Oil Filter", HSNCode: "8421", UnitPrice: decimal.NewFromInt(120)},
	}}
}

func newTestService(repo *memoryRepo, cat *fakeCatalog, issues *fakeIssues) *Service {
	if issues == nil {
		issues = &fakeIssues{}
	}
	return NewService(repo, cat, issues, nil, nil, nil, nil)
}

func createPending(t *testing.T, svc *Service) PurchaseOrder {
	t.Helper()
	po, err := svc.CreatePurchaseOrder(context.Background(), CreateInput{
		ServiceCenterID: 1,
		RequestedBy:     7,
		Submit:          true,
		Lines: []LineInput{
			{PartID: 10, Qty: 4},
			{PartID: 11, Qty: 2},
		},
	})
	require.NoError(t, err)
	return po
}

func TestCreateResolvesPricesFromCatalog(t *testing.T) {
	svc := newTestService(newMemoryRepo(), testCatalog(), nil)

	po, err := svc.CreatePurchaseOrder(context.Background(), CreateInput{
		ServiceCenterID: 1,
		RequestedBy:     7,
		Lines:           []LineInput{{PartNumber: "BRK-100", Qty: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, po.Status)
	require.Len(t, po.Lines, 1)
	require.Equal(t, int64(10), po.Lines[0].Ref.PartID)
	require.True(t, po.Lines[0].UnitPrice.Equal(decimal.NewFromInt(450)))
	require.NotEmpty(t, po.Number)
}

func TestCreateRejectsUnknownPart(t *testing.T) {
	svc := newTestService(newMemoryRepo(), testCatalog(), nil)

	_, err := svc.CreatePurchaseOrder(context.Background(), CreateInput{
		ServiceCenterID: 1,
		Lines:           []LineInput{{PartNumber: "NOPE", Qty: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateAbortsWhenCatalogDown(t *testing.T) {
	repo := newMemoryRepo()
	cat := testCatalog()
	cat.down = true
	svc := newTestService(repo, cat, nil)

	_, err := svc.CreatePurchaseOrder(context.Background(), CreateInput{
		ServiceCenterID: 1,
		Lines:           []LineInput{{PartID: 10, Qty: 1}},
	})
	require.ErrorIs(t, err, catalog.ErrUnavailable)
	require.Empty(t, repo.orders)
}

func TestPOExists(t *testing.T) {
	svc := newTestService(newMemoryRepo(), testCatalog(), nil)
	po := createPending(t, svc)

	ok, err := svc.POExists(context.Background(), po.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.POExists(context.Background(), 99999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSubmitOnlyFromDraft(t *testing.T) {
	svc := newTestService(newMemoryRepo(), testCatalog(), nil)

	po, err := svc.CreatePurchaseOrder(context.Background(), CreateInput{
		ServiceCenterID: 1,
		Lines:           []LineInput{{PartID: 10, Qty: 1}},
	})
	require.NoError(t, err)

	po, err = svc.SubmitPurchaseOrder(context.Background(), po.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPending, po.Status)

	_, err = svc.SubmitPurchaseOrder(context.Background(), po.ID, 7)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveWithOverrides(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, testCatalog(), nil)
	po := createPending(t, svc)

	approved, err := svc.ApprovePurchaseOrder(context.Background(), po.ID, 99, []LineOverride{
		{LineID: po.Lines[0].ID, ApprovedQty: 2},
		{LineID: po.Lines[1].ID, ApprovedQty: 0},
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, int64(2), approved.Lines[0].ApprovedQty)
	require.Equal(t, LineApproved, approved.Lines[0].Status)
	require.Equal(t, LineRejected, approved.Lines[1].Status)
	require.NotNil(t, approved.ApprovedAt)
	require.Equal(t, int64(99), *approved.DecidedBy)
}

func TestApproveUnknownLineOverride(t *testing.T) {
	svc := newTestService(newMemoryRepo(), testCatalog(), nil)
	po := createPending(t, svc)

	_, err := svc.ApprovePurchaseOrder(context.Background(), po.ID, 99, []LineOverride{{LineID: 12345, ApprovedQty: 1}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSecondDecisionFails(t *testing.T) {
	svc := newTestService(newMemoryRepo(), testCatalog(), nil)
	po := createPending(t, svc)

	_, err := svc.ApprovePurchaseOrder(context.Background(), po.ID, 99, nil)
	require.NoError(t, err)

	_, err = svc.RejectPurchaseOrder(context.Background(), po.ID, 100, "changed my mind")
	require.ErrorIs(t, err, ErrAlreadyDecided)

	_, err = svc.ApprovePurchaseOrder(context.Background(), po.ID, 100, nil)
	require.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestRejectRequiresReason(t *testing.T) {
	svc := newTestService(newMemoryRepo(), testCatalog(), nil)
	po := createPending(t, svc)

	_, err := svc.RejectPurchaseOrder(context.Background(), po.ID, 99, "")
	require.ErrorIs(t, err, ErrValidation)

	rejected, err := svc.RejectPurchaseOrder(context.Background(), po.ID, 99, "budget freeze")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, "budget freeze", rejected.RejectReason)
	require.True(t, rejected.Status.Terminal())
}

func TestDecideDraftIsInvalidTransition(t *testing.T) {
	svc := newTestService(newMemoryRepo(), testCatalog(), nil)

	po, err := svc.CreatePurchaseOrder(context.Background(), CreateInput{
		ServiceCenterID: 1,
		Lines:           []LineInput{{PartID: 10, Qty: 1}},
	})
	require.NoError(t, err)

	_, err = svc.ApprovePurchaseOrder(context.Background(), po.ID, 99, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecomputeFulfillmentProgression(t *testing.T) {
	repo := newMemoryRepo()
	issues := &fakeIssues{}
	svc := newTestService(repo, testCatalog(), issues)
	po := createPending(t, svc)

	_, err := svc.ApprovePurchaseOrder(context.Background(), po.ID, 99, nil)
	require.NoError(t, err)

	// Partial: 1 of 4 brake pads issued.
	issues.issues = []fulfillment.Issue{{ID: 1, Lines: []fulfillment.IssueLine{{
		Ref:        fulfillment.PartReference{PartID: 10},
		Requested:  4,
		Dispatches: []fulfillment.Dispatch{{Qty: 1, SubOrderID: "SUB-1"}},
	}}}}
	require.NoError(t, svc.RecomputeFulfillment(context.Background(), po.ID))
	got, err := svc.GetPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, got.Status)

	// Complete both lines.
	issues.issues = []fulfillment.Issue{{ID: 1, Lines: []fulfillment.IssueLine{
		{
			Ref:        fulfillment.PartReference{PartID: 10},
			Requested:  4,
			Dispatches: []fulfillment.Dispatch{{Qty: 4, SubOrderID: "SUB-1"}},
		},
		{
			Ref:        fulfillment.PartReference{PartID: 11},
			Requested:  2,
			Dispatches: []fulfillment.Dispatch{{Qty: 2, SubOrderID: "SUB-2"}},
		},
	}}}
	require.NoError(t, svc.RecomputeFulfillment(context.Background(), po.ID))
	got, err = svc.GetPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, got.Status)
}

func TestRecomputeHonoursClosingMarker(t *testing.T) {
	repo := newMemoryRepo()
	issues := &fakeIssues{}
	svc := newTestService(repo, testCatalog(), issues)
	po := createPending(t, svc)

	_, err := svc.ApprovePurchaseOrder(context.Background(), po.ID, 99, []LineOverride{
		{LineID: po.Lines[1].ID, ApprovedQty: 0},
	})
	require.NoError(t, err)

	// Short shipment with a closing leg settles the line despite remainder.
	issues.issues = []fulfillment.Issue{{ID: 1, Lines: []fulfillment.IssueLine{{
		Ref:        fulfillment.PartReference{PartID: 10},
		Requested:  4,
		Dispatches: []fulfillment.Dispatch{{Qty: 2, SubOrderID: "SUB-9-CLOSED"}},
	}}}}
	require.NoError(t, svc.RecomputeFulfillment(context.Background(), po.ID))
	got, err := svc.GetPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, got.Status)
}

func TestFulfillmentSnapshotSkipsRejectedLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, testCatalog(), &fakeIssues{})
	po := createPending(t, svc)

	_, err := svc.ApprovePurchaseOrder(context.Background(), po.ID, 99, []LineOverride{
		{LineID: po.Lines[1].ID, ApprovedQty: 0},
	})
	require.NoError(t, err)

	snap, err := svc.FulfillmentSnapshot(context.Background(), po.ID)
	require.NoError(t, err)
	require.Contains(t, snap, po.Lines[0].ID)
	require.NotContains(t, snap, po.Lines[1].ID)
}
