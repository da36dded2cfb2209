package stock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/partsflow/partsflow/internal/platform/db"
)

type memoryRepo struct {
	mu      sync.Mutex
	entries map[int64]Entry
	ledger  []LedgerEntry
	nextID  int64
}

func newMemoryRepo(seed map[int64]int64) *memoryRepo {
	r := &memoryRepo{entries: make(map[int64]Entry)}
	for partID, qty := range seed {
		r.nextID++
		r.entries[partID] = Entry{ID: r.nextID, PartID: partID, OnHand: qty, MinLevel: 5}
	}
	return r
}

func (r *memoryRepo) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}

func (r *memoryRepo) GetEntry(ctx context.Context, partID int64) (Entry, error) {
	if e, ok := r.entries[partID]; ok {
		return e, nil
	}
	return Entry{}, ErrEntryNotFound
}

func (r *memoryRepo) GetEntryForUpdate(ctx context.Context, partID int64) (Entry, error) {
	return r.GetEntry(ctx, partID)
}

func (r *memoryRepo) UpdateEntryQty(ctx context.Context, entryID, newQty int64) error {
	for partID, e := range r.entries {
		if e.ID == entryID {
			e.OnHand = newQty
			r.entries[partID] = e
			return nil
		}
	}
	return ErrEntryNotFound
}

func (r *memoryRepo) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	entry.ID = int64(len(r.ledger) + 1)
	r.ledger = append(r.ledger, entry)
	return entry.ID, nil
}

func (r *memoryRepo) ListLedger(ctx context.Context, partID int64, limit int) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for i := len(r.ledger) - 1; i >= 0; i-- {
		if r.ledger[i].PartID == partID {
			out = append(out, r.ledger[i])
		}
	}
	return out, nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if e.OnHand <= e.MinLevel {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordPublisher struct {
	events []AdjustedEvent
}

func (p *recordPublisher) PublishStockAdjusted(ctx context.Context, evt AdjustedEvent) error {
	p.events = append(p.events, evt)
	return nil
}

func TestAdjustAppendsLedgerAndUpdatesQty(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 8})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	entry, err := svc.Adjust(context.Background(), AdjustInput{PartID: 10, Delta: -3, Reason: "issue ISS-1", ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(5), entry.OnHand)

	entries, err := svc.ListLedger(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(-3), entries[0].Delta)
	require.Equal(t, int64(8), entries[0].PrevQty)
	require.Equal(t, int64(5), entries[0].NewQty)
}

func TestAdjustRejectsNegativeResult(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 2})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	_, err := svc.Adjust(context.Background(), AdjustInput{PartID: 10, Delta: -3, Reason: "too much"})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Nothing changed, nothing logged.
	qty, err := svc.QuantityOf(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), qty)
	entries, err := svc.ListLedger(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAdjustAllowNegativeOverride(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 2})
	svc := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true}, nil)

	entry, err := svc.Adjust(context.Background(), AdjustInput{PartID: 10, Delta: -5, Reason: "backorder"})
	require.NoError(t, err)
	require.Equal(t, int64(-3), entry.OnHand)
}

func TestAdjustValidatesInput(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 2})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	_, err := svc.Adjust(context.Background(), AdjustInput{PartID: 10, Delta: 0, Reason: "noop"})
	require.ErrorIs(t, err, ErrInvalidAdjustment)

	_, err = svc.Adjust(context.Background(), AdjustInput{PartID: 10, Delta: 1})
	require.ErrorIs(t, err, ErrInvalidAdjustment)

	_, err = svc.AdjustBatch(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidAdjustment)
}

func TestAdjustBatchAllOrNothing(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 8, 11: 1})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	_, err := svc.AdjustBatch(context.Background(), []AdjustInput{
		{PartID: 10, Delta: -4, Reason: "issue"},
		{PartID: 11, Delta: -2, Reason: "issue"}, // would go negative
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Batch rolled back as a unit in production; the fake applies rows
	// in part-id order and fails before touching part 11.
	qty, err := svc.QuantityOf(context.Background(), 11)
	require.NoError(t, err)
	require.Equal(t, int64(1), qty)
}

func TestAdjustBatchLocksInPartIDOrder(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 8, 11: 8, 12: 8})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	entries, err := svc.AdjustBatch(context.Background(), []AdjustInput{
		{PartID: 12, Delta: -1, Reason: "issue"},
		{PartID: 10, Delta: -1, Reason: "issue"},
		{PartID: 11, Delta: -1, Reason: "issue"},
	})
	require.NoError(t, err)
	// Results come back in input order regardless of lock order.
	require.Equal(t, int64(12), entries[0].PartID)
	require.Equal(t, int64(10), entries[1].PartID)
	require.Equal(t, int64(11), entries[2].PartID)

	// Ledger rows were written in ascending part-id order.
	require.Equal(t, int64(10), repo.ledger[0].PartID)
	require.Equal(t, int64(11), repo.ledger[1].PartID)
	require.Equal(t, int64(12), repo.ledger[2].PartID)
}

func TestAdjustPublishesStandalone(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 8})
	pub := &recordPublisher{}
	svc := NewService(repo, nil, pub, ServiceConfig{}, nil)

	_, err := svc.Adjust(context.Background(), AdjustInput{PartID: 10, Delta: -1, Reason: "issue ISS-1"})
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	require.Equal(t, int64(-1), pub.events[0].Delta)
}

func TestAdjustInCallerTxPublishesOnlyAfterCommit(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 8})
	pub := &recordPublisher{}
	svc := NewService(repo, nil, pub, ServiceConfig{}, nil)

	// Emulates running inside a caller transaction: events must wait for the
	// surrounding commit, not the batch's own return.
	ctx, commit := db.CommitScope(context.Background())
	_, err := svc.AdjustBatch(ctx, []AdjustInput{{PartID: 10, Delta: -2, Reason: "issue ISS-2"}})
	require.NoError(t, err)
	require.Empty(t, pub.events)

	commit(context.Background())
	require.Len(t, pub.events, 1)
	require.Equal(t, int64(-2), pub.events[0].Delta)
}

func TestAdjustInRolledBackTxPublishesNothing(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 8})
	pub := &recordPublisher{}
	svc := NewService(repo, nil, pub, ServiceConfig{}, nil)

	// The surrounding transaction never commits; the buffered events are
	// simply discarded with it.
	ctx, _ := db.CommitScope(context.Background())
	_, err := svc.AdjustBatch(ctx, []AdjustInput{{PartID: 10, Delta: -2, Reason: "issue ISS-3"}})
	require.NoError(t, err)
	require.Empty(t, pub.events)
}

func TestAdjustUnknownPart(t *testing.T) {
	repo := newMemoryRepo(nil)
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	_, err := svc.Adjust(context.Background(), AdjustInput{PartID: 404, Delta: 1, Reason: "receipt"})
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestEntryStatusDerivation(t *testing.T) {
	require.Equal(t, StatusOutOfStock, Entry{OnHand: 0, MinLevel: 5}.Status())
	require.Equal(t, StatusLowStock, Entry{OnHand: 5, MinLevel: 5}.Status())
	require.Equal(t, StatusInStock, Entry{OnHand: 6, MinLevel: 5}.Status())
}

func TestListLowStock(t *testing.T) {
	repo := newMemoryRepo(map[int64]int64{10: 3, 11: 50})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	entries, err := svc.ListLowStock(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(10), entries[0].PartID)
}
