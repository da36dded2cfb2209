package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	parts map[int64]Part
	down  bool
	calls int
}

func (r *fakeRepo) get(match func(Part) bool) (Part, error) {
	r.calls++
	if r.down {
		return Part{}, errors.New("dial tcp: connection refused")
	}
	for _, p := range r.parts {
		if match(p) {
			return p, nil
		}
	}
	return Part{}, ErrPartNotFound
}

func (r *fakeRepo) GetByID(ctx context.Context, id int64) (Part, error) {
	return r.get(func(p Part) bool { return p.ID == id })
}

func (r *fakeRepo) GetByNumber(ctx context.Context, number string) (Part, error) {
	return r.get(func(p Part) bool { return p.Number == number })
}

func (r *fakeRepo) GetByName(ctx context.Context, name string) (Part, error) {
	return r.get(func(p Part) bool { return p.Name == name })
}

func seedRepo() *fakeRepo {
	return &fakeRepo{parts: map[int64]Part{
		10: {ID: 10, Number: "BRK-100", Name: "Brake Pad Set", HSNCode: "8708", UnitPrice: decimal.RequireFromString("450.00")},
		11: {ID: 11, Number: "FLT-200", Name: "Oil Filter", HSNCode: "8421", UnitPrice: decimal.RequireFromString("120.50")},
	}}
}

func TestResolvePartByID(t *testing.T) {
	svc := NewService(seedRepo(), nil, time.Second, nil)

	part, err := svc.ResolvePart(context.Background(), Ref{ID: 10})
	require.NoError(t, err)
	require.Equal(t, "BRK-100", part.Number)
	require.True(t, part.UnitPrice.Equal(decimal.RequireFromString("450.00")))
}

func TestResolvePartIDTakesPrecedence(t *testing.T) {
	svc := NewService(seedRepo(), nil, time.Second, nil)

	// Name points at the other part; the id must win.
	part, err := svc.ResolvePart(context.Background(), Ref{ID: 10, Name: "Oil Filter"})
	require.NoError(t, err)
	require.Equal(t, int64(10), part.ID)
}

func TestResolvePartByNumberThenName(t *testing.T) {
	svc := NewService(seedRepo(), nil, time.Second, nil)

	part, err := svc.ResolvePart(context.Background(), Ref{Number: "FLT-200"})
	require.NoError(t, err)
	require.Equal(t, int64(11), part.ID)

	part, err = svc.ResolvePart(context.Background(), Ref{Name: "Oil Filter"})
	require.NoError(t, err)
	require.Equal(t, int64(11), part.ID)
}

func TestResolvePartEmptyRef(t *testing.T) {
	svc := NewService(seedRepo(), nil, time.Second, nil)

	_, err := svc.ResolvePart(context.Background(), Ref{})
	require.ErrorIs(t, err, ErrPartNotFound)
}

func TestResolvePartNotFound(t *testing.T) {
	svc := NewService(seedRepo(), nil, time.Second, nil)

	_, err := svc.ResolvePart(context.Background(), Ref{ID: 404})
	require.ErrorIs(t, err, ErrPartNotFound)
	require.NotErrorIs(t, err, ErrUnavailable)
}

func TestResolvePartStoreFailureMapsToUnavailable(t *testing.T) {
	repo := seedRepo()
	repo.down = true
	svc := NewService(repo, nil, time.Second, nil)

	_, err := svc.ResolvePart(context.Background(), Ref{ID: 10})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestResolvePartCacheHitSkipsStore(t *testing.T) {
	repo := seedRepo()
	cache := newTestCache(t, time.Minute)
	svc := NewService(repo, cache, time.Second, nil)

	_, err := svc.ResolvePart(context.Background(), Ref{ID: 10})
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)

	// Second resolve is served from Redis even with the store down.
	repo.down = true
	part, err := svc.ResolvePart(context.Background(), Ref{ID: 10})
	require.NoError(t, err)
	require.Equal(t, "BRK-100", part.Number)
	require.Equal(t, 1, repo.calls)
}
