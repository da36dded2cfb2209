package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// RepositoryPort abstracts catalog reads for the service.
type RepositoryPort interface {
	GetByID(ctx context.Context, id int64) (Part, error)
	GetByNumber(ctx context.Context, number string) (Part, error)
	GetByName(ctx context.Context, name string) (Part, error)
}

// Service resolves part references with a bounded timeout, a Redis cache and
// singleflight stampede control.
type Service struct {
	repo    RepositoryPort
	cache   *Cache
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

// NewService builds Service. A zero timeout defaults to two seconds.
func NewService(repo RepositoryPort, cache *Cache, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{repo: repo, cache: cache, timeout: timeout, logger: logger}
}

// ResolvePart resolves a part reference trying the strongest identifier
// first: catalog id, then part number, then display name.
func (s *Service) ResolvePart(ctx context.Context, ref Ref) (Part, error) {
	if ref.Empty() {
		return Part{}, fmt.Errorf("%w: empty part reference", ErrPartNotFound)
	}

	if ref.ID != 0 {
		if part, ok := s.cache.Get(ctx, ref.ID); ok {
			return part, nil
		}
	}

	key := flightKey(ref)
	result, err, _ := s.group.Do(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.lookup(lookupCtx, ref)
	})
	if err != nil {
		return Part{}, err
	}
	part := result.(Part)
	s.cache.Set(ctx, part)
	return part, nil
}

func (s *Service) lookup(ctx context.Context, ref Ref) (Part, error) {
	var part Part
	var err error
	switch {
	case ref.ID != 0:
		part, err = s.repo.GetByID(ctx, ref.ID)
	case ref.Number != "":
		part, err = s.repo.GetByNumber(ctx, ref.Number)
	default:
		part, err = s.repo.GetByName(ctx, ref.Name)
	}
	if err != nil {
		if errors.Is(err, ErrPartNotFound) {
			return Part{}, err
		}
		if s.logger != nil {
			s.logger.Error("catalog lookup failed",
				slog.Int64("part_id", ref.ID),
				slog.String("number", ref.Number),
				slog.Any("error", err))
		}
		return Part{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return part, nil
}

func flightKey(ref Ref) string {
	if ref.ID != 0 {
		return "id:" + strconv.FormatInt(ref.ID, 10)
	}
	if ref.Number != "" {
		return "number:" + ref.Number
	}
	return "name:" + ref.Name
}
