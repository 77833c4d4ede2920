package albums

import (
	"context"
	"fmt"

	"albumreviews/internal/store"
)

// Store captures the persistence needs for album workflows.
type Store interface {
	ListAlbums(ctx context.Context) ([]store.AlbumSummary, error)
	AlbumByID(ctx context.Context, id int64) (store.AlbumSummary, error)
	AlbumWithReviews(ctx context.Context, id int64) (store.AlbumDetail, error)
}

// Service coordinates album-related operations.
type Service interface {
	List(ctx context.Context) ([]store.AlbumSummary, error)
	Get(ctx context.Context, id int64) (store.AlbumSummary, error)
	GetWithReviews(ctx context.Context, id int64) (store.AlbumDetail, error)
}

type service struct {
	store Store
}

// New constructs a Service backed by the provided Store.
func New(store Store) Service {
	return &service{store: store}
}

func (s *service) List(ctx context.Context) ([]store.AlbumSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListAlbums(ctx)
}

func (s *service) Get(ctx context.Context, id int64) (store.AlbumSummary, error) {
	if err := ctx.Err(); err != nil {
		return store.AlbumSummary{}, err
	}
	if id <= 0 {
		return store.AlbumSummary{}, fmt.Errorf("%w: album %d", store.ErrNotFound, id)
	}
	return s.store.AlbumByID(ctx, id)
}

func (s *service) GetWithReviews(ctx context.Context, id int64) (store.AlbumDetail, error) {
	if err := ctx.Err(); err != nil {
		return store.AlbumDetail{}, err
	}
	if id <= 0 {
		return store.AlbumDetail{}, fmt.Errorf("%w: album %d", store.ErrNotFound, id)
	}
	return s.store.AlbumWithReviews(ctx, id)
}
