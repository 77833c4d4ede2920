package reviews

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"albumreviews/internal/store"
)

const (
	minRating = 1
	maxRating = 5
)

// Store defines the persistence hooks for review workflows.
type Store interface {
	CreateReview(ctx context.Context, in store.NewReview) (store.Review, error)
	UpdateReview(ctx context.Context, reviewID, userID int64, patch store.ReviewPatch) (store.Review, error)
	ListReviews(ctx context.Context) ([]store.ReviewWithAlbum, error)
	ReviewByID(ctx context.Context, id int64) (store.ReviewWithAlbum, error)
}

// CreateInput is a review submission as received from a form. All fields are
// raw strings; Create validates and converts them.
type CreateInput struct {
	Artist   string
	Album    string
	Genre    string
	Rating   string
	Comment  string
	UserID   string
	CoverRef *string
}

// UpdateInput changes the rating and/or comment of a review owned by UserID.
type UpdateInput struct {
	ReviewID int64
	UserID   int64
	Rating   *int
	Comment  *string
}

// Service coordinates review submission, edits and queries.
type Service interface {
	Create(ctx context.Context, in CreateInput) (store.Review, error)
	Update(ctx context.Context, in UpdateInput) (store.Review, error)
	List(ctx context.Context) ([]store.ReviewWithAlbum, error)
	Get(ctx context.Context, id int64) (store.ReviewWithAlbum, error)
}

type service struct {
	store Store
}

// New constructs a reviews Service backed by the given Store.
func New(store Store) Service {
	return &service{store: store}
}

func (s *service) Create(ctx context.Context, in CreateInput) (store.Review, error) {
	if err := ctx.Err(); err != nil {
		return store.Review{}, err
	}

	required := []struct {
		name  string
		value string
	}{
		{"artist", in.Artist},
		{"album", in.Album},
		{"genre", in.Genre},
		{"rating", in.Rating},
		{"user_id", in.UserID},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return store.Review{}, fmt.Errorf("%w: missing required field: %s", store.ErrValidation, field.name)
		}
	}

	rating, err := strconv.Atoi(strings.TrimSpace(in.Rating))
	if err != nil {
		return store.Review{}, fmt.Errorf("%w: rating out of range", store.ErrValidation)
	}
	if err := checkRating(rating); err != nil {
		return store.Review{}, err
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(in.UserID), 10, 64)
	if err != nil || userID <= 0 {
		return store.Review{}, fmt.Errorf("%w: user_id must be a positive integer", store.ErrValidation)
	}

	return s.store.CreateReview(ctx, store.NewReview{
		Artist:   strings.TrimSpace(in.Artist),
		Album:    strings.TrimSpace(in.Album),
		Genre:    strings.TrimSpace(in.Genre),
		CoverRef: in.CoverRef,
		Rating:   rating,
		Comment:  in.Comment,
		UserID:   userID,
	})
}

func (s *service) Update(ctx context.Context, in UpdateInput) (store.Review, error) {
	if err := ctx.Err(); err != nil {
		return store.Review{}, err
	}

	patch := store.ReviewPatch{Rating: in.Rating, Comment: in.Comment}
	if patch.Empty() {
		return store.Review{}, fmt.Errorf("%w: no fields to update", store.ErrValidation)
	}
	if patch.Rating != nil {
		if err := checkRating(*patch.Rating); err != nil {
			return store.Review{}, err
		}
	}
	if in.UserID <= 0 {
		return store.Review{}, store.ErrUnauthorized
	}

	return s.store.UpdateReview(ctx, in.ReviewID, in.UserID, patch)
}

func (s *service) List(ctx context.Context) ([]store.ReviewWithAlbum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListReviews(ctx)
}

func (s *service) Get(ctx context.Context, id int64) (store.ReviewWithAlbum, error) {
	if err := ctx.Err(); err != nil {
		return store.ReviewWithAlbum{}, err
	}
	return s.store.ReviewByID(ctx, id)
}

func checkRating(rating int) error {
	if rating < minRating || rating > maxRating {
		return fmt.Errorf("%w: rating out of range", store.ErrValidation)
	}
	return nil
}
