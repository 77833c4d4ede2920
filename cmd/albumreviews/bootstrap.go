package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"albumreviews/internal/auth"
	"albumreviews/internal/logging"
	"albumreviews/internal/store"
)

type demoReview struct {
	Artist  string
	Album   string
	Genre   string
	Rating  int
	Comment string
}

var demoReviews = []demoReview{
	{Artist: "Taylor Swift", Album: "Lover", Genre: "Pop", Rating: 5, Comment: "A great record"},
	{Artist: "Eminem", Album: "Encore", Genre: "Rap", Rating: 4, Comment: "A good album"},
	{Artist: "Jim Croce", Album: "I Got A Name", Genre: "Rock", Rating: 5, Comment: "Not one bad song"},
}

// seedStore is the slice of *store.Store the demo seed writes through.
type seedStore interface {
	CreateUser(ctx context.Context, in store.NewUser) (store.User, error)
	CreateReview(ctx context.Context, in store.NewReview) (store.Review, error)
}

// bootstrapDemoData creates user1 and their three reviews. It does nothing
// when the schema is missing or user1 already exists.
func bootstrapDemoData(ctx context.Context, db *sql.DB, dataStore seedStore) error {
	for _, table := range []string{"users", "albums", "reviews"} {
		ok, err := tableExists(ctx, db, table)
		if err != nil {
			return fmt.Errorf("check %s table: %w", table, err)
		}
		if !ok {
			logging.FromContext(ctx).Warn().Str("table", table).Msg("schema not migrated, skipping demo seed")
			return nil
		}
	}

	return seedDemo(ctx, dataStore)
}

func seedDemo(ctx context.Context, dataStore seedStore) error {
	hash, err := auth.HashPassword("password1")
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	user, err := dataStore.CreateUser(ctx, store.NewUser{
		FirstName:    "jane",
		LastName:     "doe",
		Username:     "user1",
		PasswordHash: hash,
	})
	if errors.Is(err, store.ErrUserExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap demo user: %w", err)
	}

	for _, r := range demoReviews {
		if _, err := dataStore.CreateReview(ctx, store.NewReview{
			Artist:  r.Artist,
			Album:   r.Album,
			Genre:   r.Genre,
			Rating:  r.Rating,
			Comment: r.Comment,
			UserID:  user.ID,
		}); err != nil {
			return fmt.Errorf("insert demo review for %q: %w", r.Album, err)
		}
	}

	logging.FromContext(ctx).Info().Int64("user_id", user.ID).Int("reviews", len(demoReviews)).Msg("demo data seeded")
	return nil
}

type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func tableExists(ctx context.Context, q queryRower, table string) (bool, error) {
	var name sql.NullString
	if err := q.QueryRowContext(ctx, `SELECT to_regclass($1)`, table).Scan(&name); err != nil {
		return false, err
	}
	return name.Valid, nil
}
