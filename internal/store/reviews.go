package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Review is a single user's rating and comment on an album.
type Review struct {
	ID        int64     `json:"id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	UserID    int64     `json:"user_id"`
	AlbumID   int64     `json:"album_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlbumRef identifies the album a review belongs to.
type AlbumRef struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// ReviewWithAlbum embeds the album identity alongside the review.
type ReviewWithAlbum struct {
	Review
	Album AlbumRef `json:"album"`
}

// NewReview carries already validated input for CreateReview.
type NewReview struct {
	Artist   string
	Album    string
	Genre    string
	CoverRef *string
	Rating   int
	Comment  string
	UserID   int64
}

// ReviewPatch lists the review fields to change. Nil fields are left untouched.
type ReviewPatch struct {
	Rating  *int
	Comment *string
}

// Empty reports whether the patch changes nothing.
func (p ReviewPatch) Empty() bool {
	return p.Rating == nil && p.Comment == nil
}

const (
	reviewColumns = `id, rating, comment, user_id, album_id, created_at, updated_at`

	insertReviewQuery = `
		INSERT INTO reviews (rating, comment, user_id, album_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + reviewColumns

	listReviewsQuery = `
		SELECT r.id, r.rating, r.comment, r.user_id, r.album_id, r.created_at, r.updated_at,
			a.id, a.title, a.artist
		FROM reviews r
		JOIN albums a ON a.id = r.album_id
		ORDER BY r.id DESC
	`

	reviewByIDQuery = `
		SELECT r.id, r.rating, r.comment, r.user_id, r.album_id, r.created_at, r.updated_at,
			a.id, a.title, a.artist
		FROM reviews r
		JOIN albums a ON a.id = r.album_id
		WHERE r.id = $1
	`
)

// CreateReview resolves the album for the review and inserts the review in one
// transaction, so a failed insert never leaves a freshly created album behind.
func (s *Store) CreateReview(ctx context.Context, in NewReview) (Review, error) {
	var review Review

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		albumID, err := resolveAlbum(ctx, tx, in.Album, in.Artist, in.Genre, in.CoverRef)
		if err != nil {
			return err
		}

		review, err = scanReview(tx.QueryRowContext(ctx, insertReviewQuery, in.Rating, in.Comment, in.UserID, albumID))
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: user %d", ErrNotFound, in.UserID)
			}
			return storageErr("insert review", err)
		}
		return nil
	})
	if err != nil {
		return Review{}, err
	}

	return review, nil
}

// UpdateReview applies patch to the review only when userID owns it. A miss,
// whether the review is absent or owned by someone else, is ErrNotFoundOrForbidden.
func (s *Store) UpdateReview(ctx context.Context, reviewID, userID int64, patch ReviewPatch) (Review, error) {
	if patch.Empty() {
		return Review{}, fmt.Errorf("%w: no fields to update", ErrValidation)
	}

	var (
		sets []string
		args []any
	)

	// Column names are fixed here; only values come from the caller.
	if patch.Rating != nil {
		args = append(args, *patch.Rating)
		sets = append(sets, fmt.Sprintf("rating = $%d", len(args)))
	}
	if patch.Comment != nil {
		args = append(args, *patch.Comment)
		sets = append(sets, fmt.Sprintf("comment = $%d", len(args)))
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, reviewID)
	idPos := len(args)
	args = append(args, userID)
	userPos := len(args)

	query := fmt.Sprintf(
		"UPDATE reviews SET %s WHERE id = $%d AND user_id = $%d RETURNING %s",
		strings.Join(sets, ", "), idPos, userPos, reviewColumns,
	)

	review, err := scanReview(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Review{}, ErrNotFoundOrForbidden
		}
		return Review{}, storageErr("update review", err)
	}

	return review, nil
}

// ListReviews returns all reviews with their album identity, newest id first.
func (s *Store) ListReviews(ctx context.Context) ([]ReviewWithAlbum, error) {
	rows, err := s.db.QueryContext(ctx, listReviewsQuery)
	if err != nil {
		return nil, storageErr("select reviews", err)
	}
	defer rows.Close()

	reviews := make([]ReviewWithAlbum, 0)
	for rows.Next() {
		r, err := scanReviewWithAlbum(rows)
		if err != nil {
			return nil, storageErr("scan review", err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate reviews", err)
	}

	return reviews, nil
}

// ReviewByID returns a single review with its album identity.
func (s *Store) ReviewByID(ctx context.Context, id int64) (ReviewWithAlbum, error) {
	r, err := scanReviewWithAlbum(s.db.QueryRowContext(ctx, reviewByIDQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReviewWithAlbum{}, fmt.Errorf("%w: review %d", ErrNotFound, id)
		}
		return ReviewWithAlbum{}, storageErr("select review", err)
	}
	return r, nil
}

func scanReview(scanner rowScanner) (Review, error) {
	var r Review
	if err := scanner.Scan(&r.ID, &r.Rating, &r.Comment, &r.UserID, &r.AlbumID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Review{}, err
	}
	return r, nil
}

func scanReviewWithAlbum(scanner rowScanner) (ReviewWithAlbum, error) {
	var r ReviewWithAlbum
	if err := scanner.Scan(
		&r.ID,
		&r.Rating,
		&r.Comment,
		&r.UserID,
		&r.AlbumID,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.Album.ID,
		&r.Album.Title,
		&r.Album.Artist,
	); err != nil {
		return ReviewWithAlbum{}, err
	}
	return r, nil
}
