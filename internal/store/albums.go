package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Album is the canonical record for a (title, artist) pair.
type Album struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Genre     string    `json:"genre"`
	CoverRef  *string   `json:"cover_ref"`
	CreatedAt time.Time `json:"created_at"`
}

// AlbumSummary is an album with its derived rating aggregate.
// AvgRating is nil when the album has no reviews.
type AlbumSummary struct {
	Album
	AvgRating   *float64 `json:"avg_rating"`
	ReviewCount int64    `json:"review_count"`
}

// AlbumDetail nests the album's reviews, newest first.
type AlbumDetail struct {
	AlbumSummary
	Reviews []AlbumReview `json:"reviews"`
}

// AlbumReview is a review as listed under its album.
type AlbumReview struct {
	ID        int64     `json:"id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      UserRef   `json:"user"`
}

// UserRef identifies a reviewer.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

const (
	lookupAlbumQuery = `
		SELECT id
		FROM albums
		WHERE title = $1 AND artist = $2
	`

	insertAlbumQuery = `
		INSERT INTO albums (title, artist, genre, cover_ref)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (title, artist) DO NOTHING
		RETURNING id
	`

	listAlbumsQuery = `
		SELECT a.id, a.title, a.artist, a.genre, a.cover_ref, a.created_at,
			ROUND(AVG(r.rating)::numeric, 1)::float8 AS avg_rating,
			COUNT(r.id) AS review_count
		FROM albums a
		LEFT JOIN reviews r ON r.album_id = a.id
		GROUP BY a.id
		ORDER BY a.title ASC, a.id ASC
	`

	albumByIDQuery = `
		SELECT a.id, a.title, a.artist, a.genre, a.cover_ref, a.created_at,
			ROUND(AVG(r.rating)::numeric, 1)::float8 AS avg_rating,
			COUNT(r.id) AS review_count
		FROM albums a
		LEFT JOIN reviews r ON r.album_id = a.id
		WHERE a.id = $1
		GROUP BY a.id
	`

	albumWithReviewsQuery = `
		SELECT a.id, a.title, a.artist, a.genre, a.cover_ref, a.created_at,
			ROUND(AVG(r.rating)::numeric, 1)::float8 AS avg_rating,
			COUNT(r.id) AS review_count,
			COALESCE(
				json_agg(
					json_build_object(
						'id', r.id,
						'rating', r.rating,
						'comment', r.comment,
						'created_at', r.created_at,
						'updated_at', r.updated_at,
						'user', json_build_object('id', u.id, 'username', u.username)
					) ORDER BY r.created_at DESC, r.id DESC
				) FILTER (WHERE r.id IS NOT NULL),
				'[]'::json
			) AS reviews
		FROM albums a
		LEFT JOIN reviews r ON r.album_id = a.id
		LEFT JOIN users u ON u.id = r.user_id
		WHERE a.id = $1
		GROUP BY a.id
	`
)

// ResolveAlbum returns the id of the album matching (title, artist), creating it
// with genre and coverRef when none exists. An existing album keeps its
// original genre and cover.
func (s *Store) ResolveAlbum(ctx context.Context, title, artist, genre string, coverRef *string) (int64, error) {
	return resolveAlbum(ctx, s.db, title, artist, genre, coverRef)
}

func resolveAlbum(ctx context.Context, q Queryer, title, artist, genre string, coverRef *string) (int64, error) {
	title = strings.TrimSpace(title)
	artist = strings.TrimSpace(artist)
	genre = strings.TrimSpace(genre)

	id, err := lookupAlbumID(ctx, q, title, artist)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, storageErr("lookup album", err)
	}

	err = q.QueryRowContext(ctx, insertAlbumQuery, title, artist, genre, coverRef).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		// A concurrent writer inserted the same pair between lookup and insert.
		id, err = lookupAlbumID(ctx, q, title, artist)
		if err != nil {
			return 0, storageErr("refetch album", err)
		}
		return id, nil
	default:
		return 0, storageErr("insert album", err)
	}
}

func lookupAlbumID(ctx context.Context, q Queryer, title, artist string) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, lookupAlbumQuery, title, artist).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// ListAlbums returns every album with its rating aggregate, ordered by title.
// Albums without reviews are included.
func (s *Store) ListAlbums(ctx context.Context) ([]AlbumSummary, error) {
	rows, err := s.db.QueryContext(ctx, listAlbumsQuery)
	if err != nil {
		return nil, storageErr("select albums", err)
	}
	defer rows.Close()

	albums := make([]AlbumSummary, 0)
	for rows.Next() {
		a, err := scanAlbumSummary(rows)
		if err != nil {
			return nil, storageErr("scan album", err)
		}
		albums = append(albums, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate albums", err)
	}

	return albums, nil
}

// AlbumByID returns a single album with its rating aggregate.
func (s *Store) AlbumByID(ctx context.Context, id int64) (AlbumSummary, error) {
	a, err := scanAlbumSummary(s.db.QueryRowContext(ctx, albumByIDQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AlbumSummary{}, fmt.Errorf("%w: album %d", ErrNotFound, id)
		}
		return AlbumSummary{}, storageErr("select album", err)
	}
	return a, nil
}

// AlbumWithReviews returns the album aggregate plus its reviews and reviewers.
func (s *Store) AlbumWithReviews(ctx context.Context, id int64) (AlbumDetail, error) {
	var reviewsJSON []byte

	summary, err := scanAlbumSummary(s.db.QueryRowContext(ctx, albumWithReviewsQuery, id), &reviewsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AlbumDetail{}, fmt.Errorf("%w: album %d", ErrNotFound, id)
		}
		return AlbumDetail{}, storageErr("select album with reviews", err)
	}

	detail := AlbumDetail{AlbumSummary: summary, Reviews: make([]AlbumReview, 0)}
	if len(reviewsJSON) > 0 {
		if err := json.Unmarshal(reviewsJSON, &detail.Reviews); err != nil {
			return AlbumDetail{}, storageErr("decode album reviews", err)
		}
	}
	if detail.Reviews == nil {
		detail.Reviews = make([]AlbumReview, 0)
	}

	return detail, nil
}

func scanAlbumSummary(scanner rowScanner, extra ...any) (AlbumSummary, error) {
	var (
		a     AlbumSummary
		cover sql.NullString
		avg   sql.NullFloat64
	)

	dest := append([]any{
		&a.ID,
		&a.Title,
		&a.Artist,
		&a.Genre,
		&cover,
		&a.CreatedAt,
		&avg,
		&a.ReviewCount,
	}, extra...)

	if err := scanner.Scan(dest...); err != nil {
		return AlbumSummary{}, err
	}

	a.CoverRef = nullableString(cover)
	if avg.Valid {
		v := avg.Float64
		a.AvgRating = &v
	}

	return a, nil
}
