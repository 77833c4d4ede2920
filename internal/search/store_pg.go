package search

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Store defines the persistence operations required by the search handler.
type Store interface {
	Search(ctx context.Context, query string, limit int) (Results, error)
}

// Results holds the artist and album matches for one query.
type Results struct {
	Artists []ArtistResult
	Albums  []AlbumResult
}

// ArtistResult summarises an artist with at least one album on file.
type ArtistResult struct {
	ID          string
	Name        string
	AlbumCount  int
	ReviewCount int
	Href        string
}

// AlbumResult summarises an album match with its rating aggregate.
type AlbumResult struct {
	ID          int64
	Title       string
	Artist      string
	AvgRating   *float64
	ReviewCount int
	Href        string
	CoverRef    *string
}

const (
	searchArtistsQuery = `
		SELECT a.artist, COUNT(DISTINCT a.id) AS album_count, COUNT(r.id) AS review_count
		FROM albums a
		LEFT JOIN reviews r ON r.album_id = a.id
		WHERE a.artist ILIKE $1 ESCAPE '\'
		GROUP BY a.artist
		ORDER BY review_count DESC, a.artist ASC
		LIMIT $2
	`

	searchAlbumsQuery = `
		SELECT a.id, a.title, a.artist, a.cover_ref, ROUND(AVG(r.rating)::numeric, 1)::float8, COUNT(r.id)
		FROM albums a
		LEFT JOIN reviews r ON r.album_id = a.id
		WHERE a.title ILIKE $1 ESCAPE '\' OR a.artist ILIKE $1 ESCAPE '\'
		GROUP BY a.id
		ORDER BY COUNT(r.id) DESC, a.title ASC
		LIMIT $2
	`
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a Store backed by the supplied database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Search matches query against artist names and album titles.
func (s *PGStore) Search(ctx context.Context, query string, limit int) (Results, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	like := "%" + escapeLike(query) + "%"

	artists, err := s.fetchArtists(ctx, like, limit)
	if err != nil {
		return Results{}, err
	}

	albums, err := s.fetchAlbums(ctx, like, limit)
	if err != nil {
		return Results{}, err
	}

	return Results{Artists: artists, Albums: albums}, nil
}

func (s *PGStore) fetchArtists(ctx context.Context, like string, limit int) ([]ArtistResult, error) {
	rows, err := s.db.QueryContext(ctx, searchArtistsQuery, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search artists: %w", err)
	}
	defer rows.Close()

	results := make([]ArtistResult, 0)
	for rows.Next() {
		var a ArtistResult
		if err := rows.Scan(&a.Name, &a.AlbumCount, &a.ReviewCount); err != nil {
			return nil, fmt.Errorf("scan artist: %w", err)
		}
		a.ID = makeArtistID(a.Name)
		a.Href = "/api/search?q=" + url.QueryEscape(a.Name)
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artists: %w", err)
	}

	return results, nil
}

func (s *PGStore) fetchAlbums(ctx context.Context, like string, limit int) ([]AlbumResult, error) {
	rows, err := s.db.QueryContext(ctx, searchAlbumsQuery, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search albums: %w", err)
	}
	defer rows.Close()

	results := make([]AlbumResult, 0)
	for rows.Next() {
		var (
			a     AlbumResult
			cover sql.NullString
			avg   sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Artist, &cover, &avg, &a.ReviewCount); err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		if cover.Valid {
			a.CoverRef = &cover.String
		}
		if avg.Valid {
			a.AvgRating = &avg.Float64
		}
		a.Href = "/api/albums/" + strconv.FormatInt(a.ID, 10)
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate albums: %w", err)
	}

	return results, nil
}

// escapeLike makes % and _ in user input match literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func makeArtistID(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "artist"
	}
	return "artist:" + slug
}
