package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

type stubStore struct {
	results   Results
	err       error
	lastQuery string
	lastLimit int
}

func (s *stubStore) Search(_ context.Context, query string, limit int) (Results, error) {
	s.lastQuery = query
	s.lastLimit = limit
	return s.results, s.err
}

func TestHandler(t *testing.T) {
	avg := 4.5
	cover := "1-abcd1234-lover.jpg"

	tests := []struct {
		name         string
		target       string
		store        *stubStore
		wantStatus   int
		wantSections int
		wantLimit    int
	}{
		{name: "empty query", target: "/api/search", store: &stubStore{}, wantStatus: http.StatusOK},
		{
			name:   "albums and artists",
			target: "/api/search?q=lov&limit=5",
			store: &stubStore{results: Results{
				Artists: []ArtistResult{{ID: "artist:taylor-swift", Name: "Taylor Swift", AlbumCount: 1, ReviewCount: 2}},
				Albums:  []AlbumResult{{ID: 1, Title: "Lover", Artist: "Taylor Swift", AvgRating: &avg, CoverRef: &cover}},
			}},
			wantStatus:   http.StatusOK,
			wantSections: 2,
			wantLimit:    5,
		},
		{name: "limit capped", target: "/api/search?q=a&limit=500", store: &stubStore{}, wantStatus: http.StatusOK, wantLimit: maxLimit},
		{name: "store failure", target: "/api/search?q=a", store: &stubStore{err: errors.New("boom")}, wantStatus: http.StatusInternalServerError, wantLimit: defaultLimit},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHandler(tc.store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantLimit != 0 && tc.store.lastLimit != tc.wantLimit {
				t.Fatalf("expected limit %d, got %d", tc.wantLimit, tc.store.lastLimit)
			}
			if tc.wantStatus != http.StatusOK {
				return
			}

			var resp Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if len(resp.Sections) != tc.wantSections {
				t.Fatalf("expected %d sections, got %d", tc.wantSections, len(resp.Sections))
			}
			if tc.wantSections == 2 {
				album := resp.Sections[1].Items[0]
				if album.Subtitle != "Taylor Swift · 4.5/5" || album.Thumbnail != "/uploads/"+cover {
					t.Fatalf("unexpected album item: %#v", album)
				}
				if got := resp.Sections[0].Items[0].Subtitle; got != "1 album, 2 reviews" {
					t.Fatalf("unexpected artist subtitle %q", got)
				}
			}
		})
	}
}

func TestPGStoreSearchEscapesWildcards(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(searchArtistsQuery)).
		WithArgs(`%100\%%`, 10).
		WillReturnRows(sqlmock.NewRows([]string{"artist", "album_count", "review_count"}))
	mock.ExpectQuery(regexp.QuoteMeta(searchAlbumsQuery)).
		WithArgs(`%100\%%`, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "artist", "cover_ref", "avg", "count"}).
			AddRow(int64(4), "100% Pure", "Someone", nil, nil, 0))

	results, err := NewPGStore(db).Search(context.Background(), "100%", 0)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(results.Artists) != 0 || len(results.Albums) != 1 {
		t.Fatalf("unexpected results: %#v", results)
	}
	if results.Albums[0].AvgRating != nil || results.Albums[0].Href != "/api/albums/4" {
		t.Fatalf("unexpected album: %#v", results.Albums[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMakeArtistID(t *testing.T) {
	tests := map[string]string{
		"Taylor Swift": "artist:taylor-swift",
		"  Jim  Croce": "artist:jim-croce",
		"!!!":          "artist",
	}
	for in, want := range tests {
		if got := makeArtistID(in); got != want {
			t.Fatalf("makeArtistID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearchAlbumsQueryRoundsAverage(t *testing.T) {
	if !strings.Contains(searchAlbumsQuery, "ROUND(AVG(r.rating)::numeric, 1)::float8") {
		t.Fatalf("album search average is not rounded to one decimal:\n%s", searchAlbumsQuery)
	}
}
