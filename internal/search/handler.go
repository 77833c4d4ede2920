// Package search answers the free-text lookup box: artists and albums whose
// name contains the query, each with review totals.
package search

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"albumreviews/internal/logging"
)

const (
	defaultLimit = 10
	maxLimit     = 50
)

// Handler responds to search requests backed by the Store.
type Handler struct {
	store Store
}

// NewHandler builds a handler using the provided store implementation.
func NewHandler(store Store) http.Handler {
	return &Handler{store: store}
}

// Response models the payload returned by the search handler.
type Response struct {
	Sections []Section `json:"sections"`
}

// Section groups related search results.
type Section struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Item represents a single search result entry.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle,omitempty"`
	Href      string `json:"href,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, Response{Sections: []Section{}})
		return
	}

	limit := defaultLimit
	if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil && parsed > 0 {
			limit = min(parsed, maxLimit)
		}
	}

	results, err := h.store.Search(r.Context(), query, limit)
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Str("query", query).Msg("search failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "search failed"})
		return
	}

	writeJSON(w, http.StatusOK, buildResponse(results))
}

func buildResponse(results Results) Response {
	sections := make([]Section, 0, 2)

	if len(results.Artists) > 0 {
		items := make([]Item, 0, len(results.Artists))
		for _, artist := range results.Artists {
			subtitle := pluralize(artist.AlbumCount, "album")
			if artist.ReviewCount > 0 {
				subtitle += ", " + pluralize(artist.ReviewCount, "review")
			}
			items = append(items, Item{
				ID:       artist.ID,
				Title:    artist.Name,
				Subtitle: subtitle,
				Href:     artist.Href,
			})
		}
		sections = append(sections, Section{Name: "artists", Items: items})
	}

	if len(results.Albums) > 0 {
		items := make([]Item, 0, len(results.Albums))
		for _, album := range results.Albums {
			subtitle := album.Artist
			if album.AvgRating != nil {
				subtitle += " · " + strconv.FormatFloat(*album.AvgRating, 'f', 1, 64) + "/5"
			}
			item := Item{
				ID:       strconv.FormatInt(album.ID, 10),
				Title:    album.Title,
				Subtitle: subtitle,
				Href:     album.Href,
			}
			if album.CoverRef != nil {
				item.Thumbnail = "/uploads/" + *album.CoverRef
			}
			items = append(items, item)
		}
		sections = append(sections, Section{Name: "albums", Items: items})
	}

	return Response{Sections: sections}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pluralize(count int, singular string) string {
	switch count {
	case 0:
		return "no " + singular + "s"
	case 1:
		return "1 " + singular
	default:
		return strconv.Itoa(count) + " " + singular + "s"
	}
}
