package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"albumreviews/internal/app/reviews"
	"albumreviews/internal/app/users"
	"albumreviews/internal/covers"
	"albumreviews/internal/logging"
	"albumreviews/internal/store"
)

// UserService captures the account operations needed by the HTTP handlers.
type UserService interface {
	Register(ctx context.Context, in users.RegisterInput) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
	Authenticate(ctx context.Context, token string) (int64, error)
	Me(ctx context.Context, userID int64) (store.User, error)
	Profile(ctx context.Context, id int64) (store.UserDetail, error)
}

// AlbumService exposes album aggregate reads.
type AlbumService interface {
	List(ctx context.Context) ([]store.AlbumSummary, error)
	Get(ctx context.Context, id int64) (store.AlbumSummary, error)
	GetWithReviews(ctx context.Context, id int64) (store.AlbumDetail, error)
}

// ReviewService coordinates review submission and edits.
type ReviewService interface {
	Create(ctx context.Context, in reviews.CreateInput) (store.Review, error)
	Update(ctx context.Context, in reviews.UpdateInput) (store.Review, error)
	List(ctx context.Context) ([]store.ReviewWithAlbum, error)
	Get(ctx context.Context, id int64) (store.ReviewWithAlbum, error)
}

const (
	defaultMaxUploadBytes = 10 << 20
	maxJSONBodyBytes      = 1 << 20
)

// Server wires HTTP handlers to the underlying services.
type Server struct {
	users          UserService
	albums         AlbumService
	reviews        ReviewService
	covers         covers.Store
	maxUploadBytes int64
}

// New configures a Server. maxUploadBytes bounds multipart review bodies;
// zero selects a 10 MiB default.
func New(users UserService, albums AlbumService, reviews ReviewService, coverStore covers.Store, maxUploadBytes int64) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Server{
		users:          users,
		albums:         albums,
		reviews:        reviews,
		covers:         coverStore,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes exposes the HTTP handlers for reviews, albums, users and covers.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/reviews", s.handleCreateReview).Methods(http.MethodPost)
	router.HandleFunc("/reviews", s.handleListReviews).Methods(http.MethodGet)
	router.HandleFunc("/reviews/{id}", s.handleGetReview).Methods(http.MethodGet)
	router.HandleFunc("/reviews/{id}", s.handleUpdateReview).Methods(http.MethodPut)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/albums", s.handleListAlbums).Methods(http.MethodGet)
	api.HandleFunc("/albums/{id}", s.handleGetAlbum).Methods(http.MethodGet)
	api.HandleFunc("/albums/{id}/rating", s.handleGetAlbumRating).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)

	router.HandleFunc("/users/register", s.handleRegister).Methods(http.MethodPost)
	router.HandleFunc("/users/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/users/me", s.handleMe).Methods(http.MethodGet)

	router.HandleFunc("/uploads/{name}", s.handleCover).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	return router
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors onto HTTP statuses. Anything unrecognised is
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var storageErr *store.StorageError

	switch {
	case errors.Is(err, store.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
	case errors.Is(err, store.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: store.ErrInvalidCredentials.Error()})
	case errors.Is(err, store.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, store.ErrNotFoundOrForbidden):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "review not found"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrUserExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "username already taken"})
	case errors.Is(err, context.Canceled):
		// Client went away; nobody is reading the response.
		logging.FromContext(r.Context()).Debug().Err(err).Msg("request canceled")
	default:
		event := logging.FromContext(r.Context()).Error().Err(err)
		if errors.As(err, &storageErr) {
			event = event.Str("op", storageErr.Op)
		}
		event.Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), store.ErrValidation.Error()+": ")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return errors.New("invalid JSON payload")
	}
	return nil
}

func parseBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// authenticate resolves the bearer token on r. On failure it writes the 401
// itself and returns ok=false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (int64, *http.Request, bool) {
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
		return 0, r, false
	}

	userID, err := s.users.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return 0, r, false
	}

	return userID, r.WithContext(logging.ContextWithUserID(r.Context(), userID)), true
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
