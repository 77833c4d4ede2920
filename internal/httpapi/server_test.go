package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"albumreviews/internal/app/reviews"
	"albumreviews/internal/app/users"
	"albumreviews/internal/covers"
	"albumreviews/internal/store"
)

const validToken = "valid-token"

type stubUserService struct {
	registerErr error
	loginErr    error
	lastInput   users.RegisterInput
}

func (s *stubUserService) Register(_ context.Context, in users.RegisterInput) (string, error) {
	s.lastInput = in
	if s.registerErr != nil {
		return "", s.registerErr
	}
	return "new-token", nil
}

func (s *stubUserService) Login(_ context.Context, username, password string) (string, error) {
	if s.loginErr != nil {
		return "", s.loginErr
	}
	return "login-token", nil
}

func (s *stubUserService) Authenticate(_ context.Context, token string) (int64, error) {
	if token != validToken {
		return 0, fmt.Errorf("%w: bad token", store.ErrUnauthorized)
	}
	return 7, nil
}

func (s *stubUserService) Me(_ context.Context, userID int64) (store.User, error) {
	return store.User{ID: userID, Username: "user1"}, nil
}

func (s *stubUserService) Profile(_ context.Context, id int64) (store.UserDetail, error) {
	if id != 7 {
		return store.UserDetail{}, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	return store.UserDetail{User: store.User{ID: 7, Username: "user1"}, Reviews: []store.UserReview{}}, nil
}

type stubAlbumService struct {
	listErr error
}

func (s *stubAlbumService) List(context.Context) ([]store.AlbumSummary, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	avg := 4.5
	return []store.AlbumSummary{
		{Album: store.Album{ID: 2, Title: "Encore", Artist: "Eminem"}},
		{Album: store.Album{ID: 1, Title: "Lover", Artist: "Taylor Swift"}, AvgRating: &avg, ReviewCount: 2},
	}, nil
}

func (s *stubAlbumService) Get(_ context.Context, id int64) (store.AlbumSummary, error) {
	if id != 1 {
		return store.AlbumSummary{}, fmt.Errorf("%w: album %d", store.ErrNotFound, id)
	}
	return store.AlbumSummary{Album: store.Album{ID: 1, Title: "Lover"}}, nil
}

func (s *stubAlbumService) GetWithReviews(_ context.Context, id int64) (store.AlbumDetail, error) {
	if id != 1 {
		return store.AlbumDetail{}, fmt.Errorf("%w: album %d", store.ErrNotFound, id)
	}
	return store.AlbumDetail{
		AlbumSummary: store.AlbumSummary{Album: store.Album{ID: 1, Title: "Lover"}},
		Reviews:      []store.AlbumReview{},
	}, nil
}

type stubReviewService struct {
	createErr  error
	createHook func(ctx context.Context) error
	updateErr  error
	lastCreate reviews.CreateInput
	lastUpdate reviews.UpdateInput
}

func (s *stubReviewService) Create(ctx context.Context, in reviews.CreateInput) (store.Review, error) {
	s.lastCreate = in
	if s.createHook != nil {
		return store.Review{}, s.createHook(ctx)
	}
	if s.createErr != nil {
		return store.Review{}, s.createErr
	}
	return store.Review{ID: 1, Rating: 5, Comment: in.Comment, AlbumID: 1, CreatedAt: time.Now()}, nil
}

func (s *stubReviewService) Update(_ context.Context, in reviews.UpdateInput) (store.Review, error) {
	s.lastUpdate = in
	if s.updateErr != nil {
		return store.Review{}, s.updateErr
	}
	return store.Review{ID: in.ReviewID, UserID: in.UserID}, nil
}

func (s *stubReviewService) List(context.Context) ([]store.ReviewWithAlbum, error) {
	return []store.ReviewWithAlbum{}, nil
}

func (s *stubReviewService) Get(_ context.Context, id int64) (store.ReviewWithAlbum, error) {
	return store.ReviewWithAlbum{}, fmt.Errorf("%w: review %d", store.ErrNotFound, id)
}

type testServer struct {
	handler http.Handler
	users   *stubUserService
	albums  *stubAlbumService
	reviews *stubReviewService
	covers  *covers.DiskStore
	dir     string
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()

	dir := t.TempDir()
	coverStore, err := covers.NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	ts := &testServer{
		users:   &stubUserService{},
		albums:  &stubAlbumService{},
		reviews: &stubReviewService{},
		covers:  coverStore,
		dir:     dir,
	}
	ts.handler = New(ts.users, ts.albums, ts.reviews, coverStore, maxUpload).Routes()
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, fields map[string]string, coverName string, cover []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if coverName != "" {
		fw, err := mw.CreateFormFile("cover", coverName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(cover); err != nil {
			t.Fatalf("write cover: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/reviews", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateReviewMultipartWithCover(t *testing.T) {
	ts := newTestServer(t, 0)

	req := multipartRequest(t, map[string]string{
		"artist":      "Taylor Swift",
		"album":       "Lover",
		"genre":       "Pop",
		"rating":      "5",
		"description": "A great record",
		"user_id":     "1",
	}, "lover.jpg", []byte("\xff\xd8\xff\xe0 jpeg"))

	rec := ts.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp createReviewResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "Review created successfully!" {
		t.Fatalf("unexpected message %q", resp.Message)
	}

	got := ts.reviews.lastCreate
	if got.Comment != "A great record" || got.UserID != "1" || got.Rating != "5" {
		t.Fatalf("unexpected create input: %#v", got)
	}
	if got.CoverRef == nil || !strings.HasSuffix(*got.CoverRef, "-lover.jpg") {
		t.Fatalf("expected stored cover ref, got %v", got.CoverRef)
	}
	if _, err := os.Stat(filepath.Join(ts.dir, *got.CoverRef)); err != nil {
		t.Fatalf("cover not on disk: %v", err)
	}
}

func TestCreateReviewValidationRemovesCover(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.reviews.createErr = fmt.Errorf("%w: missing required field: genre", store.ErrValidation)

	req := multipartRequest(t, map[string]string{
		"artist": "Taylor Swift",
		"album":  "Lover",
		"rating": "5",
	}, "lover.jpg", []byte("jpeg"))

	rec := ts.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "missing required field: genre" {
		t.Fatalf("unexpected error message %q", msg)
	}

	entries, err := os.ReadDir(ts.dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected orphaned cover to be removed, found %d files", len(entries))
	}
}

func TestCreateReviewRemovesCoverWhenClientGoesAway(t *testing.T) {
	ts := newTestServer(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts.reviews.createHook = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	req := multipartRequest(t, map[string]string{
		"artist":  "Taylor Swift",
		"album":   "Lover",
		"genre":   "Pop",
		"rating":  "5",
		"user_id": "1",
	}, "lover.jpg", []byte("jpeg"))

	ts.do(req.WithContext(ctx))

	if ts.reviews.lastCreate.CoverRef == nil {
		t.Fatal("expected the cover to be stored before create ran")
	}
	entries, err := os.ReadDir(ts.dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected cover removed after canceled create, found %s", entries[0].Name())
	}
}

func TestCreateReviewJSON(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(jsonRequest(http.MethodPost, "/reviews",
		`{"artist":"Eminem","album":"Encore","genre":"Rap","rating":4,"review":"Solid","user_id":3}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	got := ts.reviews.lastCreate
	if got.Rating != "4" || got.UserID != "3" || got.Comment != "Solid" || got.CoverRef != nil {
		t.Fatalf("unexpected create input: %#v", got)
	}
}

func TestCreateReviewBearerOverridesUserID(t *testing.T) {
	ts := newTestServer(t, 0)

	req := jsonRequest(http.MethodPost, "/reviews",
		`{"artist":"Eminem","album":"Encore","genre":"Rap","rating":"4","user_id":"99"}`)
	req.Header.Set("Authorization", "Bearer "+validToken)

	rec := ts.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if ts.reviews.lastCreate.UserID != "7" {
		t.Fatalf("expected token user 7, got %q", ts.reviews.lastCreate.UserID)
	}

	req = jsonRequest(http.MethodPost, "/reviews", `{"artist":"Eminem"}`)
	req.Header.Set("Authorization", "Bearer forged")
	if rec := ts.do(req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
}

func TestCreateReviewErrors(t *testing.T) {
	tests := []struct {
		name       string
		createErr  error
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest, wantError: "invalid JSON payload"},
		{name: "unknown user", createErr: fmt.Errorf("%w: user 404", store.ErrNotFound), body: `{}`, wantStatus: http.StatusNotFound},
		{
			name:       "storage failure",
			createErr:  &store.StorageError{Op: "insert review", Err: errors.New("connection refused")},
			body:       `{}`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal server error",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, 0)
			ts.reviews.createErr = tc.createErr

			rec := ts.do(jsonRequest(http.MethodPost, "/reviews", tc.body))
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			msg := decodeError(t, rec)
			if tc.wantError != "" && msg != tc.wantError {
				t.Fatalf("expected error %q, got %q", tc.wantError, msg)
			}
			if strings.Contains(msg, "connection refused") {
				t.Fatalf("storage details leaked: %q", msg)
			}
		})
	}
}

func TestCreateReviewTooLarge(t *testing.T) {
	ts := newTestServer(t, 64)

	req := multipartRequest(t, map[string]string{"artist": "x"}, "big.jpg", bytes.Repeat([]byte("a"), 1024))
	rec := ts.do(req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestUpdateReview(t *testing.T) {
	tests := []struct {
		name       string
		auth       string
		target     string
		body       string
		updateErr  error
		wantStatus int
	}{
		{name: "missing token", target: "/reviews/10", body: `{"rating":4}`, wantStatus: http.StatusUnauthorized},
		{name: "bad token", auth: "Bearer nope", target: "/reviews/10", body: `{"rating":4}`, wantStatus: http.StatusUnauthorized},
		{name: "bad id", auth: "Bearer " + validToken, target: "/reviews/abc", body: `{"rating":4}`, wantStatus: http.StatusBadRequest},
		{
			name: "no fields", auth: "Bearer " + validToken, target: "/reviews/10", body: `{}`,
			updateErr: fmt.Errorf("%w: no fields to update", store.ErrValidation), wantStatus: http.StatusBadRequest,
		},
		{
			name: "not owner", auth: "Bearer " + validToken, target: "/reviews/10", body: `{"rating":4}`,
			updateErr: store.ErrNotFoundOrForbidden, wantStatus: http.StatusNotFound,
		},
		{name: "ok", auth: "Bearer " + validToken, target: "/reviews/10", body: `{"rating":4,"comment":"better"}`, wantStatus: http.StatusOK},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, 0)
			ts.reviews.updateErr = tc.updateErr

			req := jsonRequest(http.MethodPut, tc.target, tc.body)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}

			rec := ts.do(req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantStatus == http.StatusOK {
				got := ts.reviews.lastUpdate
				if got.ReviewID != 10 || got.UserID != 7 || got.Rating == nil || *got.Rating != 4 || got.Comment == nil {
					t.Fatalf("unexpected update input: %#v", got)
				}
			}
		})
	}
}

func TestAlbumRoutes(t *testing.T) {
	tests := []struct {
		target     string
		wantStatus int
	}{
		{target: "/api/albums", wantStatus: http.StatusOK},
		{target: "/api/albums/1", wantStatus: http.StatusOK},
		{target: "/api/albums/2", wantStatus: http.StatusNotFound},
		{target: "/api/albums/x", wantStatus: http.StatusBadRequest},
		{target: "/api/albums/1/rating", wantStatus: http.StatusOK},
		{target: "/api/albums/5/rating", wantStatus: http.StatusNotFound},
	}

	ts := newTestServer(t, 0)
	for _, tc := range tests {
		tc := tc
		t.Run(tc.target, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(http.MethodGet, tc.target, nil))
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
		})
	}
}

func TestListAlbumsPayload(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/albums", nil))

	var payload []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode albums: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("expected 2 albums, got %d", len(payload))
	}
	if payload[0]["avg_rating"] != nil || payload[0]["review_count"] != float64(0) {
		t.Fatalf("expected null average for unreviewed album, got %v", payload[0])
	}
	if payload[1]["avg_rating"] != 4.5 {
		t.Fatalf("unexpected average %v", payload[1]["avg_rating"])
	}
}

func TestListAlbumsStorageFailure(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.albums.listErr = &store.StorageError{Op: "select albums", Err: errors.New("boom")}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/albums", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestUserRoutes(t *testing.T) {
	t.Run("register", func(t *testing.T) {
		ts := newTestServer(t, 0)
		rec := ts.do(jsonRequest(http.MethodPost, "/users/register",
			`{"first_name":"Jane","last_name":"Doe","username":"user1","password":"password1"}`))
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
		var resp tokenResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Token != "new-token" {
			t.Fatalf("unexpected token response: %v %#v", err, resp)
		}
		if ts.users.lastInput.FirstName != "Jane" {
			t.Fatalf("unexpected register input: %#v", ts.users.lastInput)
		}
	})

	t.Run("register taken", func(t *testing.T) {
		ts := newTestServer(t, 0)
		ts.users.registerErr = store.ErrUserExists
		rec := ts.do(jsonRequest(http.MethodPost, "/users/register", `{"username":"user1","password":"x"}`))
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("login invalid", func(t *testing.T) {
		ts := newTestServer(t, 0)
		ts.users.loginErr = store.ErrInvalidCredentials
		rec := ts.do(jsonRequest(http.MethodPost, "/users/login", `{"username":"user1","password":"x"}`))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("login", func(t *testing.T) {
		ts := newTestServer(t, 0)
		rec := ts.do(jsonRequest(http.MethodPost, "/users/login", `{"username":"user1","password":"password1"}`))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("me", func(t *testing.T) {
		ts := newTestServer(t, 0)
		if rec := ts.do(httptest.NewRequest(http.MethodGet, "/users/me", nil)); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 without token, got %d", rec.Code)
		}

		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		req.Header.Set("Authorization", "bearer "+validToken)
		rec := ts.do(req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("profile", func(t *testing.T) {
		ts := newTestServer(t, 0)
		if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/users/7", nil)); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/users/8", nil)); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestReviewReads(t *testing.T) {
	ts := newTestServer(t, 0)

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/reviews", nil)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/reviews/3", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/reviews/0", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServeCover(t *testing.T) {
	ts := newTestServer(t, 0)

	png := []byte("\x89PNG\r\n\x1a\n rest of image")
	ref, err := ts.covers.Save(context.Background(), "cover.png", bytes.NewReader(png))
	if err != nil {
		t.Fatalf("save cover: %v", err)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/uploads/"+ref, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(rec.Body)
	if !bytes.Equal(body, png) {
		t.Fatal("served bytes differ from stored bytes")
	}

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/uploads/missing.png", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ts := newTestServer(t, 0)

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/nope", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := ts.do(httptest.NewRequest(http.MethodDelete, "/reviews/1", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
