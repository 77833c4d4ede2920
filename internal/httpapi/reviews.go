package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"albumreviews/internal/app/reviews"
	"albumreviews/internal/logging"
	"albumreviews/internal/store"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling file parts to disk.
const multipartMemory = 4 << 20

const coverCleanupTimeout = 5 * time.Second

var errCoverStorage = errors.New("could not store cover image")

// flexString accepts a JSON string or number, so clients may send "rating": 4
// as well as "rating": "4".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type createReviewRequest struct {
	Artist      string     `json:"artist"`
	Album       string     `json:"album"`
	Genre       string     `json:"genre"`
	Rating      flexString `json:"rating"`
	Comment     string     `json:"comment"`
	Description string     `json:"description"`
	Review      string     `json:"review"`
	UserID      flexString `json:"user_id"`
}

type createReviewResponse struct {
	Message string       `json:"message"`
	Review  store.Review `json:"review"`
}

type updateReviewRequest struct {
	Rating  *int    `json:"rating"`
	Comment *string `json:"comment"`
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		in  reviews.CreateInput
		err error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		in, err = s.readMultipartReview(w, r)
	} else {
		in, err = readJSONReview(w, r)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		case errors.Is(err, errCoverStorage):
			logging.FromContext(ctx).Error().Err(err).Msg("save cover")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errCoverStorage.Error()})
		default:
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		return
	}

	// A valid bearer token names the author; the form value is only a fallback.
	if token := parseBearerToken(r.Header.Get("Authorization")); token != "" {
		userID, err := s.users.Authenticate(ctx, token)
		if err != nil {
			s.discardCover(r, in.CoverRef)
			writeError(w, r, err)
			return
		}
		in.UserID = strconv.FormatInt(userID, 10)
		r = r.WithContext(logging.ContextWithUserID(ctx, userID))
	}

	review, err := s.reviews.Create(r.Context(), in)
	if err != nil {
		s.discardCover(r, in.CoverRef)
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createReviewResponse{
		Message: "Review created successfully!",
		Review:  review,
	})
}

func (s *Server) readMultipartReview(w http.ResponseWriter, r *http.Request) (reviews.CreateInput, error) {
	if r.ContentLength > s.maxUploadBytes {
		return reviews.CreateInput{}, &http.MaxBytesError{Limit: s.maxUploadBytes}
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return reviews.CreateInput{}, err
		}
		return reviews.CreateInput{}, errors.New("invalid multipart form")
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	in := reviews.CreateInput{
		Artist:  r.FormValue("artist"),
		Album:   r.FormValue("album"),
		Genre:   r.FormValue("genre"),
		Rating:  r.FormValue("rating"),
		Comment: firstNonEmpty(r.FormValue("comment"), r.FormValue("description"), r.FormValue("review")),
		UserID:  r.FormValue("user_id"),
	}

	file, header, err := r.FormFile("cover")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return in, nil
	case err != nil:
		return reviews.CreateInput{}, errors.New("invalid cover upload")
	}
	defer file.Close()

	if s.covers == nil {
		return reviews.CreateInput{}, errors.New("cover uploads are disabled")
	}

	ref, err := s.covers.Save(r.Context(), header.Filename, file)
	if err != nil {
		return reviews.CreateInput{}, fmt.Errorf("%w: %v", errCoverStorage, err)
	}
	in.CoverRef = &ref

	return in, nil
}

func readJSONReview(w http.ResponseWriter, r *http.Request) (reviews.CreateInput, error) {
	var req createReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return reviews.CreateInput{}, err
	}

	return reviews.CreateInput{
		Artist:  req.Artist,
		Album:   req.Album,
		Genre:   req.Genre,
		Rating:  string(req.Rating),
		Comment: firstNonEmpty(req.Comment, req.Description, req.Review),
		UserID:  string(req.UserID),
	}, nil
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	list, err := s.reviews.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid review id"})
		return
	}

	review, err := s.reviews.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	userID, r, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid review id"})
		return
	}

	var req updateReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	review, err := s.reviews.Update(r.Context(), reviews.UpdateInput{
		ReviewID: id,
		UserID:   userID,
		Rating:   req.Rating,
		Comment:  req.Comment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

// discardCover removes a cover stored for a review that was not created. It
// runs detached from the request so a client that went away still gets its
// upload cleaned up.
func (s *Server) discardCover(r *http.Request, ref *string) {
	if ref == nil || s.covers == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), coverCleanupTimeout)
	defer cancel()

	if err := s.covers.Remove(ctx, *ref); err != nil {
		logging.FromContext(r.Context()).Warn().Err(err).Str("cover", *ref).Msg("remove orphaned cover")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
