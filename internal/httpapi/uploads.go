package httpapi

import (
	"bufio"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"albumreviews/internal/covers"
	"albumreviews/internal/logging"
)

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	if s.covers == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "cover not found"})
		return
	}

	rc, err := s.covers.Open(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		if errors.Is(err, covers.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "cover not found"})
			return
		}
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 512)
	head, _ := br.Peek(512)

	w.Header().Set("Content-Type", http.DetectContentType(head))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, br); err != nil {
		logging.FromContext(r.Context()).Warn().Err(err).Msg("stream cover")
	}
}
