package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fpang/sonic-diagnostic/internal/capture"
)

type uploadURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// POST /api/uploads
//
// Returns a presigned PUT for one media file. The browser uploads the file
// there and then calls /api/diagnose with {"key": ...}.
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Filename == "" || req.ContentType == "" {
		httpError(w, r, http.StatusBadRequest, "filename and contentType are required")
		return
	}

	up, err := s.uploads.PresignUpload(r.Context(), req.Filename, req.ContentType)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, capture.ErrUnsupportedType) {
			status = http.StatusUnsupportedMediaType
		}
		httpError(w, r, status, err.Error())
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("key", up.Key).Msg("Upload URL issued")
	respondJSON(w, http.StatusOK, up)
}
