package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/prefs"
)

type languageBody struct {
	Language  lang.Language   `json:"language"`
	Supported []lang.Language `json:"supported,omitempty"`
}

// GET /api/preferences/language
func (s *Server) handleGetLanguage(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, languageBody{
		Language:  prefs.LanguageOr(s.store, s.language),
		Supported: lang.Supported,
	})
}

// PUT /api/preferences/language
// Body: {"language": "pl"}
func (s *Server) handlePutLanguage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Language string `json:"language"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	l, err := lang.Parse(in.Language)
	if err != nil {
		httpError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := prefs.SetLanguage(s.store, l); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to save language preference")
		httpError(w, r, http.StatusInternalServerError, "failed to save preference")
		return
	}
	respondJSON(w, http.StatusOK, languageBody{Language: l, Supported: lang.Supported})
}
