// Package api serves the diagnosis workflow over HTTP. The same handler
// backs the local web server and the Lambda function.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"

	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/prefs"
	"github.com/fpang/sonic-diagnostic/internal/s3util"
	"github.com/fpang/sonic-diagnostic/internal/workflow"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "sonic-diagnostic"

// Server holds the dependencies shared by all requests.
type Server struct {
	diagnoser workflow.Diagnoser
	store     prefs.Store
	limits    capture.Limits
	language  lang.Language
	version   string

	uploads     Uploads
	inlineLimit int64
}

// Uploads stages media too large to send inline. *s3util.Store implements it.
type Uploads interface {
	PresignUpload(ctx context.Context, filename, contentType string) (s3util.Upload, error)
	Open(ctx context.Context, key string) (capture.File, io.Closer, error)
	Delete(ctx context.Context, key string) error
}

// Option configures a Server.
type Option func(*Server)

// WithPreferences sets the store behind /api/preferences. Without one an
// in-memory store is used.
func WithPreferences(store prefs.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithLimits overrides the capture limits applied to uploads.
func WithLimits(l capture.Limits) Option {
	return func(s *Server) { s.limits = l }
}

// WithLanguage sets the report language used when neither the request nor
// the preference store names one.
func WithLanguage(l lang.Language) Option {
	return func(s *Server) {
		if l.Valid() {
			s.language = l
		}
	}
}

// WithUploads enables POST /api/uploads and diagnoses by upload key.
func WithUploads(u Uploads) Option {
	return func(s *Server) { s.uploads = u }
}

// WithInlineLimit caps media sent in the diagnose request body itself.
// Staged uploads are still bounded by the capture limits only.
func WithInlineLimit(n int64) Option {
	return func(s *Server) { s.inlineLimit = n }
}

// WithVersion sets the version reported by /api/health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a Server that sends diagnoses through d.
func NewServer(d workflow.Diagnoser, opts ...Option) *Server {
	s := &Server{
		diagnoser: d,
		store:     &prefs.MemoryStore{},
		limits:    capture.DefaultLimits(),
		language:  lang.Default,
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with logging, CORS and gzip applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/diagnose", s.handleDiagnose)
	if s.uploads != nil {
		mux.HandleFunc("POST /api/uploads", s.handleUploadURL)
	}
	mux.HandleFunc("GET /api/preferences/language", s.handleGetLanguage)
	mux.HandleFunc("PUT /api/preferences/language", s.handlePutLanguage)

	return withRequestID(withLogging(withCORS(gzhttp.GzipHandler(mux))))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
		"version": s.version,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func httpError(w http.ResponseWriter, r *http.Request, status int, message string) {
	zerolog.Ctx(r.Context()).Warn().Int("status", status).Str("reason", message).Msg("Request rejected")
	respondJSON(w, status, map[string]string{"error": message})
}
