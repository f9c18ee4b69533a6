package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/prefs"
	"github.com/fpang/sonic-diagnostic/internal/s3util"
	"github.com/fpang/sonic-diagnostic/internal/workflow"
)

const (
	// formOverhead is allowed on top of the media cap for multipart framing
	// and the other form fields.
	formOverhead     = 1 << 20
	multipartMemory  = 8 << 20
	defaultMediaName = "upload"
)

// diagnoseBody is the JSON form of a diagnose request. Media is a base64
// data URL as produced by a browser FileReader; Key names a file staged
// through POST /api/uploads instead.
type diagnoseBody struct {
	Media     string `json:"media,omitempty"`
	Key       string `json:"key,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Category  string `json:"category"`
	MakeModel string `json:"makeModel,omitempty"`
	Symptoms  string `json:"symptoms,omitempty"`
	Language  string `json:"language,omitempty"`
}

type upload struct {
	file     capture.File
	context  diagnosis.Context
	language string
	// staged is the upload key when the media came from the staging bucket.
	staged string
}

// POST /api/diagnose
//
// Accepts multipart/form-data (file, category, makeModel, symptoms,
// language) or JSON (diagnoseBody). Upload problems are 400, 404, 413 or
// 415; once the media is accepted the response is always 200 with a report,
// which may be an error report.
func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())
	full := capture.NewController(capture.WithLimits(s.limits)).Limits()
	inline := full
	if s.inlineLimit > 0 && s.inlineLimit < inline.MaxSizeBytes {
		inline.MaxSizeBytes = s.inlineLimit
	}

	var (
		in  upload
		err error
	)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, inline.MaxSizeBytes+formOverhead)
		in, err = readMultipart(r)
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}
	case "application/json":
		// base64 inflates the payload by 4/3.
		r.Body = http.MaxBytesReader(w, r.Body, inline.MaxSizeBytes/3*4+formOverhead)
		in, err = s.readJSON(r.Context(), r.Body)
	default:
		err = fmt.Errorf("%w: request body must be multipart/form-data or application/json", capture.ErrUnsupportedType)
	}
	if in.staged != "" {
		defer s.discardStaged(r.Context(), in.staged)
	}
	if err != nil {
		httpError(w, r, uploadStatus(err), s.uploadMessage(err))
		return
	}
	if c, ok := in.file.Content.(io.Closer); ok {
		defer c.Close()
	}

	language, err := s.requestLanguage(in.language, r.URL.Query().Get("lang"))
	if err != nil {
		httpError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	limits := inline
	if in.staged != "" {
		limits = full
	}
	ctrl := capture.NewController(capture.WithLimits(limits))
	scanner := workflow.NewScanner(ctrl, s.diagnoser, language, workflow.WithMinProcessing(0))
	if err := scanner.Dispatch(workflow.ContextChanged{Context: in.context}); err != nil {
		httpError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := scanner.ScanFile(r.Context(), in.file)
	if err != nil {
		httpError(w, r, uploadStatus(err), s.uploadMessage(err))
		return
	}

	evt := logger.Info().
		Str("language", string(language)).
		Str("category", string(scanner.State().Context.Category)).
		Bool("staged", in.staged != "")
	if result.IsError() {
		evt = evt.Str("error", result.Error)
	} else {
		evt = evt.Str("severity", string(result.Severity))
	}
	evt.Msg("Diagnosis served")
	respondJSON(w, http.StatusOK, result)
}

func readMultipart(r *http.Request) (upload, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return upload{}, fmt.Errorf("invalid multipart body: %w", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return upload{}, errors.New("missing file field")
	}
	return upload{
		file: capture.File{
			Name:    hdr.Filename,
			Type:    hdr.Header.Get("Content-Type"),
			Size:    hdr.Size,
			Content: f,
		},
		context: diagnosis.Context{
			Category:  diagnosis.Category(r.FormValue("category")),
			MakeModel: r.FormValue("makeModel"),
			Symptoms:  r.FormValue("symptoms"),
		},
		language: r.FormValue("language"),
	}, nil
}

func (s *Server) readJSON(ctx context.Context, body io.Reader) (upload, error) {
	var in diagnoseBody
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		return upload{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	out := upload{
		context: diagnosis.Context{
			Category:  diagnosis.Category(in.Category),
			MakeModel: in.MakeModel,
			Symptoms:  in.Symptoms,
		},
		language: in.Language,
	}

	switch {
	case in.Key != "" && in.Media != "":
		return upload{}, errors.New("send either media or key, not both")
	case in.Key != "":
		if s.uploads == nil {
			return upload{}, errors.New("staged uploads are not enabled on this server")
		}
		f, _, err := s.uploads.Open(ctx, in.Key)
		if err != nil {
			return upload{}, err
		}
		out.file = f
		out.staged = in.Key
		return out, nil
	case in.Media == "":
		return upload{}, errors.New("media or key is required")
	}

	data, mimeType, err := diagnosis.DecodeDataURL(in.Media)
	if err != nil {
		return upload{}, err
	}
	name := in.Filename
	if name == "" {
		name = defaultMediaName
	}
	out.file = capture.File{
		Name:    name,
		Type:    mimeType,
		Size:    int64(len(data)),
		Content: bytes.NewReader(data),
	}
	return out, nil
}

// discardStaged deletes a staged upload; keys are single use.
func (s *Server) discardStaged(ctx context.Context, key string) {
	if err := s.uploads.Delete(context.WithoutCancel(ctx), key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Failed to delete staged upload")
	}
}

// uploadMessage adds a pointer to staged uploads when an inline upload is
// too large and the server supports them.
func (s *Server) uploadMessage(err error) string {
	if s.uploads != nil && uploadStatus(err) == http.StatusRequestEntityTooLarge {
		return err.Error() + "; upload larger files with POST /api/uploads"
	}
	return err.Error()
}

// requestLanguage picks the first explicit language, then the stored
// preference, then the server default.
func (s *Server) requestLanguage(candidates ...string) (lang.Language, error) {
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		return lang.Parse(c)
	}
	return prefs.LanguageOr(s.store, s.language), nil
}

// uploadStatus maps an upload rejection to its HTTP status.
func uploadStatus(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, capture.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, s3util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrFileTooLarge),
		errors.As(err, &maxErr),
		strings.Contains(err.Error(), "request body too large"):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}
