package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/prefs"
)

type stubDiagnoser struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	req   diagnosis.Request
	lang  lang.Language
}

func (d *stubDiagnoser) RequestDiagnosisIn(ctx context.Context, req diagnosis.Request, language lang.Language) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.req = req
	d.lang = language
	return d.text, d.err
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	h := NewServer(&stubDiagnoser{}, WithVersion("1.2.3")).Handler()
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "ok" || body["service"] != ServiceName || body["version"] != "1.2.3" {
		t.Errorf("unexpected body: %v", body)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request ID header")
	}
}

func TestDiagnoseMultipart(t *testing.T) {
	d := &stubDiagnoser{text: "```json\n{\"severity\":\"LOW\",\"diagnosis\":\"Worn belt\",\"estimated_cost\":\"200 PLN\"}\n```"}
	h := NewServer(d).Handler()

	body, ct := multipartBody(t, "engine.wav", bytes.Repeat([]byte{7}, 2048), map[string]string{
		"category":  "auto",
		"makeModel": "Skoda Octavia",
		"symptoms":  "squeal when cold",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/diagnose", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["severity"] != "LOW" || out["diagnosis"] != "Worn belt" {
		t.Errorf("unexpected report: %v", out)
	}
	if d.calls != 1 {
		t.Fatalf("calls = %d", d.calls)
	}
	if d.req.MIMEType != "audio/wav" || len(d.req.Data) != 2048 {
		t.Errorf("unexpected request media: %s, %d bytes", d.req.MIMEType, len(d.req.Data))
	}
	if d.req.Context.Category != diagnosis.CategoryAutomotive || d.req.Context.MakeModel != "Skoda Octavia" {
		t.Errorf("unexpected context: %+v", d.req.Context)
	}
	if d.lang != lang.English {
		t.Errorf("language = %s", d.lang)
	}
}

func TestDiagnoseJSONDataURL(t *testing.T) {
	d := &stubDiagnoser{text: `{"severity":"SAFE","diagnosis":"System nominal"}`}
	h := NewServer(d).Handler()

	media := "data:audio/webm;codecs=opus;base64," + base64.StdEncoding.EncodeToString([]byte("webm-bytes"))
	payload, _ := json.Marshal(diagnoseBody{Media: media, Category: "industrial", Language: "pl"})
	req := httptest.NewRequest(http.MethodPost, "/api/diagnose", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if out := decode(t, rec); out["severity"] != "SAFE" {
		t.Errorf("unexpected report: %v", out)
	}
	if d.req.MIMEType != "audio/webm" || string(d.req.Data) != "webm-bytes" {
		t.Errorf("unexpected request media: %s %q", d.req.MIMEType, d.req.Data)
	}
	if d.lang != lang.Polish {
		t.Errorf("language = %s", d.lang)
	}
}

func TestDiagnoseTransportErrorIsStillOK(t *testing.T) {
	d := &stubDiagnoser{err: &diagnosis.TransportError{Kind: diagnosis.KindServer, Message: "Gemini API server error - try again later"}}
	h := NewServer(d).Handler()

	body, ct := multipartBody(t, "engine.wav", []byte("RIFF"), map[string]string{"category": "automotive"})
	req := httptest.NewRequest(http.MethodPost, "/api/diagnose", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	if out["error"] != "Failed to analyze signal. Details: Gemini API server error - try again later" {
		t.Errorf("unexpected error report: %v", out)
	}
	if _, ok := out["severity"]; ok {
		t.Error("error report must not carry report fields")
	}
}

func TestDiagnoseRejections(t *testing.T) {
	small := capture.Limits{MaxSizeBytes: 1000}

	tests := []struct {
		name       string
		limits     capture.Limits
		build      func(t *testing.T) (*bytes.Buffer, string)
		wantStatus int
	}{
		{
			name: "missing category",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "engine.wav", []byte("RIFF"), nil)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown category",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "engine.wav", []byte("RIFF"), map[string]string{"category": "spaceship"})
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing file",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "", nil, map[string]string{"category": "auto"})
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unsupported type",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "manual.pdf", []byte("%PDF"), map[string]string{"category": "auto"})
			},
			wantStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:   "too large",
			limits: small,
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "engine.wav", make([]byte, 2000), map[string]string{"category": "auto"})
			},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name: "bad language",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "engine.wav", []byte("RIFF"), map[string]string{"category": "auto", "language": "de"})
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid data URL",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return bytes.NewBufferString(`{"media":"data:audio/wav,plain","category":"auto"}`), "application/json"
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "malformed JSON",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return bytes.NewBufferString(`{"media":`), "application/json"
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unsupported body type",
			build: func(t *testing.T) (*bytes.Buffer, string) {
				return bytes.NewBufferString("hello"), "text/plain"
			},
			wantStatus: http.StatusUnsupportedMediaType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &stubDiagnoser{text: `{"severity":"LOW"}`}
			h := NewServer(d, WithLimits(tt.limits)).Handler()

			body, ct := tt.build(t)
			req := httptest.NewRequest(http.MethodPost, "/api/diagnose", body)
			req.Header.Set("Content-Type", ct)
			rec := serve(h, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if out := decode(t, rec); out["error"] == nil {
				t.Error("expected an error message")
			}
			if d.calls != 0 {
				t.Error("rejected upload reached the model")
			}
		})
	}
}

func TestLanguagePreference(t *testing.T) {
	store := &prefs.MemoryStore{}
	d := &stubDiagnoser{text: `{"severity":"LOW"}`}
	h := NewServer(d, WithPreferences(store)).Handler()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/preferences/language", nil))
	if out := decode(t, rec); out["language"] != "en" {
		t.Errorf("default language = %v", out["language"])
	}

	rec = serve(h, httptest.NewRequest(http.MethodPut, "/api/preferences/language", strings.NewReader(`{"language":"polski"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}
	if p, _ := store.Load(); p.Language != lang.Polish {
		t.Errorf("stored language = %q", p.Language)
	}

	rec = serve(h, httptest.NewRequest(http.MethodPut, "/api/preferences/language", strings.NewReader(`{"language":"de"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported language status = %d", rec.Code)
	}

	body, ct := multipartBody(t, "engine.wav", []byte("RIFF"), map[string]string{"category": "auto"})
	req := httptest.NewRequest(http.MethodPost, "/api/diagnose", body)
	req.Header.Set("Content-Type", ct)
	serve(h, req)
	if d.lang != lang.Polish {
		t.Errorf("diagnosis should use the stored language, got %s", d.lang)
	}

	body, ct = multipartBody(t, "engine.wav", []byte("RIFF"), map[string]string{"category": "auto"})
	req = httptest.NewRequest(http.MethodPost, "/api/diagnose?lang=en", body)
	req.Header.Set("Content-Type", ct)
	serve(h, req)
	if d.lang != lang.English {
		t.Errorf("query language should win, got %s", d.lang)
	}
}

func TestCORS(t *testing.T) {
	h := NewServer(&stubDiagnoser{}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/diagnose", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := serve(h, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("missing allow-origin for localhost")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("foreign origin should not be allowed")
	}
}

func TestRequestIDReuse(t *testing.T) {
	h := NewServer(&stubDiagnoser{}).Handler()

	const id = "6f1c1d0e-8a1b-4c6e-9f3a-2b7d5e4c3a21"
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, id)
	if got := serve(h, req).Header().Get(RequestIDHeader); got != id {
		t.Errorf("request ID = %q, want %q", got, id)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	if got := serve(h, req).Header().Get(RequestIDHeader); got == "not-a-uuid" || got == "" {
		t.Errorf("malformed request ID should be replaced, got %q", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := NewServer(&stubDiagnoser{}).Handler()
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/diagnose", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/diagnose status = %d", rec.Code)
	}
}
