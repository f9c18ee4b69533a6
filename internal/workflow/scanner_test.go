package workflow

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"google.golang.org/genai"

	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/clock"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/prefs"
	"github.com/fpang/sonic-diagnostic/internal/report"
)

// stubDiagnoser returns a canned response and counts calls.
type stubDiagnoser struct {
	mu       sync.Mutex
	text     string
	err      error
	calls    int
	lastReq  diagnosis.Request
	lastLang lang.Language
}

func (d *stubDiagnoser) RequestDiagnosisIn(ctx context.Context, req diagnosis.Request, language lang.Language) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.lastReq = req
	d.lastLang = language
	return d.text, d.err
}

func (d *stubDiagnoser) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// deniedMic refuses every Open.
type deniedMic struct{}

func (deniedMic) Open(ctx context.Context) (capture.Stream, error) {
	return nil, errors.New("NotAllowedError: permission dismissed")
}

func wavFile(size int) capture.File {
	return capture.File{Name: "engine.wav", Type: "audio/wav", Size: int64(size), Content: bytes.NewReader(make([]byte, size))}
}

func newTestScanner(t *testing.T, d Diagnoser, opts ...ScannerOption) *Scanner {
	t.Helper()
	s := NewScanner(capture.NewController(capture.WithMicrophone(deniedMic{})), d, lang.English,
		append([]ScannerOption{WithMinProcessing(0)}, opts...)...)
	if err := s.Dispatch(ContextChanged{Context: diagnosis.Context{Category: "auto"}}); err != nil {
		t.Fatalf("set context: %v", err)
	}
	return s
}

// generatorFunc adapts a function to diagnosis.Generator.
type generatorFunc func() (*genai.GenerateContentResponse, error)

func (f generatorFunc) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return f()
}

func TestScanFileEndToEnd(t *testing.T) {
	calls := 0
	gen := generatorFunc(func() (*genai.GenerateContentResponse, error) {
		calls++
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: `{"severity":"LOW","diagnosis":"Worn belt","estimated_cost":"200 PLN"}`}}},
		}}}, nil
	})
	requester := diagnosis.NewRequester(gen, diagnosis.WithMetricsOutput(io.Discard))
	s := newTestScanner(t, requester)

	var phases []Phase
	s.Subscribe(func(st State) { phases = append(phases, st.Phase) })

	result, err := s.ScanFile(context.Background(), wavFile(2*1024*1024))
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one model call, got %d", calls)
	}
	if result.IsError() || result.Severity != report.SeverityLow {
		t.Errorf("unexpected result: %+v", result)
	}

	st := s.State()
	if st.Phase != PhaseResult || st.Step != StepReport || st.Result == nil || st.Result.Severity != report.SeverityLow {
		t.Errorf("unexpected final state: %+v", st)
	}
	want := []Phase{PhaseCapturing, PhaseProcessing, PhaseResult}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phases = %v, want %v", phases, want)
			break
		}
	}
}

func TestScanRecordingPermissionDenied(t *testing.T) {
	d := &stubDiagnoser{text: "{}"}
	s := newTestScanner(t, d)

	_, err := s.ScanRecording(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if !IsCaptureError(err) {
		t.Error("permission denial should be a capture error")
	}
	st := s.State()
	if st.Phase != PhaseIdle || st.Err == nil {
		t.Errorf("expected idle with error, got %+v", st)
	}
	if d.callCount() != 0 {
		t.Errorf("no request should be issued")
	}
}

func TestScanFileFencedResponse(t *testing.T) {
	d := &stubDiagnoser{text: "Sure! ```json {\"severity\":\"SAFE\",\"diagnosis\":\"System nominal\"} ``` "}
	s := newTestScanner(t, d)

	result, err := s.ScanFile(context.Background(), wavFile(1024))
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if result.Severity != report.SeveritySafe || result.Diagnosis != "System nominal" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestScanFileTooLarge(t *testing.T) {
	d := &stubDiagnoser{text: "{}"}
	s := newTestScanner(t, d)

	f := capture.File{Name: "long.wav", Type: "audio/wav", Size: 26 * 1024 * 1024, Content: bytes.NewReader(nil)}
	_, err := s.ScanFile(context.Background(), f)
	if !errors.Is(err, capture.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if d.callCount() != 0 {
		t.Errorf("no request should be issued")
	}
	if s.State().Phase != PhaseIdle {
		t.Errorf("phase = %s", s.State().Phase)
	}
}

func TestScanFileTransportErrorReachesResult(t *testing.T) {
	d := &stubDiagnoser{err: &diagnosis.TransportError{Kind: diagnosis.KindQuota, Message: "API quota exceeded"}}
	s := newTestScanner(t, d)

	result, err := s.ScanFile(context.Background(), wavFile(1024))
	if err != nil {
		t.Fatalf("transport failures should not be returned as errors: %v", err)
	}
	if result.Error != "Failed to analyze signal. Details: API quota exceeded" {
		t.Errorf("Error = %q", result.Error)
	}
	if st := s.State(); st.Phase != PhaseResult || !st.Result.IsError() {
		t.Errorf("expected error result state, got %+v", st)
	}
}

func TestScanRequiresCategory(t *testing.T) {
	d := &stubDiagnoser{text: "{}"}
	s := NewScanner(capture.NewController(), d, lang.English, WithMinProcessing(0))

	if _, err := s.ScanFile(context.Background(), wavFile(10)); !errors.Is(err, diagnosis.ErrMissingCategory) {
		t.Fatalf("expected ErrMissingCategory, got %v", err)
	}
	if d.callCount() != 0 {
		t.Error("no request should be issued")
	}
}

func TestNewScanAfterResult(t *testing.T) {
	s := newTestScanner(t, &stubDiagnoser{text: `{"severity":"INFO","diagnosis":"Music"}`})
	if _, err := s.ScanFile(context.Background(), wavFile(10)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ScanFile(context.Background(), wavFile(10)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second scan before NewScan should be rejected, got %v", err)
	}
	if err := s.NewScan(); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if st.Phase != PhaseIdle || st.Result != nil || st.Context.Category != diagnosis.CategoryAutomotive {
		t.Errorf("unexpected state after new scan: %+v", st)
	}
}

func TestScannerUsesStoredLanguage(t *testing.T) {
	store := &prefs.MemoryStore{}
	store.Save(prefs.Preferences{Language: lang.Polish})
	d := &stubDiagnoser{text: `{"severity":"LOW","diagnosis":"Zużyty pasek"}`}
	s := newTestScanner(t, d, WithPreferences(store))

	if s.State().Language != lang.Polish {
		t.Fatalf("stored language not loaded")
	}
	s.ScanFile(context.Background(), wavFile(10))
	if d.lastLang != lang.Polish {
		t.Errorf("request language = %s", d.lastLang)
	}

	if err := s.Dispatch(LanguageChanged{Language: lang.English}); err != nil {
		t.Fatal(err)
	}
	p, _ := store.Load()
	if p.Language != lang.English {
		t.Errorf("language change not persisted: %+v", p)
	}
}

func TestProcessingFloor(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := &stubDiagnoser{text: `{"severity":"LOW","diagnosis":"Worn belt"}`}
	s := newTestScanner(t, d, WithClock(fake), WithMinProcessing(2500*time.Millisecond))

	done := make(chan report.Result, 1)
	go func() {
		r, _ := s.ScanFile(context.Background(), wavFile(10))
		done <- r
	}()

	waitFor(t, func() bool { return fake.Pending() == 1 })
	if s.State().Phase != PhaseProcessing {
		t.Fatalf("expected processing during the floor, got %s", s.State().Phase)
	}

	fake.Advance(2400 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("settled before the floor elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	fake.Advance(100 * time.Millisecond)
	select {
	case r := <-done:
		if r.Severity != report.SeverityLow {
			t.Errorf("unexpected result: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not settle after the floor")
	}
	if s.State().Phase != PhaseResult {
		t.Errorf("phase = %s", s.State().Phase)
	}
}

func TestProcessingFloorHonorsCancellation(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := newTestScanner(t, &stubDiagnoser{text: `{"severity":"LOW"}`}, WithClock(fake), WithMinProcessing(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ScanFile(ctx, wavFile(10)); err != nil {
		t.Fatal(err)
	}
	if s.State().Phase != PhaseResult {
		t.Errorf("cancelled scan must still settle, got %s", s.State().Phase)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
