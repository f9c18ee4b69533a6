package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/clock"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/prefs"
	"github.com/fpang/sonic-diagnostic/internal/report"
)

// DefaultMinProcessing keeps the processing phase visible long enough that
// it does not flash on fast responses.
const DefaultMinProcessing = 2500 * time.Millisecond

// Diagnoser sends one diagnosis request. *diagnosis.Requester implements it.
type Diagnoser interface {
	RequestDiagnosisIn(ctx context.Context, req diagnosis.Request, language lang.Language) (string, error)
}

// Scanner runs scans one at a time: capture, then one diagnosis request,
// then the report. Capture failures are returned as errors and leave the
// workflow idle; request and parse failures become error Results.
type Scanner struct {
	capture       *capture.Controller
	diagnoser     Diagnoser
	clock         clock.Clock
	minProcessing time.Duration
	store         prefs.Store

	mu    sync.Mutex
	state State
	subs  map[int]func(State)
	subID int
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithClock sets the clock used for the processing floor.
func WithClock(c clock.Clock) ScannerOption {
	return func(s *Scanner) { s.clock = c }
}

// WithMinProcessing sets the processing display floor. Zero disables it.
func WithMinProcessing(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		if d >= 0 {
			s.minProcessing = d
		}
	}
}

// WithPreferences loads language and theme from store and saves changes back.
func WithPreferences(store prefs.Store) ScannerOption {
	return func(s *Scanner) { s.store = store }
}

// NewScanner creates an idle Scanner. defaultLanguage is used when no
// preference is stored.
func NewScanner(ctrl *capture.Controller, d Diagnoser, defaultLanguage lang.Language, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		capture:       ctrl,
		diagnoser:     d,
		clock:         clock.Real(),
		minProcessing: DefaultMinProcessing,
		subs:          make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}

	var theme prefs.Theme
	language := defaultLanguage
	if s.store != nil {
		if p, err := s.store.Load(); err != nil {
			log.Warn().Err(err).Msg("Could not load preferences, using defaults")
		} else {
			if p.Language != "" {
				language = p.Language
			}
			theme = p.Theme
		}
	}
	s.state = Initial(language, theme)
	return s
}

// State returns the current snapshot.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive every new state. The returned func
// removes the subscription. fn must not call back into the Scanner.
func (s *Scanner) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.subID
	s.subID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Dispatch applies ev and notifies subscribers. Language and theme changes
// are persisted when a preference store is configured.
func (s *Scanner) Dispatch(ev Event) error {
	s.mu.Lock()
	next, err := Reduce(s.state, ev)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	switch ev.(type) {
	case LanguageChanged, ThemeChanged:
		s.persist(next)
	}
	for _, fn := range subs {
		fn(next)
	}
	return nil
}

func (s *Scanner) persist(st State) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(prefs.Preferences{Language: st.Language, Theme: st.Theme}); err != nil {
		log.Warn().Err(err).Msg("Could not save preferences")
	}
}

// ScanFile validates f, sends it for diagnosis and returns the report.
// A rejected file returns the capture error and no request is made.
func (s *Scanner) ScanFile(ctx context.Context, f capture.File) (report.Result, error) {
	if err := s.Dispatch(CaptureStarted{}); err != nil {
		return report.Result{}, err
	}
	if err := s.capture.SelectFile(f); err != nil {
		s.abort(err)
		return report.Result{}, err
	}
	return s.submit(ctx)
}

// ScanRecording records until StopRecording, end of stream or the duration
// ceiling, then sends the recording for diagnosis.
func (s *Scanner) ScanRecording(ctx context.Context) (report.Result, error) {
	if err := s.Dispatch(CaptureStarted{}); err != nil {
		return report.Result{}, err
	}
	if err := s.capture.StartRecording(ctx); err != nil {
		s.abort(err)
		return report.Result{}, err
	}
	if _, err := s.capture.Await(ctx); err != nil {
		s.capture.Reset()
		s.abort(err)
		return report.Result{}, err
	}
	return s.submit(ctx)
}

// StopRecording ends the current recording early. The scan continues with
// what was recorded.
func (s *Scanner) StopRecording() {
	s.capture.StopRecording()
}

// NewScan discards the last result.
func (s *Scanner) NewScan() error {
	if err := s.Dispatch(NewScan{}); err != nil {
		return err
	}
	s.capture.Reset()
	return nil
}

func (s *Scanner) abort(err error) {
	if dispatchErr := s.Dispatch(CaptureAborted{Err: err}); dispatchErr != nil {
		log.Warn().Err(dispatchErr).Msg("Could not record aborted capture")
	}
	log.Info().Err(err).Msg("Capture aborted")
}

// submit hands the pending payload to the diagnoser and settles the result.
func (s *Scanner) submit(ctx context.Context) (report.Result, error) {
	payload, err := s.capture.Take()
	if err != nil {
		s.abort(err)
		return report.Result{}, err
	}
	if err := s.Dispatch(PayloadFinalized{}); err != nil {
		return report.Result{}, err
	}

	st := s.State()
	started := s.clock.Now()
	req := diagnosis.RequestFromPayload(payload, st.Context)

	var result report.Result
	raw, err := s.diagnoser.RequestDiagnosisIn(ctx, req, st.Language)
	if err != nil {
		result = report.FromError(err)
	} else {
		result = report.Parse(raw)
	}

	s.holdProcessing(ctx, started)

	if err := s.Dispatch(DiagnosisSettled{Result: result}); err != nil {
		// Only reachable if the phase was changed underneath us.
		log.Error().Err(err).Msg("Could not settle diagnosis")
	}

	evt := log.Info().
		Str("session", payload.SessionID).
		Str("source", string(payload.Source)).
		Str("mime_type", payload.MIMEType)
	if result.IsError() {
		evt = evt.Str("error", result.Error)
	} else {
		evt = evt.Str("severity", string(result.Severity))
	}
	evt.Dur("duration", s.clock.Now().Sub(started)).Msg("Scan complete")
	return result, nil
}

// holdProcessing waits until minProcessing has passed since started.
// Cancellation cuts the wait short but never skips settling.
func (s *Scanner) holdProcessing(ctx context.Context, started time.Time) {
	remaining := s.minProcessing - s.clock.Now().Sub(started)
	if remaining <= 0 {
		return
	}
	select {
	case <-s.clock.After(remaining):
	case <-ctx.Done():
	}
}

// IsCaptureError reports whether err came from capture validation or the
// microphone rather than from the workflow itself.
func IsCaptureError(err error) bool {
	return errors.Is(err, capture.ErrPermissionDenied) ||
		errors.Is(err, capture.ErrUnsupportedType) ||
		errors.Is(err, capture.ErrFileTooLarge) ||
		errors.Is(err, capture.ErrEmptyRecording) ||
		errors.Is(err, capture.ErrBusy)
}
