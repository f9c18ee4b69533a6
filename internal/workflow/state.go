// Package workflow holds the presentation state of a scan and the Scanner
// that drives capture, diagnosis and rendering through it.
package workflow

import (
	"errors"
	"fmt"

	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/prefs"
	"github.com/fpang/sonic-diagnostic/internal/report"
)

// Phase is the presentation phase of a scan.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCapturing  Phase = "capturing"
	PhaseProcessing Phase = "processing"
	PhaseResult     Phase = "result"
)

// Step is the wizard step shown to the user.
type Step int

const (
	StepContext Step = 1
	StepCapture Step = 2
	StepReport  Step = 3
)

// ErrInvalidTransition is returned by Reduce for events the current phase
// does not accept.
var ErrInvalidTransition = errors.New("invalid transition")

// State is one immutable snapshot of the workflow. Result is set only in
// PhaseResult. Err holds the last capture failure shown while idle.
type State struct {
	Phase    Phase
	Step     Step
	Context  diagnosis.Context
	Result   *report.Result
	Language lang.Language
	Theme    prefs.Theme
	Err      error
}

// Initial returns the idle state for a new session.
func Initial(language lang.Language, theme prefs.Theme) State {
	if !language.Valid() {
		language = lang.Default
	}
	if theme == "" {
		theme = prefs.ThemeLight
	}
	return State{Phase: PhaseIdle, Step: StepContext, Language: language, Theme: theme}
}

// Event is a user action or workflow outcome.
type Event interface {
	event()
}

// ContextChanged replaces the diagnostic context.
type ContextChanged struct{ Context diagnosis.Context }

// CaptureStarted begins a recording or file selection.
type CaptureStarted struct{}

// CaptureAborted reports that capture failed or was cancelled.
type CaptureAborted struct{ Err error }

// PayloadFinalized reports that a payload is ready and the request is sent.
type PayloadFinalized struct{}

// DiagnosisSettled delivers the outcome of the request.
type DiagnosisSettled struct{ Result report.Result }

// NewScan discards the result and returns to idle.
type NewScan struct{}

// LanguageChanged switches the report language.
type LanguageChanged struct{ Language lang.Language }

// ThemeChanged switches the presentation theme.
type ThemeChanged struct{ Theme prefs.Theme }

func (ContextChanged) event()   {}
func (CaptureStarted) event()   {}
func (CaptureAborted) event()   {}
func (PayloadFinalized) event() {}
func (DiagnosisSettled) event() {}
func (NewScan) event()          {}
func (LanguageChanged) event()  {}
func (ThemeChanged) event()     {}

// Reduce applies ev to s. It never mutates s; on error the input state is
// returned unchanged.
func Reduce(s State, ev Event) (State, error) {
	next := s
	switch e := ev.(type) {
	case ContextChanged:
		if s.Phase == PhaseProcessing {
			return s, invalid(s, ev)
		}
		next.Context = e.Context.Normalized()

	case CaptureStarted:
		if s.Phase != PhaseIdle {
			return s, invalid(s, ev)
		}
		if err := s.Context.Validate(); err != nil {
			return s, err
		}
		next.Phase = PhaseCapturing
		next.Result = nil
		next.Err = nil

	case CaptureAborted:
		if s.Phase != PhaseCapturing {
			return s, invalid(s, ev)
		}
		next.Phase = PhaseIdle
		next.Err = e.Err

	case PayloadFinalized:
		if s.Phase != PhaseCapturing {
			return s, invalid(s, ev)
		}
		next.Phase = PhaseProcessing

	case DiagnosisSettled:
		if s.Phase != PhaseProcessing {
			return s, invalid(s, ev)
		}
		result := e.Result
		next.Phase = PhaseResult
		next.Result = &result

	case NewScan:
		if s.Phase != PhaseResult && s.Phase != PhaseIdle {
			return s, invalid(s, ev)
		}
		next.Phase = PhaseIdle
		next.Result = nil
		next.Err = nil

	case LanguageChanged:
		if !e.Language.Valid() {
			return s, fmt.Errorf("unsupported language %q", e.Language)
		}
		next.Language = e.Language

	case ThemeChanged:
		if e.Theme != prefs.ThemeLight && e.Theme != prefs.ThemeDark {
			return s, fmt.Errorf("unsupported theme %q", e.Theme)
		}
		next.Theme = e.Theme

	default:
		return s, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}

	next.Step = stepFor(next)
	return next, nil
}

// stepFor derives the wizard step from the phase and context.
func stepFor(s State) Step {
	switch s.Phase {
	case PhaseResult:
		return StepReport
	case PhaseCapturing, PhaseProcessing:
		return StepCapture
	}
	if s.Context.Validate() == nil {
		return StepCapture
	}
	return StepContext
}

func invalid(s State, ev Event) error {
	return fmt.Errorf("%w: %T in phase %s", ErrInvalidTransition, ev, s.Phase)
}
