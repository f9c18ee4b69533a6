package cli

import (
	"errors"

	"github.com/fpang/sonic-diagnostic/internal/auth"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
)

// SetupErrorMessage turns a key lookup or validation failure into advice
// for the terminal.
func SetupErrorMessage(err error) string {
	if errors.Is(err, auth.ErrNoKey) || errors.Is(err, diagnosis.ErrNoAPIKey) {
		return "No API key configured. Set GEMINI_API_KEY or store it in ~/.sonic-diagnostic/credentials.gpg"
	}
	var te *diagnosis.TransportError
	if !errors.As(err, &te) {
		return "Setup failed: " + err.Error()
	}
	switch te.Kind {
	case diagnosis.KindCredential:
		return "Invalid API key. Please check your API key and try again"
	case diagnosis.KindNetwork:
		return "Network error. Please check your internet connection"
	case diagnosis.KindQuota:
		return "API quota exceeded. Please try again later or check your usage limits"
	case diagnosis.KindServer:
		return "Gemini is unavailable right now. Please try again later"
	default:
		return "API key validation failed: " + te.Error()
	}
}
