// Package report turns model text into a diagnosis report and renders it.
//
// A Result is either a report (Error empty) or an error (only Error set).
// Parse, FromError and ErrorResult are the only constructors that should be
// used on untrusted input; all of them uphold that rule.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
)

// errorPrefix starts every error message shown to the user.
const errorPrefix = "Failed to analyze signal. Details: "

// Result is the structured outcome of one scan.
type Result struct {
	Severity         Severity `json:"severity,omitempty"`
	Diagnosis        string   `json:"diagnosis,omitempty"`
	DetectedSource   string   `json:"detected_source,omitempty"`
	SoundProfile     string   `json:"sound_profile,omitempty"`
	VisualProfile    string   `json:"visual_profile,omitempty"`
	EstimatedCost    string   `json:"estimated_cost,omitempty"`
	ActionPlan       string   `json:"action_plan,omitempty"`
	Reasoning        string   `json:"reasoning,omitempty"`
	HumanExplanation string   `json:"human_explanation,omitempty"`
	ChatOpener       string   `json:"chat_opener,omitempty"`
	// ConfidenceScore is nil when the model did not report one.
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	// Extra keeps fields this version does not know about. They are written
	// back at the top level when the Result is marshaled.
	Extra map[string]json.RawMessage `json:"-"`
	Error string                     `json:"error,omitempty"`
}

// IsError reports whether r describes a failure.
func (r Result) IsError() bool {
	return r.Error != ""
}

// ErrorResult returns an error Result carrying msg after the standard prefix.
// A message that already has the prefix is kept as is.
func ErrorResult(msg string) Result {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "unknown error"
	}
	if strings.HasPrefix(msg, errorPrefix) {
		return Result{Error: msg}
	}
	return Result{Error: errorPrefix + msg}
}

// FromError converts a transport or capture failure into an error Result.
func FromError(err error) Result {
	if err == nil {
		return ErrorResult("")
	}
	return ErrorResult(err.Error())
}

// MarshalJSON flattens Extra into the top-level object so a marshaled Result
// parses back to an equal Result.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if r.IsError() || len(r.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(r.Extra)+8)
	for k, v := range r.Extra {
		merged[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(base, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON applies the same field mapping as Parse but rejects
// input that is not a JSON object.
func (r *Result) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	*r = fromFields(fields)
	return nil
}
