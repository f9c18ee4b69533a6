package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/fpang/sonic-diagnostic/internal/jsonutil"
)

// Messages used for responses that cannot be turned into a report.
const (
	parseFailureMessage = "the model response was not valid JSON"
	noReportMessage     = "the model response did not contain a diagnosis"
)

// fieldKeys lists, per report field, the canonical key followed by accepted
// aliases. Keys are compared after canonicalKey.
var fieldKeys = struct {
	severity, diagnosis, detectedSource, soundProfile, visualProfile,
	estimatedCost, actionPlan, reasoning, humanExplanation, chatOpener,
	confidence []string
}{
	severity:         []string{"severity", "severity_level"},
	diagnosis:        []string{"diagnosis", "diagnosis_title", "title"},
	detectedSource:   []string{"detected_source", "source"},
	soundProfile:     []string{"sound_profile", "audio_profile"},
	visualProfile:    []string{"visual_profile", "image_profile"},
	estimatedCost:    []string{"estimated_cost", "cost_estimate", "cost"},
	actionPlan:       []string{"action_plan", "recommended_action", "next_steps"},
	reasoning:        []string{"reasoning"},
	humanExplanation: []string{"human_explanation", "explanation"},
	chatOpener:       []string{"chat_opener"},
	confidence:       []string{"confidence_score", "confidence"},
}

// Parse converts raw model text into a Result. Code fences are stripped
// wherever they appear, the whole text is tried as JSON, and then the first
// balanced {...} is tried. Anything else yields an error Result.
func Parse(raw string) Result {
	fields, err := jsonutil.ParseObject[map[string]json.RawMessage](raw)
	if err != nil {
		log.Warn().Err(err).Int("raw_length", len(raw)).Msg("Could not parse diagnosis response")
		return ErrorResult(parseFailureMessage)
	}
	return fromFields(fields)
}

// fromFields maps a decoded JSON object onto a Result.
func fromFields(fields map[string]json.RawMessage) Result {
	if len(fields) == 0 {
		return ErrorResult(noReportMessage)
	}

	// Exact keys win over keys that only match after canonicalization. The
	// losing key is kept in Extra under its original spelling.
	byKey := make(map[string]json.RawMessage, len(fields))
	origin := make(map[string]string, len(fields))
	shadowed := make(map[string]json.RawMessage)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ck := canonicalKey(k)
		if prev, seen := origin[ck]; seen {
			if k != ck {
				shadowed[k] = fields[k]
				continue
			}
			shadowed[prev] = byKey[ck]
		}
		byKey[ck] = fields[k]
		origin[ck] = k
	}

	if msg, ok := byKey["error"]; ok {
		if text := textValue(msg); text != "" {
			return ErrorResult(text)
		}
	}

	used := make(map[string]bool)
	take := func(names []string) json.RawMessage {
		for _, name := range names {
			if v, ok := byKey[name]; ok {
				used[name] = true
				return v
			}
		}
		return nil
	}

	r := Result{
		Severity:         NormalizeSeverity(textValue(take(fieldKeys.severity))),
		Diagnosis:        textValue(take(fieldKeys.diagnosis)),
		DetectedSource:   textValue(take(fieldKeys.detectedSource)),
		SoundProfile:     textValue(take(fieldKeys.soundProfile)),
		VisualProfile:    textValue(take(fieldKeys.visualProfile)),
		EstimatedCost:    textValue(take(fieldKeys.estimatedCost)),
		ActionPlan:       textValue(take(fieldKeys.actionPlan)),
		Reasoning:        textValue(take(fieldKeys.reasoning)),
		HumanExplanation: textValue(take(fieldKeys.humanExplanation)),
		ChatOpener:       textValue(take(fieldKeys.chatOpener)),
	}
	used["error"] = true

	// An unreadable confidence stays in Extra rather than being dropped.
	for _, name := range fieldKeys.confidence {
		raw, ok := byKey[name]
		if !ok {
			continue
		}
		if score, ok := confidenceValue(raw); ok {
			r.ConfidenceScore = &score
			used[name] = true
		}
		break
	}

	for ck, v := range byKey {
		if used[ck] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[origin[ck]] = v
	}
	for k, v := range shadowed {
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}

	if !r.hasReportField() {
		return ErrorResult(noReportMessage)
	}
	return r
}

// hasReportField reports whether any known report field is set.
func (r Result) hasReportField() bool {
	return r.Severity != "" || r.Diagnosis != "" || r.DetectedSource != "" ||
		r.SoundProfile != "" || r.VisualProfile != "" || r.EstimatedCost != "" ||
		r.ActionPlan != "" || r.Reasoning != "" || r.HumanExplanation != "" ||
		r.ChatOpener != "" || r.ConfidenceScore != nil
}

// canonicalKey lower-cases k and converts camelCase, dashes and spaces to
// snake_case, so "detectedSource" and "Detected-Source" both become
// "detected_source".
func canonicalKey(k string) string {
	var b strings.Builder
	prevLower := false
	for _, c := range strings.TrimSpace(k) {
		switch {
		case c == '-' || c == ' ':
			b.WriteByte('_')
			prevLower = false
		case unicode.IsUpper(c):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(c))
			prevLower = false
		default:
			b.WriteRune(c)
			prevLower = unicode.IsLower(c) || unicode.IsDigit(c)
		}
	}
	return b.String()
}

// textValue renders a JSON value as display text: strings as-is, numbers and
// booleans by their literal, arrays as one line per element, objects as
// compact JSON. null and absent values are empty.
func textValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			lines := make([]string, 0, len(items))
			for _, item := range items {
				if s := textValue(item); s != "" {
					lines = append(lines, s)
				}
			}
			return strings.Join(lines, "\n")
		}
	case '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return buf.String()
		}
	}
	return string(raw)
}

var errNotANumber = errors.New("not a number")

// confidenceValue accepts 85, 85.5, "85", "85%" and fraction strings like
// "0.85", returning a score clamped to 0..100. JSON numbers are taken as
// given, so 0.5 stays 0.5.
func confidenceValue(raw json.RawMessage) (float64, bool) {
	v, fraction, err := numberValue(raw)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if fraction {
		v = math.Round(v*10000) / 100
	}
	return math.Max(0, math.Min(100, v)), true
}

// numberValue decodes a JSON number or numeric string. fraction is set for
// strings between 0 and 1 without a percent sign.
func numberValue(raw json.RawMessage) (v float64, fraction bool, err error) {
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false, errNotANumber
	}
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, errNotANumber
	}
	return v, !percent && v > 0 && v < 1, nil
}
