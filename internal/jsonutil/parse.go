// Package jsonutil provides utilities for extracting and parsing JSON from
// LLM responses that may be wrapped in markdown code fences or embedded in prose.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoObject is returned when no balanced JSON object can be found in text.
var ErrNoObject = errors.New("no JSON object found")

// fenceMarker matches an opening fence with an optional language tag
// (```json, ```JSON, ```) or a bare closing fence.
var fenceMarker = regexp.MustCompile("```[A-Za-z0-9_-]*")

// StripMarkdownFences removes every ``` marker (with or without a language
// tag) from text, wherever it appears, and trims the result. Models sometimes
// open a fence mid-sentence ("Sure! ```json {...} ```"), so this does not
// assume the fence starts the response.
func StripMarkdownFences(text string) string {
	return strings.TrimSpace(fenceMarker.ReplaceAllString(text, ""))
}

// ExtractObject returns the first balanced {...} substring of text. Braces
// inside JSON string literals (including escaped quotes) are ignored.
func ExtractObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	for start != -1 {
		if end, ok := matchBrace(text, start); ok {
			return text[start : end+1], nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}
	return "", ErrNoObject
}

// matchBrace scans from the '{' at open and returns the index of its
// matching '}'.
func matchBrace(text string, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseObject decodes an untrusted model response into T using a two-tier
// strategy: strip fences and decode the whole text, then fall back to the
// first balanced {...} substring.
func ParseObject[T any](raw string) (T, error) {
	var result T
	text := StripMarkdownFences(raw)

	directErr := json.Unmarshal([]byte(text), &result)
	if directErr == nil {
		return result, nil
	}

	obj, err := ExtractObject(text)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	result = *new(T)
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		var zero T
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview(obj))
	}
	return result, nil
}

// preview truncates s for inclusion in error messages.
func preview(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
