package jsonutil

import (
	"errors"
	"testing"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no fences", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"upper tag", "```JSON {\"a\":1} ```", `{"a":1}`},
		{"inline with prose", "Sure! ```json {\"a\":1} ``` ", `Sure!  {"a":1}`},
		{"surrounding whitespace", "  \n{\"a\":1}\n ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.input); got != tt.want {
				t.Errorf("StripMarkdownFences(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, false},
		{"prose around", `Here you go: {"a":1} hope it helps`, `{"a":1}`, false},
		{"first of two", `{"a":1} and {"b":2}`, `{"a":1}`, false},
		{"nested", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`, false},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`, false},
		{"escaped quote in string", `{"a":"say \"}\" now"}`, `{"a":"say \"}\" now"}`, false},
		{"unbalanced then balanced", `{ oops { "a": 1 }`, `{ "a": 1 }`, false},
		{"no braces", `nothing here`, "", true},
		{"never closed", `{"a":1`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractObject(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrNoObject) {
					t.Fatalf("expected ErrNoObject, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractObject(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseObjectFallback(t *testing.T) {
	type payload struct {
		Severity string `json:"severity"`
	}

	direct, err := ParseObject[payload](`{"severity":"LOW"}`)
	if err != nil || direct.Severity != "LOW" {
		t.Fatalf("direct parse: got %+v, %v", direct, err)
	}

	fallback, err := ParseObject[payload]("The result is {\"severity\":\"MEDIUM\"} as requested.")
	if err != nil || fallback.Severity != "MEDIUM" {
		t.Fatalf("fallback parse: got %+v, %v", fallback, err)
	}

	if _, err := ParseObject[payload]("no json at all"); err == nil {
		t.Error("expected error for garbage input")
	}

	if _, err := ParseObject[payload](`prefix {"severity": } suffix`); err == nil {
		t.Error("expected error for malformed extracted object")
	}
}
