// Package lang defines the report languages a user can pick.
package lang

import (
	"fmt"
	"strings"
)

// Language is a two-letter report language code.
type Language string

const (
	English Language = "en"
	Polish  Language = "pl"
)

// Default is used when no preference has been stored.
const Default = English

// Supported lists every selectable language in display order.
var Supported = []Language{English, Polish}

// Parse accepts a language code or its English name, case-insensitively.
func Parse(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "english":
		return English, nil
	case "pl", "polish", "polski":
		return Polish, nil
	}
	return "", fmt.Errorf("unsupported language %q (use en or pl)", s)
}

// Name returns the language name used in prompts.
func (l Language) Name() string {
	switch l {
	case Polish:
		return "Polish"
	default:
		return "English"
	}
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	return l == English || l == Polish
}
