// Package diagnosis sends one capture plus its diagnostic context to Gemini
// and returns the model's raw text.
package diagnosis

import (
	"errors"
	"fmt"
	"strings"
)

// Category is the kind of machine being diagnosed.
type Category string

const (
	CategoryAutomotive    Category = "automotive"
	CategoryHomeAppliance Category = "home_appliance"
	CategoryIndustrial    Category = "industrial"
)

// Categories lists the selectable categories in display order.
var Categories = []Category{CategoryAutomotive, CategoryHomeAppliance, CategoryIndustrial}

var categoryAliases = map[string]Category{
	"automotive":     CategoryAutomotive,
	"auto":           CategoryAutomotive,
	"car":            CategoryAutomotive,
	"vehicle":        CategoryAutomotive,
	"home_appliance": CategoryHomeAppliance,
	"appliance":      CategoryHomeAppliance,
	"home":           CategoryHomeAppliance,
	"industrial":     CategoryIndustrial,
	"industry":       CategoryIndustrial,
	"machinery":      CategoryIndustrial,
}

// ErrMissingCategory is returned when a request has no machine category.
var ErrMissingCategory = errors.New("machine category is required")

// ParseCategory resolves a category name or alias, case-insensitively.
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if key == "" {
		return "", ErrMissingCategory
	}
	if c, ok := categoryAliases[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown machine category %q (use automotive, home_appliance or industrial)", s)
}

// Label returns a human-readable category name for prompts.
func (c Category) Label() string {
	switch c {
	case CategoryAutomotive:
		return "automotive (car, motorcycle, truck)"
	case CategoryHomeAppliance:
		return "home appliance"
	case CategoryIndustrial:
		return "industrial machinery"
	default:
		return string(c)
	}
}

// Context is the user-supplied description attached to a scan.
type Context struct {
	Category  Category `json:"category" yaml:"category"`
	MakeModel string   `json:"makeModel,omitempty" yaml:"make_model,omitempty"`
	Symptoms  string   `json:"symptoms,omitempty" yaml:"symptoms,omitempty"`
}

// Validate checks that the context can be submitted.
func (c Context) Validate() error {
	if c.Category == "" {
		return ErrMissingCategory
	}
	if _, err := ParseCategory(string(c.Category)); err != nil {
		return err
	}
	return nil
}

// Normalized trims free-text fields and resolves category aliases.
func (c Context) Normalized() Context {
	if cat, err := ParseCategory(string(c.Category)); err == nil {
		c.Category = cat
	}
	c.MakeModel = strings.TrimSpace(c.MakeModel)
	c.Symptoms = strings.TrimSpace(c.Symptoms)
	return c
}
