// Package assets embeds the prompt templates sent with every diagnosis.
//
// Templates are plain text files under prompts/ so they can be reviewed
// without reading Go code.
package assets

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
)

//go:embed prompts/diagnosis-system.txt
var diagnosisSystemTemplate string

//go:embed prompts/diagnosis-user.txt
var diagnosisUserTemplate string

// Parsed at init; a malformed template fails at startup rather than per call.
var (
	systemPromptTmpl = template.Must(template.New("diagnosis-system").Option("missingkey=error").Parse(diagnosisSystemTemplate))
	userPromptTmpl   = template.Must(template.New("diagnosis-user").Option("missingkey=error").Parse(diagnosisUserTemplate))
)

// SystemPromptData is injected into the system instruction.
type SystemPromptData struct {
	// Language is the English name of the report language ("Polish").
	Language string
	// Currency is an ISO 4217 code ("PLN").
	Currency string
}

// MetadataEntry is one capture metadata line.
type MetadataEntry struct {
	Key   string
	Value string
}

// UserPromptData is injected into the per-request prompt.
type UserPromptData struct {
	MediaKind string
	Category  string
	MakeModel string
	Symptoms  string
	Metadata  []MetadataEntry
}

// RenderDiagnosisSystemPrompt renders the fixed instruction template.
func RenderDiagnosisSystemPrompt(data SystemPromptData) (string, error) {
	return render(systemPromptTmpl, data)
}

// RenderDiagnosisUserPrompt renders the context prompt that follows the media.
func RenderDiagnosisUserPrompt(data UserPromptData) (string, error) {
	return render(userPromptTmpl, data)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
