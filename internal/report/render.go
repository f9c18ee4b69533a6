package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fpang/sonic-diagnostic/internal/lang"
)

// DisplayStyle is how a severity is presented.
type DisplayStyle struct {
	Label string
	Glyph string
	Color lipgloss.Color
}

var severityStyles = map[Severity]DisplayStyle{
	SeveritySafe:     {Label: "SAFE", Glyph: "✓", Color: lipgloss.Color("#10B981")},
	SeverityInfo:     {Label: "INFO", Glyph: "i", Color: lipgloss.Color("#3B82F6")},
	SeverityLow:      {Label: "LOW", Glyph: "•", Color: lipgloss.Color("#22C55E")},
	SeverityMedium:   {Label: "MEDIUM", Glyph: "!", Color: lipgloss.Color("#F59E0B")},
	SeverityHigh:     {Label: "HIGH", Glyph: "!!", Color: lipgloss.Color("#F97316")},
	SeverityCritical: {Label: "CRITICAL", Glyph: "✖", Color: lipgloss.Color("#EF4444")},
}

var neutralStyle = DisplayStyle{Glyph: "?", Color: lipgloss.Color("#9CA3AF")}

// Style returns the display style for s. Severities outside the vocabulary
// get the neutral style labeled with whatever the model sent.
func Style(s Severity) DisplayStyle {
	if st, ok := severityStyles[s]; ok {
		return st
	}
	st := neutralStyle
	st.Label = string(s)
	if st.Label == "" {
		st.Label = "UNKNOWN"
	}
	return st
}

type labels struct {
	severity, diagnosis, detectedSource, soundProfile, visualProfile,
	estimatedCost, actionPlan, reasoning, explanation, confidence,
	chatOpener, other, failed string
	severityNames map[Severity]string
}

var labelSets = map[lang.Language]labels{
	lang.English: {
		severity:       "Severity",
		diagnosis:      "Diagnosis",
		detectedSource: "Detected source",
		soundProfile:   "Sound profile",
		visualProfile:  "Visual profile",
		estimatedCost:  "Estimated cost",
		actionPlan:     "Action plan",
		reasoning:      "Reasoning",
		explanation:    "Explanation",
		confidence:     "Confidence",
		chatOpener:     "Ask a mechanic",
		other:          "Other findings",
		failed:         "Diagnosis failed",
	},
	lang.Polish: {
		severity:       "Poziom zagrożenia",
		diagnosis:      "Diagnoza",
		detectedSource: "Wykryte źródło",
		soundProfile:   "Profil dźwięku",
		visualProfile:  "Profil wizualny",
		estimatedCost:  "Szacowany koszt",
		actionPlan:     "Plan działania",
		reasoning:      "Uzasadnienie",
		explanation:    "Wyjaśnienie",
		confidence:     "Pewność",
		chatOpener:     "Zapytaj mechanika",
		other:          "Inne ustalenia",
		failed:         "Diagnoza nieudana",
		severityNames: map[Severity]string{
			SeveritySafe:     "BEZPIECZNY",
			SeverityInfo:     "INFORMACJA",
			SeverityLow:      "NISKI",
			SeverityMedium:   "ŚREDNI",
			SeverityHigh:     "WYSOKI",
			SeverityCritical: "KRYTYCZNY",
		},
	},
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6B7280"))
	bodyStyle    = lipgloss.NewStyle().PaddingLeft(2)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	openerStyle  = lipgloss.NewStyle().Italic(true)
	sectionBreak = "\n"
)

// Render writes a terminal presentation of r using the labels of language.
func Render(w io.Writer, r Result, language lang.Language) error {
	l, ok := labelSets[language]
	if !ok {
		l = labelSets[lang.English]
	}

	var b strings.Builder
	if r.IsError() {
		b.WriteString(errorStyle.Render("✖ " + l.failed))
		b.WriteString("\n")
		b.WriteString(bodyStyle.Render(r.Error))
		b.WriteString("\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	st := Style(r.Severity)
	name := st.Label
	if localized, ok := l.severityNames[r.Severity]; ok {
		name = localized
	}
	badge := lipgloss.NewStyle().Bold(true).Foreground(st.Color).Render(st.Glyph + " " + name)
	b.WriteString(labelStyle.Render(l.severity+":") + " " + badge + "\n")
	if r.Diagnosis != "" {
		b.WriteString(titleStyle.Render(r.Diagnosis) + "\n")
	}

	section := func(label, text string) {
		if text == "" {
			return
		}
		b.WriteString(sectionBreak)
		b.WriteString(labelStyle.Render(label) + "\n")
		b.WriteString(bodyStyle.Render(text) + "\n")
	}
	section(l.detectedSource, r.DetectedSource)
	section(l.soundProfile, r.SoundProfile)
	section(l.visualProfile, r.VisualProfile)
	section(l.estimatedCost, r.EstimatedCost)
	section(l.actionPlan, r.ActionPlan)
	section(l.reasoning, r.Reasoning)
	section(l.explanation, r.HumanExplanation)
	if r.ConfidenceScore != nil {
		section(l.confidence, strconv.FormatFloat(*r.ConfidenceScore, 'f', -1, 64)+"%")
	}
	if len(r.Extra) > 0 {
		keys := make([]string, 0, len(r.Extra))
		for k := range r.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", k, textValue(r.Extra[k])))
		}
		section(l.other, strings.Join(lines, "\n"))
	}
	if r.ChatOpener != "" {
		section(l.chatOpener, openerStyle.Render(r.ChatOpener))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
