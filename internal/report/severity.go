package report

import "strings"

// Severity is the fault urgency classification returned by the model.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
	SeveritySafe     Severity = "SAFE"
)

// Severities lists the known vocabulary, least to most urgent, with the
// non-fault classes first.
var Severities = []Severity{SeveritySafe, SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// NormalizeSeverity upper-cases and trims s. Unknown values are kept so the
// caller can still show what the model said.
func NormalizeSeverity(s string) Severity {
	return Severity(strings.ToUpper(strings.TrimSpace(s)))
}

// Known reports whether s is part of the severity vocabulary.
func (s Severity) Known() bool {
	for _, k := range Severities {
		if s == k {
			return true
		}
	}
	return false
}
