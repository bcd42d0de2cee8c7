// Package redact scrubs sensitive-looking substrings from text before it is
// persisted. Redaction is deterministic and order-sensitive: SSN shapes go
// first so the card-number pattern cannot consume them partially.
package redact

import "regexp"

// Marker replaces every redacted match.
const Marker = "[REDACTED]"

var patterns = []*regexp.Regexp{
	// SSN-shaped sequences.
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// Payment-card-like runs: 13-19 digits with optional space/dash separators.
	regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`),
	// Date-shaped sequences.
	regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
}

// Opaque uppercase alphanumeric codes, 8-12 chars. Applied last and kept
// separate: the marker text itself is an 8-char uppercase token and must not
// be re-redacted.
var codePattern = regexp.MustCompile(`\b[A-Z0-9]{8,12}\b`)

// Sensitive applies every pattern in order, replacing matches with Marker.
func Sensitive(text string) string {
	for _, pattern := range patterns {
		text = pattern.ReplaceAllString(text, Marker)
	}
	return codePattern.ReplaceAllStringFunc(text, func(match string) string {
		if match == "REDACTED" {
			return match
		}
		return Marker
	})
}
