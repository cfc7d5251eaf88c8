package phi

import "regexp"

// Redactor replaces text matching one identifier pattern.
type Redactor struct {
	Name    string
	pattern *regexp.Regexp
	replace string
}

// Redact replaces matches with the replacement token.
func (r Redactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

// Patterns for identifiers that must never appear in a sink, even inside
// free-text fields like access reasons or error messages.
var defaultRedactors = []Redactor{
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{"MRN", regexp.MustCompile(`(?i)\bMRN[-: ]?\d{5,}\b`), "[MRN_REDACTED]"},
	{"Email", regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`), "[EMAIL_REDACTED]"},
	{"Phone", regexp.MustCompile(`\b\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`), "[PHONE_REDACTED]"},
}

// DefaultRedactors returns the built-in redactor set.
func DefaultRedactors() []Redactor {
	out := make([]Redactor, len(defaultRedactors))
	copy(out, defaultRedactors)
	return out
}

// Scrub applies every default redactor to the input.
func Scrub(input string) string {
	result := input
	for _, r := range defaultRedactors {
		result = r.Redact(result)
	}
	return result
}
