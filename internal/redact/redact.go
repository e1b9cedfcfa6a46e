// Package redact strips credentials and personal data from strings before they
// are logged or printed. Connection strings, password parameters and email
// addresses (a common form of claimant key) are replaced with placeholders.
package redact

import "regexp"

// Redaction placeholders
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
)

var (
	// userinfo section of a connection URL, up to and including the '@'
	dbConnRegex = regexp.MustCompile(`(?i)(postgres|postgresql|mysql|redis|db|database)://[^@/\s]+@`)

	// key=value or key: value password parameters, including libpq DSNs
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)[=:]\s*['"]?[^'"&\s]+['"]?`)

	emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// Applied in order; connection strings go first so their '@' is not read
	// as part of an email address.
	rules = []struct {
		pattern     *regexp.Regexp
		placeholder string
	}{
		{dbConnRegex, RedactedCredentialPlaceholder},
		{passwordRegex, RedactedCredentialPlaceholder},
		{emailRegex, RedactedEmailPlaceholder},
	}
)

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, rule := range rules {
		result = rule.pattern.ReplaceAllString(result, rule.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
