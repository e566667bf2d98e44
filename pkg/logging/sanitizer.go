// Package logging redacts credentials from strings before they reach a log.
package logging

import (
	"regexp"
)

const (
	// MaxDetailsLogLength caps free-text audit details copied into logs.
	MaxDetailsLogLength = 120
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx, secret=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass|secret)=[^;&\s]+`)

	// JSON-style credential fields: "password": "xxx", "secret":"xxx"
	jsonSecretPattern = regexp.MustCompile(`(?i)"(password|secret|signing_token|token)"\s*:\s*"[^"]*"`)

	// Bearer JWTs (three base64 segments separated by dots)
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Bare HS256 re-authentication tokens
	bareJWTPattern = regexp.MustCompile(`eyJ[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// bcrypt hashes from the signer table
	bcryptPattern = regexp.MustCompile(`\$2[abxy]?\$\d{2}\$[./A-Za-z0-9]{53}`)

	// user:pass@host in dataset source URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeSource removes credentials from a dataset source before logging.
func SanitizeSource(source string) string {
	if source == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(source, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError redacts secrets that an error message may carry.
// Use this before logging errors that wrap request input.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// Sanitize applies every redaction pattern to s.
func Sanitize(s string) string {
	sanitized := passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	sanitized = jsonSecretPattern.ReplaceAllString(sanitized, `"${1}":"`+RedactedText+`"`)
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = bareJWTPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = bcryptPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeDetails truncates and redacts free-text audit details for logging.
func SanitizeDetails(details string) string {
	if details == "" {
		return ""
	}
	return TruncateString(Sanitize(details), MaxDetailsLogLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
