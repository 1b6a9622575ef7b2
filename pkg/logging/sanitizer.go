package logging

import (
	"regexp"
)

const (
	// MaxMessageLength caps the length of adapter messages persisted as last_error.
	MaxMessageLength = 1000
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens, JWT or opaque (GitHub personal access tokens)
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.=]+`)

	// Basic auth headers
	basicPattern = regexp.MustCompile(`(?i)Basic\s+[A-Za-z0-9+/=]{8,}`)

	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?token|token|key)=[A-Za-z0-9\-_]{12,}`)

	// user:pass@host in URLs and connection strings
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)
)

// SanitizeConnectionString removes credentials from a connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
	return sanitized
}

// SanitizeMessage redacts credentials from a free-form message and truncates it.
// Every message written into a data sync's last_error goes through here.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(msg, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = basicPattern.ReplaceAllString(sanitized, "Basic "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
	return TruncateString(sanitized, MaxMessageLength)
}

// SanitizeError is SanitizeMessage for errors. A nil error yields "".
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
