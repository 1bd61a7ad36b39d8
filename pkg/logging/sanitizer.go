package logging

import (
	"regexp"
	"unicode/utf8"
)

const (
	// MaxErrorMessageLength is the default length limit for error text stored on change records
	MaxErrorMessageLength = 1000
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match potential passwords in connection strings
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match bearer credentials of any shape (JWT or opaque LWA tokens)
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[^\s"',;]+`)

	// Pattern to match Login with Amazon access/refresh tokens outside an Authorization header
	lwaTokenPattern = regexp.MustCompile(`Atz[ar]\|[A-Za-z0-9\-_.|=+/]+`)

	// Pattern to match OAuth client secrets and refresh tokens passed as parameters
	oauthParamPattern = regexp.MustCompile(`(?i)(client_secret|refresh_token|access_token)=[^;&\s"]+`)

	// Pattern to match potential API keys
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString removes sensitive data from connection strings
// Use this before logging any connection string
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeMessage redacts credentials from free text: tokens, secrets,
// passwords and connection string credentials.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(msg, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = lwaTokenPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = oauthParamPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data
// Use this before logging or persisting any error from the ads platform or the database
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// ErrorMessage returns the sanitized error text capped at maxLen runes.
// A non-positive maxLen falls back to MaxErrorMessageLength.
func ErrorMessage(err error, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxErrorMessageLength
	}
	return TruncateString(SanitizeError(err), maxLen)
}

// TruncateString truncates a string to maxLen runes and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
