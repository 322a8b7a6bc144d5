package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log
	MaxQueryLogLength = 200
	// MaxErrorLength bounds driver error text surfaced to callers
	MaxErrorLength = 500
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens (three base64 segments separated by dots)
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// OpenAI style secret keys embedded in provider errors
	secretKeyPattern = regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`)

	// user:pass@host in postgres:// and sqlserver:// URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s?]+`)

	// SQL Server ADO style "User ID=...;"
	userIDPattern = regexp.MustCompile(`(?i)(user id|uid)=[^;&\s]+`)

	// single-quoted SQL literals, with '' escapes
	sqlLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// SanitizeConnectionString removes credentials from a DSN before it is logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = userIDPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError returns the error text with credentials, tokens and keys
// removed, truncated to MaxErrorLength. Driver errors pass through here before
// they are logged or returned to a caller.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = secretKeyPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = userIDPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return TruncateString(sanitized, MaxErrorLength)
}

// SanitizeQuery masks string literals and truncates a SQL query for logging.
// Literal values in generated WMS queries are user-supplied (item codes,
// customer names) and are not written to logs.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sanitized := sqlLiteralPattern.ReplaceAllString(query, "'?'")
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return TruncateString(sanitized, MaxQueryLogLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
