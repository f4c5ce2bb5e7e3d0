// Package diag scrubs secrets from text that crosses into logs or error
// messages, such as response bodies returned by the identity provider.
package diag

import (
	"regexp"
	"strings"
)

// Redactor handles sensitive data redaction from text
type Redactor struct {
	patterns []redactionPattern
}

type redactionPattern struct {
	regex       *regexp.Regexp
	replacement string
}

const sensitiveKeys = `[A-Za-z_]*(?:password|secret|token|key)[A-Za-z_]*`

// NewRedactor creates a new redactor with common secret patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []redactionPattern{
			// JSON string fields such as "bind_password": "..." or "key": "..."
			{
				regex:       regexp.MustCompile(`(?i)("` + sensitiveKeys + `"\s*:\s*)"(?:[^"\\]|\\.)*"`),
				replacement: `$1"[REDACTED]"`,
			},
			// Environment variables with secrets
			{
				regex:       regexp.MustCompile(`(?i)(^|\s|export\s+)([A-Z_]*(?:KEY|TOKEN|SECRET|PASSWORD)[A-Z_]*)=("[^"]*"|'[^']*'|\S+)`),
				replacement: `$1$2=[REDACTED]`,
			},
			// LDIF password attributes
			{
				regex:       regexp.MustCompile(`(?im)^(userPassword|olcRootPW)::?\s*.+$`),
				replacement: `$1: [REDACTED]`,
			},
			// Argon2 PHC hashes
			{
				regex:       regexp.MustCompile(`\$argon2(?:id|i|d)\$v=\d+\$m=\d+,t=\d+,p=\d+\$[A-Za-z0-9+/]+\$[A-Za-z0-9+/]+`),
				replacement: `[REDACTED-HASH]`,
			},
			// Bearer tokens
			{
				regex:       regexp.MustCompile(`(?i)Bearer\s+([A-Za-z0-9_\-\.]+)`),
				replacement: `Bearer [REDACTED]`,
			},
			// Connection strings with passwords
			{
				regex:       regexp.MustCompile(`(?i)(postgres|postgresql|ldap|ldaps)://([^:/@\s]+):([^@\s]+)@`),
				replacement: `$1://$2:[REDACTED]@`,
			},
		},
	}
}

// Redact applies all redaction patterns to the input text
func (r *Redactor) Redact(input string) string {
	result := input
	for _, pattern := range r.patterns {
		result = pattern.regex.ReplaceAllString(result, pattern.replacement)
	}
	return result
}

var defaultRedactor = NewRedactor()

// Redact scrubs input with the default patterns
func Redact(input string) string {
	return defaultRedactor.Redact(input)
}

// Truncate redacts input and shortens it to at most n bytes for log payloads
func Truncate(input string, n int) string {
	out := strings.TrimSpace(Redact(input))
	if n > 0 && len(out) > n {
		return out[:n] + "..."
	}
	return out
}

// IsLikelySensitive checks if a line contains potentially sensitive data
func IsLikelySensitive(line string) bool {
	lowerLine := strings.ToLower(line)
	sensitiveKeywords := []string{
		"password", "secret", "token", "api_key", "apikey",
		"private_key", "privatekey", "credential", "userpassword",
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerLine, keyword) {
			return true
		}
	}
	return false
}
