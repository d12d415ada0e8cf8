package logger

import (
	"regexp"
	"strings"
)

// sensitiveValuePatterns match credentials embedded in free-form strings,
// such as URLs with user info or error bodies echoing a token.
var sensitiveValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((token|secret|passw(or)?d)[\s:=]+)([^;,\s"]{3,})`),
	regexp.MustCompile(`(?i)(://[^:/@\s]+:)([^@/\s]+)(@)`),
}

// sensitiveKeys are field names whose values are never written as-is.
var sensitiveKeys = []string{"password", "passwd", "secret", "token", "dsn", "authorization"}

// RedactSensitiveData masks credentials found inside input.
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}

	for i, pattern := range sensitiveValuePatterns {
		if i == len(sensitiveValuePatterns)-1 {
			input = pattern.ReplaceAllString(input, "$1[REDACTED]$3")
			continue
		}
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}

	return input
}

// isSensitiveKey reports whether a field key names a secret.
func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(keyLower, k) {
			return true
		}
	}
	return false
}

// redactField masks the value of a string field whose key names a secret and
// scrubs credentials out of other string values.
func redactField(f Field) Field {
	s, ok := f.Value.(string)
	if !ok || s == "" {
		return f
	}
	if isSensitiveKey(f.Key) {
		return Field{Key: f.Key, Value: "[REDACTED]"}
	}
	return Field{Key: f.Key, Value: RedactSensitiveData(s)}
}
