package logging

import (
	"regexp"
	"strings"
)

var credentialsInURI = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*://)[^@/]+@`)

// MaskURI replaces any credentials embedded in a connection string so the
// result is safe to log.
func MaskURI(uri string) string {
	return credentialsInURI.ReplaceAllString(uri, "${1}***:***@")
}

var sensitiveKeys = []string{"password", "passwd", "secret", "token", "authorization", "api_key", "apikey", "cookie"}

// IsSensitiveKey reports whether a field name is expected to carry a
// credential.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Redact returns a copy of fields with sensitive values replaced.
func Redact(fields map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return fields
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if IsSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}
