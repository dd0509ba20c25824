package logger

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// secretFragments are field-name fragments whose values are never logged.
var secretFragments = []string{"token", "secret", "password", "authorization", "signature"}

// secretExact are short field names that only count as secrets on an exact match.
var secretExact = map[string]bool{"code": true, "state": true}

func redactValue(key, val string, redactPII bool) string {
	key = strings.ToLower(key)
	if secretExact[key] {
		return RedactSecret(val)
	}
	for _, frag := range secretFragments {
		if strings.Contains(key, frag) {
			return RedactSecret(val)
		}
	}
	if !redactPII {
		return val
	}
	if strings.Contains(key, "email") || strings.Contains(key, "recipient_to") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactSecret replaces a credential with a fixed marker, keeping only
// whether it was present.
func RedactSecret(val string) string {
	if val == "" {
		return ""
	}
	return "[REDACTED]"
}
