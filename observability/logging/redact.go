package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// secretMarkers flag attribute keys whose values never reach the log stream.
// Matching is on a lower-cased substring so "journal_dsn" and "APIToken"
// are both caught.
var secretMarkers = []string{
	"passphrase",
	"password",
	"secret",
	"token",
	"authorization",
	"dsn",
	"api_key",
	"apikey",
	"private",
}

// IsSecretKey reports whether values logged under key are masked.
func IsSecretKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" || normalized == "request_id" {
		return false
	}
	for _, marker := range secretMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskField returns an attribute that is masked when key names a secret.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) != "" && IsSecretKey(key) {
		return slog.String(key, RedactedValue)
	}
	return slog.String(key, value)
}

// redactAttr masks secret attributes as the handler renders them.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSecretKey(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
