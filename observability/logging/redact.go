package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive values in log lines.
const RedactedValue = "[REDACTED]"

// Ledger parties, order ids and request metadata are public on the gateway
// and may be logged verbatim. Everything else passed through MaskField is
// treated as a secret.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"route":     {},
	"method":    {},
	"status":    {},
	"requestid": {},
	"caller":    {},
	"buyer":     {},
	"seller":    {},
	"account":   {},
	"owner":     {},
	"id":        {},
	"type":      {},
	"sequence":  {},
	"driver":    {},
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue hides any non-blank value.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is masked unless key is
// allowlisted. Blank values pass through so missing settings stay visible.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// MaskBearer keeps the scheme of an Authorization header and drops the token.
func MaskBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || strings.TrimSpace(token) == "" {
		return MaskValue(header)
	}
	return scheme + " " + RedactedValue
}
