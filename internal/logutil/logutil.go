package logutil

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Redacted replaces sensitive values in logs and report attachments.
const Redacted = "[REDACTED]"

// IsSensitiveField returns true when a header or JSON key likely holds a
// credential.
func IsSensitiveField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "password"):
		return true
	case strings.Contains(normalized, "apikey"):
		return true
	case strings.Contains(normalized, "cookie"):
		return true
	case strings.Contains(normalized, "auth"):
		return true
	default:
		return false
	}
}

// FlattenHeaders lowercases header names and joins repeated values with ", ".
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		out[strings.ToLower(k)] = strings.Join(values, ", ")
	}
	return out
}

// RedactHeaders returns a copy of headers with sensitive values replaced.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSensitiveField(k) {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}

// HeaderNames returns the sorted header names, for stable log output.
func HeaderNames(headers map[string]string) []string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RedactValue walks a decoded JSON value and replaces sensitive fields in
// place.
func RedactValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			if IsSensitiveField(k) {
				typed[k] = Redacted
				continue
			}
			typed[k] = RedactValue(child)
		}
	case []any:
		for i, child := range typed {
			typed[i] = RedactValue(child)
		}
	}
	return v
}

// RedactJSON redacts sensitive fields of a JSON document. Non-JSON input is
// returned unchanged.
func RedactJSON(body []byte) []byte {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}
	safe, err := json.Marshal(RedactValue(payload))
	if err != nil {
		return body
	}
	return safe
}

// TruncateForLog returns a single-line truncated preview for unstructured values.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	if maxChars <= 0 || len(normalized) <= maxChars {
		return normalized
	}
	return normalized[:maxChars] + "... [truncated]"
}
