// Package security scrubs secrets out of data bound for logs and the audit trail.
package security

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const redactedValue = "[REDACTED]"

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"proxy-authorization": true,
}

// Substrings that mark a JSON field, XML element or query parameter as secret.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"api_key",
	"private_key",
	"privatekey",
	"credential",
}

// Elements of the tax authority's auth responses and PKCS#12 uploads.
var sensitiveElement = regexp.MustCompile(`(?i)<((?:[\w-]+:)?(?:token|password|clave|pin|privatekey))(\s[^>]*)?>[^<]*</[^>]*>`)

// SanitizeHeaders returns a flat copy of headers with credentials redacted.
func SanitizeHeaders(headers http.Header) map[string]string {
	sanitized := make(map[string]string, len(headers))
	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			sanitized[key] = redactedValue
			continue
		}
		sanitized[key] = strings.Join(values, ", ")
	}
	return sanitized
}

// SanitizeBody renders body as audit-safe text. JSON fields and XML elements
// whose names look secret are redacted, gzip is unpacked, binary content is
// summarized and anything past maxSize bytes is cut.
func SanitizeBody(body []byte, maxSize int) string {
	if len(body) == 0 {
		return ""
	}

	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		decompressed, err := decompressGzip(body)
		if err != nil {
			return fmt.Sprintf("[gzip body, %d bytes, unreadable]", len(body))
		}
		body = decompressed
	}

	if !utf8.Valid(body) {
		return fmt.Sprintf("[binary body, %d bytes]", len(body))
	}

	text := sanitizeText(body)
	if maxSize > 0 && len(text) > maxSize {
		return truncate(text, maxSize) + fmt.Sprintf("...[truncated, %d bytes total]", len(text))
	}
	return text
}

func sanitizeText(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var data any
		if err := json.Unmarshal(trimmed, &data); err == nil {
			if out, err := json.Marshal(sanitizeValue(data)); err == nil {
				return string(out)
			}
		}
	}
	return sensitiveElement.ReplaceAllString(string(body), "<${1}${2}>"+redactedValue+"</${1}>")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func decompressGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		sanitized := make(map[string]any, len(val))
		for key, value := range val {
			if isSensitive(key) {
				sanitized[key] = redactedValue
				continue
			}
			sanitized[key] = sanitizeValue(value)
		}
		return sanitized
	case []any:
		sanitized := make([]any, len(val))
		for i, value := range val {
			sanitized[i] = sanitizeValue(value)
		}
		return sanitized
	default:
		return val
	}
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

// SanitizeURL redacts secret-looking query parameters. Unparseable input is
// returned without its query string.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	if u.RawQuery == "" {
		return raw
	}

	parts := strings.Split(u.RawQuery, "&")
	changed := false
	for i, part := range parts {
		name, _, found := strings.Cut(part, "=")
		if found && isSensitive(name) {
			parts[i] = name + "=" + redactedValue
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = strings.Join(parts, "&")
	return u.String()
}
