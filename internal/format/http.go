package format

import (
	"bytes"
	"encoding/json"
	"strings"

	"firestige.xyz/convo/internal/core"
	"firestige.xyz/convo/internal/metrics"
)

// MaxJSONFormatSize bounds the body size FormatHTTPPayload will pretty print.
// Bodies of this size or larger are returned unchanged.
const MaxJSONFormatSize = 32 * 1024

const headerTerminator = "\r\n\r\n"

// FormatHTTPPayload pretty prints the JSON body of an HTTP message with two
// space indentation, leaving the headers untouched. Any message it cannot or
// should not format is returned as is; it never fails.
func FormatHTTPPayload(raw, contentType string) string {
	sep := strings.Index(raw, headerTerminator)
	if sep < 0 {
		metrics.JSONFormatTotal.WithLabelValues(metrics.JSONHeadersOnly).Inc()
		return raw
	}
	if !core.IsJSONMediaType(contentType) {
		metrics.JSONFormatTotal.WithLabelValues(metrics.JSONNotJSON).Inc()
		return raw
	}

	bodyStart := sep + len(headerTerminator)
	body := raw[bodyStart:]
	if len(body) >= MaxJSONFormatSize {
		metrics.JSONFormatTotal.WithLabelValues(metrics.JSONSkippedSize).Inc()
		return raw
	}

	pretty, ok := indentJSON(body)
	if !ok {
		metrics.JSONFormatTotal.WithLabelValues(metrics.JSONInvalid).Inc()
		return raw
	}
	metrics.JSONFormatTotal.WithLabelValues(metrics.JSONFormatted).Inc()
	return raw[:bodyStart] + pretty
}

// indentJSON accepts only a top-level object or array.
func indentJSON(body string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}
