package core

import (
	"mime"
	"strings"
)

// IsJSONMediaType reports whether contentType denotes JSON:
// application/json, text/json or any structured "+json" suffix.
func IsJSONMediaType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Fall back to the part before ';' for sloppy headers.
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	switch mediaType {
	case "application/json", "text/json":
		return true
	}
	return strings.HasSuffix(mediaType, "+json")
}
