// Package core defines the data delivered by the reassembler with zero external dependencies.
package core

import "time"

// HTTPMeta is the optional HTTP metadata the reassembler attaches to a chunk.
type HTTPMeta struct {
	Proto       string // "HTTP/1.1", "HTTP/2"
	Method      string // requests only
	Path        string // requests only
	StatusCode  int    // replies only
	Status      string // reason phrase, replies only
	ContentType string
}

// IsJSON reports whether the chunk advertises a JSON body.
func (m *HTTPMeta) IsJSON() bool {
	return m != nil && IsJSONMediaType(m.ContentType)
}

// Chunk is one complete logical message produced by the reassembler.
// Chunks are immutable once delivered.
type Chunk struct {
	Payload   []byte
	IsSent    bool // client -> server
	Timestamp time.Time
	StreamID  uint32 // constant per connection for HTTP/1, real stream id for HTTP/2
	IsReset   bool   // stream abort, no payload
	HTTP      *HTTPMeta
}

// ContentType returns the advertised content type or "".
func (c *Chunk) ContentType() string {
	if c.HTTP == nil {
		return ""
	}
	return c.HTTP.ContentType
}

// Summary is a one-line label for the chunk (request line or status line).
func (c *Chunk) Summary() string {
	if c.HTTP == nil {
		if c.IsSent {
			return "sent"
		}
		return "received"
	}
	if c.IsSent {
		return c.HTTP.Method + " " + c.HTTP.Path
	}
	if c.HTTP.Status != "" {
		return c.HTTP.Status
	}
	return c.HTTP.Proto
}
