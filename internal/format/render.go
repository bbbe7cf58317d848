// Package format renders chunk payloads for display: a fixed-width hex dump
// or printable text, with optional JSON pretty printing of HTTP bodies.
package format

import (
	"strings"
	"unicode/utf8"

	"firestige.xyz/convo/internal/core"
	"firestige.xyz/convo/internal/metrics"
)

const (
	// HexBytesPerRow is the number of payload bytes shown on one dump row.
	HexBytesPerRow = 16

	// HexRowWidth is the byte length of one dump row including its newline:
	// 8 offset digits, 2 spaces, 16 "xx " groups, 1 space, 16 gutter chars, '\n'.
	HexRowWidth = 8 + 2 + HexBytesPerRow*3 + 1 + HexBytesPerRow + 1
)

const hexDigits = "0123456789abcdef"

// Render renders the first length bytes of payload. A negative length or one
// past the end renders the whole payload. Printable mode decodes UTF-8 and
// replaces invalid sequences with U+FFFD; hex mode produces HexRowWidth-sized
// rows so any multiple of HexRowWidth is a row boundary.
func Render(payload []byte, printable bool, length int) string {
	if length < 0 || length > len(payload) {
		length = len(payload)
	}
	data := payload[:length]

	var text string
	if printable {
		text = printableText(data)
		metrics.RenderBytes.WithLabelValues("printable").Observe(float64(len(text)))
	} else {
		text = HexDump(data)
		metrics.RenderBytes.WithLabelValues("hex").Observe(float64(len(text)))
	}
	return text
}

// RenderChunk renders a whole chunk. HTTP chunks in printable mode also go
// through FormatHTTPPayload.
func RenderChunk(c *core.Chunk, printable bool) string {
	text := Render(c.Payload, printable, -1)
	if printable && c.HTTP != nil {
		text = FormatHTTPPayload(text, c.HTTP.ContentType)
	}
	return text
}

// HexDumpLen is the length of HexDump(data) for len(data) == n.
func HexDumpLen(n int) int {
	rows := (n + HexBytesPerRow - 1) / HexBytesPerRow
	return rows * HexRowWidth
}

// HexDump renders data as offset, hex bytes and an ASCII gutter. The last row
// is padded so that every row has the same width.
func HexDump(data []byte) string {
	var sb strings.Builder
	sb.Grow(HexDumpLen(len(data)))

	for off := 0; off < len(data); off += HexBytesPerRow {
		end := off + HexBytesPerRow
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]

		for shift := 28; shift >= 0; shift -= 4 {
			sb.WriteByte(hexDigits[(off>>shift)&0xf])
		}
		sb.WriteString("  ")

		for i := 0; i < HexBytesPerRow; i++ {
			if i < len(row) {
				sb.WriteByte(hexDigits[row[i]>>4])
				sb.WriteByte(hexDigits[row[i]&0xf])
				sb.WriteByte(' ')
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteByte(' ')

		for i := 0; i < HexBytesPerRow; i++ {
			switch {
			case i >= len(row):
				sb.WriteByte(' ')
			case row[i] >= 0x20 && row[i] < 0x7f:
				sb.WriteByte(row[i])
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func printableText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
