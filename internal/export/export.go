// Package export writes captured payloads to files.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"firestige.xyz/convo/internal/conversation"
	"firestige.xyz/convo/internal/log"
)

// Exporter persists payload bytes and reports where they went.
type Exporter interface {
	ExportBytes(payload []byte, contentType, suggestedFilename string) (string, error)
}

const (
	defaultBaseName = "payload"
	maxNameAttempts = 1000
)

// DirExporter writes each export as a new file in one directory. Existing
// files are never overwritten; a numeric suffix is added instead.
type DirExporter struct {
	dir    string
	logger log.Logger
}

func NewDirExporter(dir string) *DirExporter {
	return &DirExporter{
		dir:    dir,
		logger: log.GetLogger().WithField("component", "export"),
	}
}

func (x *DirExporter) ExportBytes(payload []byte, contentType, suggestedFilename string) (string, error) {
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory %s: %w", x.dir, err)
	}

	base := baseName(suggestedFilename)
	ext := Extension(payload, contentType)

	for i := 0; i < maxNameAttempts; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		p := filepath.Join(x.dir, name)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", p, err)
		}
		if _, err := f.Write(payload); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write %s: %w", p, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to close %s: %w", p, err)
		}
		x.logger.WithFields(map[string]interface{}{
			"path":  p,
			"bytes": len(payload),
		}).Debug("payload exported")
		return p, nil
	}
	return "", fmt.Errorf("no free file name for %s%s in %s", base, ext, x.dir)
}

// Extension picks a file extension from the advertised content type, or
// from the payload itself when the type is missing or unknown.
func Extension(payload []byte, contentType string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if m := mimetype.Lookup(mt); m != nil && m.Extension() != "" {
				return m.Extension()
			}
		}
	}
	if ext := mimetype.Detect(payload).Extension(); ext != "" {
		return ext
	}
	return ".bin"
}

// baseName reduces a suggested name to a safe file stem.
func baseName(suggested string) string {
	name := filepath.Base(filepath.Clean("/" + suggested))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			return '_'
		default:
			return r
		}
	}, name)
	if name == "" || name == "." || name == "/" {
		return defaultBaseName
	}
	return name
}

var headerTerminator = []byte("\r\n\r\n")

// Body returns the bytes worth exporting from an entry: the message body
// for HTTP chunks, the whole payload otherwise.
func Body(e *conversation.Entry) []byte {
	payload := e.Chunk.Payload
	if e.Chunk.HTTP == nil {
		return payload
	}
	if i := bytes.Index(payload, headerTerminator); i >= 0 {
		return payload[i+len(headerTerminator):]
	}
	return payload
}

// SuggestedName derives a file stem from the request path, falling back
// to the entry id.
func SuggestedName(e *conversation.Entry) string {
	if m := e.Chunk.HTTP; m != nil && m.Path != "" {
		p := m.Path
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
		if name := path.Base(p); name != "/" && name != "." {
			return name
		}
	}
	return fmt.Sprintf("entry-%d", e.IncrID)
}

// Entry exports the body of e through x.
func Entry(x Exporter, e *conversation.Entry) (string, error) {
	return x.ExportBytes(Body(e), e.Chunk.ContentType(), SuggestedName(e))
}
