// Package conversation orders reassembled HTTP messages into a conversation
// view and pages their rendered text.
package conversation

import (
	"sync"
	"unicode/utf8"

	"firestige.xyz/convo/internal/core"
	"firestige.xyz/convo/internal/format"
)

const (
	// CollapseChunkSize is the most text a collapsed entry displays. Only
	// entries whose text is longer can be expanded.
	CollapseChunkSize = 1500

	// PageSize is the text size of one page. It is a whole number of hex dump
	// rows so that pages never split a row.
	PageSize = 64 * format.HexRowWidth
)

// Entry wraps one delivered chunk with its presentation state.
type Entry struct {
	Chunk  core.Chunk
	IncrID uint64

	// mu guards everything below. expanded and numPages additionally change
	// only under the Conversation write lock, so the page model may read
	// them under the read lock alone.
	mu        sync.Mutex
	expanded  bool
	numPages  int
	dirty     bool
	printable bool
	textLen   int
	preview   string // at most CollapseChunkSize bytes
	full      string // kept only while expanded
	bounds    []int  // page start offsets into full
}

func newEntry(chunk core.Chunk, id uint64) *Entry {
	return &Entry{
		Chunk:    chunk,
		IncrID:   id,
		numPages: 1,
		dirty:    true,
	}
}

// Expanded reports whether the entry shows its full text.
func (e *Entry) Expanded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expanded
}

// NumPages is 1 while collapsed, ceil(textLen/PageSize) while expanded.
func (e *Entry) NumPages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numPages
}

// TextLen is the length of the full rendered text in the given mode.
func (e *Entry) TextLen(printable bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLocked(printable)
	return e.textLen
}

// Expandable reports whether the full text exceeds CollapseChunkSize.
func (e *Entry) Expandable(printable bool) bool {
	return e.TextLen(printable) > CollapseChunkSize
}

// Text returns the text currently displayed: the full text while expanded,
// otherwise at most CollapseChunkSize bytes of it.
func (e *Entry) Text(printable bool) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLocked(printable)
	if e.expanded {
		return e.full
	}
	return e.preview
}

// pageText returns the text of page p (0-based within the entry) and its
// byte range in the full text.
func (e *Entry) pageText(printable bool, p int) (string, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLocked(printable)
	if !e.expanded {
		return e.preview, 0, len(e.preview)
	}
	if p < 0 || p >= len(e.bounds) {
		return "", len(e.full), len(e.full)
	}
	start, end := e.bounds[p], len(e.full)
	if p+1 < len(e.bounds) {
		end = e.bounds[p+1]
	}
	return e.full[start:end], start, end
}

// ensureLocked renders the text if the cache is dirty or was built for the
// other display mode.
func (e *Entry) ensureLocked(printable bool) {
	if !e.dirty && e.printable == printable {
		return
	}
	full := format.RenderChunk(&e.Chunk, printable)
	e.printable = printable
	e.textLen = len(full)
	e.preview = truncate(full, CollapseChunkSize, printable)
	if e.expanded {
		e.full = full
		e.bounds = pageBounds(full, printable)
	} else {
		e.full = ""
		e.bounds = nil
	}
	e.dirty = false
}

// expand switches to the full text. Caller holds the Conversation write lock.
func (e *Entry) expand(printable bool) (added int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLocked(printable)
	if e.textLen <= CollapseChunkSize {
		return 0, core.ErrNotExpandable
	}
	if e.expanded {
		return 0, nil
	}
	e.expanded = true
	e.dirty = true
	e.ensureLocked(printable)

	pages := len(e.bounds)
	added = pages - e.numPages
	e.numPages = pages
	return added, nil
}

// collapse drops the full text. Caller holds the Conversation write lock.
func (e *Entry) collapse() (removed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed = e.numPages - 1
	e.expanded = false
	e.full = ""
	e.bounds = nil
	e.numPages = 1
	return removed
}

// invalidate marks the cache dirty and collapses the entry; used when the
// display mode changes, since page boundaries depend on the rendered text.
func (e *Entry) invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expanded = false
	e.numPages = 1
	e.full = ""
	e.bounds = nil
	e.preview = ""
	e.dirty = true
}

// cut returns the largest offset <= n that does not split a rune of text
// or a row of a hex dump.
func cut(s string, n int, printable bool) int {
	if n >= len(s) {
		return len(s)
	}
	if !printable {
		return n - n%format.HexRowWidth
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// truncate cuts s to at most n bytes on a rune or row boundary.
func truncate(s string, n int, printable bool) string {
	return s[:cut(s, n, printable)]
}

// pageBounds splits s into pages of at most PageSize bytes and returns the
// start offset of each. Text pages end on rune boundaries, so a page may be
// a few bytes short.
func pageBounds(s string, printable bool) []int {
	bounds := []int{0}
	for start := 0; ; {
		end := cut(s, start+PageSize, printable)
		if end <= start || end >= len(s) {
			return bounds
		}
		bounds = append(bounds, end)
		start = end
	}
}
