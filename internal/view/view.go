// Package view prints connections and conversation pages as plain text.
package view

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"firestige.xyz/convo/internal/capture"
	"firestige.xyz/convo/internal/conversation"
)

// MinWidth is the narrowest summary column.
const MinWidth = 20

// Connections lists each connection on one line.
func Connections(w io.Writer, conns []*capture.Connection) error {
	if len(conns) == 0 {
		_, err := fmt.Fprintln(w, "no conversations")
		return err
	}
	for _, c := range conns {
		conv := c.Conversation
		if _, err := fmt.Fprintf(w, "%s  entries=%d pending=%d\n", c.Header(), conv.Len(), conv.PendingLen()); err != nil {
			return err
		}
	}
	return nil
}

// Entries lists the entries of conv in display order, one per line.
func Entries(w io.Writer, conv *conversation.Conversation, width int) error {
	printable := conv.Printable()
	for i, e := range conv.Entries() {
		dir := "<-"
		if e.Chunk.IsSent {
			dir = "->"
		}
		marker := " "
		switch {
		case e.Expanded():
			marker = "-"
		case e.Expandable(printable):
			marker = "+"
		}
		_, err := fmt.Fprintf(w, "%4d %s id=%-4d stream=%-5d %s %s pages=%d bytes=%d\n",
			i, marker, e.IncrID, e.Chunk.StreamID, dir,
			pad(e.Chunk.Summary(), width), e.NumPages(), len(e.Chunk.Payload))
		if err != nil {
			return err
		}
	}
	return nil
}

// Page writes one flat page with a separator line naming its entry.
func Page(w io.Writer, conv *conversation.Conversation, flat int) error {
	p, text, err := conv.Page(flat)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "--- page %d/%d | entry %d id=%d %s | %d/%d\n",
		flat+1, conv.TotalPages(), p.EntryIndex, p.Entry.IncrID, p.Entry.Chunk.Summary(),
		p.Index+1, p.Entry.NumPages())
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, text); err != nil {
		return err
	}
	if p.Last && p.Entry.Expandable(conv.Printable()) && !p.Entry.Expanded() {
		if _, err := fmt.Fprintf(w, "\n... %d more bytes, expand id=%d\n",
			p.Entry.TextLen(conv.Printable())-len(text), p.Entry.IncrID); err != nil {
			return err
		}
		return nil
	}
	if !strings.HasSuffix(text, "\n") {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// All writes every page of conv in order.
func All(w io.Writer, conv *conversation.Conversation) error {
	total := conv.TotalPages()
	for flat := 0; flat < total; flat++ {
		if err := Page(w, conv, flat); err != nil {
			return err
		}
	}
	return nil
}

// pad fits s into exactly width runes.
func pad(s string, width int) string {
	if width < MinWidth {
		width = MinWidth
	}
	s = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return ' '
		}
		return r
	}, s)
	n := utf8.RuneCountInString(s)
	if n > width {
		runes := []rune(s)
		return string(runes[:width-3]) + "..."
	}
	return s + strings.Repeat(" ", width-n)
}
