package conversation

import (
	"context"
	"fmt"
	"sync"

	"firestige.xyz/convo/internal/core"
	"firestige.xyz/convo/internal/log"
	"firestige.xyz/convo/internal/metrics"
)

// Conversation is the unit of ordering state for one connection: the
// matcher, its pending map and entry store, plus the page model over them.
// One RWMutex guards all of it. Delivery, expand/collapse, mode changes and
// Clear are writers; page and entry reads are readers.
type Conversation struct {
	mu        sync.RWMutex
	matcher   *StreamMatcher
	pages     *PageModel
	printable bool
	listener  Listener
	logger    log.Logger
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithListener sets the change listener.
func WithListener(l Listener) Option {
	return func(c *Conversation) {
		if l != nil {
			c.listener = l
		}
	}
}

// WithPrintable sets the initial display mode (printable text vs hex dump).
func WithPrintable(printable bool) Option {
	return func(c *Conversation) { c.printable = printable }
}

// WithName tags log lines with the conversation name.
func WithName(name string) Option {
	return func(c *Conversation) { c.logger = c.logger.WithField("conversation", name) }
}

func New(opts ...Option) *Conversation {
	c := &Conversation{
		printable: true,
		listener:  NopListener{},
		logger:    log.GetLogger(),
	}
	c.reset()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conversation) reset() {
	c.matcher = NewStreamMatcher()
	c.pages = NewPageModel(c.matcher.Store())
}

// Submit hands one chunk to the matcher and notifies the listener of the
// resulting insertion, if any.
func (c *Conversation) Submit(chunk core.Chunk) MatchOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.matcher.Submit(chunk)
	metrics.MatchOutcomesTotal.WithLabelValues(out.Outcome.String()).Inc()

	switch out.Outcome {
	case OutcomeRequest:
		metrics.PendingRequests.Inc()
	case OutcomeReply, OutcomeReset:
		metrics.PendingRequests.Dec()
	case OutcomeOrphan:
		c.logger.WithField("stream", chunk.StreamID).Debug("orphan reply appended")
	case OutcomeResetDropped:
		c.logger.WithField("stream", chunk.StreamID).Debug("reset without pending request dropped")
	}

	if out.Inserted() {
		flat, err := c.pages.FirstPage(out.Index)
		if err == nil {
			c.listener.EntryInsertedAt(flat)
		}
	}
	return out
}

// OnChunkReady is the reassembler callback; it is Submit.
func (c *Conversation) OnChunkReady(chunk core.Chunk) {
	c.Submit(chunk)
}

// Run submits chunks from ch until it is closed or ctx is done.
func (c *Conversation) Run(ctx context.Context, ch <-chan core.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return nil
			}
			c.Submit(chunk)
		}
	}
}

// Clear drops every entry and pending request in one swap.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.PendingRequests.Sub(float64(c.matcher.Pending().Len()))
	c.reset()
	c.listener.Cleared()
}

// Expand shows all pages of the entry at index.
func (c *Conversation) Expand(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.matcher.Store().Get(index)
	if err != nil {
		return err
	}
	return c.expandLocked(index, e)
}

// Collapse reduces the entry at index to its single preview page.
func (c *Conversation) Collapse(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.matcher.Store().Get(index)
	if err != nil {
		return err
	}
	return c.collapseLocked(index, e)
}

// Toggle expands a collapsed entry or collapses an expanded one.
func (c *Conversation) Toggle(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.matcher.Store().Get(index)
	if err != nil {
		return err
	}
	if e.Expanded() {
		return c.collapseLocked(index, e)
	}
	return c.expandLocked(index, e)
}

func (c *Conversation) expandLocked(index int, e *Entry) error {
	first, err := c.pages.FirstPage(index)
	if err != nil {
		return err
	}
	added, err := e.expand(c.printable)
	if err != nil {
		return fmt.Errorf("expand entry %d: %w", e.IncrID, err)
	}
	if added > 0 {
		c.listener.EntryRangeInsertedAfter(first, added)
	}
	return nil
}

func (c *Conversation) collapseLocked(index int, e *Entry) error {
	first, err := c.pages.FirstPage(index)
	if err != nil {
		return err
	}
	if removed := e.collapse(); removed > 0 {
		c.listener.EntryRangeRemovedAfter(first, removed)
	}
	return nil
}

// SetPrintable switches between printable text and hex dump. Every cached
// text is dropped and every entry collapses.
func (c *Conversation) SetPrintable(printable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.printable == printable {
		return
	}
	c.printable = printable
	for _, e := range c.matcher.Store().entries {
		e.invalidate()
	}
	c.listener.Invalidated()
}

func (c *Conversation) Printable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.printable
}

// Len is the number of entries.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matcher.Store().Len()
}

// PendingLen is the number of requests waiting for a reply.
func (c *Conversation) PendingLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matcher.Pending().Len()
}

// Entry returns the entry at index.
func (c *Conversation) Entry(index int) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matcher.Store().Get(index)
}

// EntryByID returns the entry with the given creation id and its index.
func (c *Conversation) EntryByID(id uint64) (*Entry, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, idx := c.matcher.Store().FindByID(id)
	if e == nil {
		return nil, -1, fmt.Errorf("entry id %d: %w", id, core.ErrEntryNotFound)
	}
	return e, idx, nil
}

// Entries returns a snapshot of the display order.
func (c *Conversation) Entries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matcher.Store().Entries()
}

// TotalPages is the number of flat pages across all entries.
func (c *Conversation) TotalPages() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pages.TotalPages()
}

// Page resolves a flat page index and renders its text. A stale or invalid
// index returns core.ErrPageOutOfRange.
func (c *Conversation) Page(flat int) (Page, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, err := c.pages.Lookup(flat)
	if err != nil {
		return Page{}, "", err
	}
	text, start, end := p.Entry.pageText(c.printable, p.Index)
	p.Start, p.End = start, end
	return p, text, nil
}
