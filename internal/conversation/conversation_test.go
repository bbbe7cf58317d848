package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/convo/internal/core"
	"firestige.xyz/convo/internal/format"
)

func TestConversation_InsertNotifications(t *testing.T) {
	rec := &recordingListener{}
	c := New(WithListener(rec))

	c.Submit(request(1, "A"))
	c.Submit(request(3, "B"))
	c.Submit(reply(3, "B"))
	c.Submit(reply(1, "A"))
	c.Submit(reset(5))

	assert.Equal(t, []event{
		{"insert", 0, 1},
		{"insert", 1, 1},
		{"insert", 2, 1},
		{"insert", 1, 1},
	}, rec.snapshot())
	assert.Equal(t, []string{"reqA", "resA", "reqB", "resB"}, labels(c.Entries()))
}

func TestConversation_InsertAfterExpandedEntryUsesFlatPages(t *testing.T) {
	rec := &recordingListener{}
	c := New(WithListener(rec))

	c.Submit(raw(true, 10000)) // stream 0 request, 3 pages when expanded
	require.NoError(t, c.Expand(0))
	c.Submit(raw(false, 10)) // its reply

	evs := rec.snapshot()
	require.Len(t, evs, 3)
	assert.Equal(t, event{"range_insert", 0, 2}, evs[1])
	assert.Equal(t, event{"insert", 3, 1}, evs[2])
	assert.Equal(t, 4, c.TotalPages())
}

func TestConversation_ExpandPagesCoverText(t *testing.T) {
	c := New()
	c.Submit(raw(true, 10000))

	e, err := c.Entry(0)
	require.NoError(t, err)
	full := format.RenderChunk(&e.Chunk, true)

	_, text, err := c.Page(0)
	require.NoError(t, err)
	assert.Equal(t, full[:CollapseChunkSize], text, "collapsed entry shows a preview")
	assert.Equal(t, 1, c.TotalPages())

	require.NoError(t, c.Expand(0))
	require.Equal(t, 3, c.TotalPages())

	var sb strings.Builder
	for i := 0; i < c.TotalPages(); i++ {
		p, text, err := c.Page(i)
		require.NoError(t, err)
		assert.Equal(t, i, p.Index)
		assert.Equal(t, i == 0, p.First)
		assert.Equal(t, i == 2, p.Last)
		assert.Equal(t, i*PageSize, p.Start)
		assert.Equal(t, p.End-p.Start, len(text))
		sb.WriteString(text)
	}
	assert.Equal(t, full, sb.String())
}

func TestConversation_CollapseExpandRoundTrip(t *testing.T) {
	rec := &recordingListener{}
	c := New(WithListener(rec))
	c.Submit(raw(false, 12000))

	require.NoError(t, c.Expand(0))
	e, _ := c.Entry(0)
	before := e.Text(true)

	require.NoError(t, c.Collapse(0))
	assert.Equal(t, 1, c.TotalPages())
	assert.Len(t, e.Text(true), CollapseChunkSize)

	require.NoError(t, c.Toggle(0))
	assert.True(t, e.Expanded())
	assert.Equal(t, before, e.Text(true))

	evs := rec.snapshot()
	assert.Contains(t, evs, event{"range_remove", 0, 2})
}

func TestConversation_ShortEntryNotExpandable(t *testing.T) {
	c := New()
	c.Submit(request(1, "a"))

	err := c.Expand(0)
	assert.True(t, errors.Is(err, core.ErrNotExpandable))
	assert.Equal(t, 1, c.TotalPages())

	// Collapsing an already collapsed entry is a no-op.
	assert.NoError(t, c.Collapse(0))
}

func TestConversation_ModeToggleCollapsesAll(t *testing.T) {
	rec := &recordingListener{}
	c := New(WithListener(rec))
	c.Submit(raw(true, 10000))
	c.Submit(raw(false, 3000))
	require.NoError(t, c.Expand(0))
	require.NoError(t, c.Expand(1))

	c.SetPrintable(false)
	assert.False(t, c.Printable())
	assert.Equal(t, 2, c.TotalPages())
	assert.Equal(t, event{kind: "invalidated"}, rec.snapshot()[len(rec.snapshot())-1])

	// Hex pages are row aligned.
	require.NoError(t, c.Expand(0))
	e, _ := c.Entry(0)
	wantPages := (format.HexDumpLen(10000) + PageSize - 1) / PageSize
	assert.Equal(t, wantPages, e.NumPages())

	_, text, err := c.Page(1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "00000400  "), "got %q", text[:20])

	// Setting the same mode again does nothing.
	n := len(rec.snapshot())
	c.SetPrintable(false)
	assert.Len(t, rec.snapshot(), n)
}

func TestConversation_HexPreviewEndsOnRow(t *testing.T) {
	c := New(WithPrintable(false))
	c.Submit(raw(true, 2000))

	_, text, err := c.Page(0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(text), CollapseChunkSize)
	assert.Zero(t, len(text)%format.HexRowWidth, "preview length %d", len(text))
	assert.True(t, strings.HasSuffix(text, "\n"))
}

func TestConversation_TextPagesKeepRunesWhole(t *testing.T) {
	payload := "x" + strings.Repeat("é", PageSize)
	c := New()
	c.Submit(core.Chunk{Payload: []byte(payload), IsSent: true})
	require.NoError(t, c.Expand(0))

	total := c.TotalPages()
	require.Equal(t, 3, total)

	var sb strings.Builder
	prevEnd := 0
	for i := 0; i < total; i++ {
		p, text, err := c.Page(i)
		require.NoError(t, err)
		assert.True(t, utf8.ValidString(text), "page %d is not valid UTF-8", i)
		assert.LessOrEqual(t, len(text), PageSize)
		assert.Equal(t, prevEnd, p.Start)
		prevEnd = p.End
		sb.WriteString(text)
	}
	assert.Equal(t, payload, sb.String())
}

func TestConversation_ToggleResolvesIndexOnce(t *testing.T) {
	c := New()
	c.Submit(request(1, "a"))
	c.Submit(raw(true, 10000)) // index 1, stream 0

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			err := c.Toggle(1)
			if err != nil && !errors.Is(err, core.ErrNotExpandable) {
				t.Errorf("toggle: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		// Pushes the large entry from index 1 to 2.
		c.Submit(reply(1, "a"))
	}()
	wg.Wait()

	sum := 0
	for _, e := range c.Entries() {
		assert.Equal(t, e.Expanded(), e.NumPages() > 1)
		sum += e.NumPages()
	}
	assert.Equal(t, sum, c.TotalPages())

	// The short reply now sits at index 1 and cannot be toggled open.
	assert.ErrorIs(t, c.Toggle(1), core.ErrNotExpandable)
	e, err := c.Entry(1)
	require.NoError(t, err)
	assert.False(t, e.Expanded())
}

func TestConversation_OutOfRange(t *testing.T) {
	c := New()
	c.Submit(request(1, "a"))

	_, err := c.Entry(3)
	assert.True(t, errors.Is(err, core.ErrIndexOutOfRange))

	_, _, err = c.Page(1)
	assert.True(t, errors.Is(err, core.ErrPageOutOfRange))

	_, _, err = c.Page(-1)
	assert.True(t, errors.Is(err, core.ErrPageOutOfRange))

	assert.True(t, errors.Is(c.Expand(2), core.ErrIndexOutOfRange))
	assert.True(t, errors.Is(c.Toggle(2), core.ErrIndexOutOfRange))

	_, _, err = c.EntryByID(99)
	assert.True(t, errors.Is(err, core.ErrEntryNotFound))
}

func TestConversation_ClearResetsEverything(t *testing.T) {
	rec := &recordingListener{}
	c := New(WithListener(rec))
	c.Submit(request(1, "a"))
	c.Submit(request(3, "b"))
	require.Equal(t, 2, c.PendingLen())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.PendingLen())
	assert.Equal(t, 0, c.TotalPages())
	assert.Equal(t, event{kind: "cleared"}, rec.snapshot()[2])

	out := c.Submit(reply(1, "a"))
	assert.Equal(t, OutcomeOrphan, out.Outcome)
	assert.Equal(t, uint64(0), out.Entry.IncrID, "ids restart with the new state")
}

func TestConversation_RunFromChannel(t *testing.T) {
	c := New()
	ch := make(chan core.Chunk, 4)
	ch <- request(1, "A")
	ch <- request(3, "B")
	ch <- reply(3, "B")
	ch <- reply(1, "A")
	close(ch)

	require.NoError(t, c.Run(context.Background(), ch))
	assert.Equal(t, []string{"reqA", "resA", "reqB", "resB"}, labels(c.Entries()))
}

func TestConversation_RunStopsOnCancel(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan core.Chunk)) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConversation_ConcurrentReadersDuringDelivery(t *testing.T) {
	c := New()
	const n = 300

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				total := c.TotalPages()
				if total == 0 {
					continue
				}
				// Entries are only ever added, so a page seen once stays valid.
				if _, _, err := c.Page(total - 1); err != nil {
					t.Errorf("page %d: %v", total-1, err)
					return
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		stream := uint32(i % 7)
		c.Submit(request(stream, "x"))
		if i%2 == 0 {
			c.Submit(reply(stream, "x"))
		}
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, n+n/2, c.Len())
	assert.Equal(t, n/2, c.PendingLen())
}
