package conversation

import (
	"firestige.xyz/convo/internal/core"
)

// Outcome is the matcher's decision for one chunk.
type Outcome int

const (
	// OutcomeRequest: a new pending request appended at the end.
	OutcomeRequest Outcome = iota
	// OutcomeReply: a reply inserted right after its request.
	OutcomeReply
	// OutcomeOrphan: a reply with no pending request, appended at the end.
	OutcomeOrphan
	// OutcomeReset: a reset that consumed the oldest pending request.
	OutcomeReset
	// OutcomeResetDropped: a reset with nothing pending; no effect.
	OutcomeResetDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRequest:
		return "request"
	case OutcomeReply:
		return "reply"
	case OutcomeOrphan:
		return "orphan"
	case OutcomeReset:
		return "reset"
	case OutcomeResetDropped:
		return "reset_dropped"
	default:
		return "unknown"
	}
}

// MatchOutcome describes what Submit did with a chunk.
type MatchOutcome struct {
	Outcome Outcome
	// Entry is the entry created for the chunk; nil for resets.
	Entry *Entry
	// Request is the matched request for replies, or the consumed request
	// for resets.
	Request *Entry
	// Index is the store position of Entry, -1 when nothing was inserted.
	Index int
}

// Inserted reports whether the chunk produced a visible entry.
func (m MatchOutcome) Inserted() bool {
	return m.Index >= 0
}

// StreamMatcher correlates requests and replies by stream id with a FIFO per
// id. It is not safe for concurrent use; Conversation serializes access.
type StreamMatcher struct {
	store   *EntryStore
	pending *PendingMap
	nextID  uint64
}

func NewStreamMatcher() *StreamMatcher {
	return &StreamMatcher{
		store:   NewEntryStore(),
		pending: NewPendingMap(),
	}
}

func (m *StreamMatcher) Store() *EntryStore { return m.store }

func (m *StreamMatcher) Pending() *PendingMap { return m.pending }

// Submit processes one chunk in delivery order.
func (m *StreamMatcher) Submit(chunk core.Chunk) MatchOutcome {
	if chunk.IsReset {
		req, ok := m.pending.Pop(chunk.StreamID)
		if !ok {
			return MatchOutcome{Outcome: OutcomeResetDropped, Index: -1}
		}
		return MatchOutcome{Outcome: OutcomeReset, Request: req, Index: -1}
	}

	e := newEntry(chunk, m.nextID)
	m.nextID++

	if chunk.IsSent {
		m.pending.Push(chunk.StreamID, e)
		return MatchOutcome{Outcome: OutcomeRequest, Entry: e, Index: m.store.Append(e)}
	}

	req, ok := m.pending.Pop(chunk.StreamID)
	if ok {
		if idx, err := m.store.InsertAfter(req, e); err == nil {
			return MatchOutcome{Outcome: OutcomeReply, Entry: e, Request: req, Index: idx}
		}
		// Pending requests always live in the store; treat a miss as an orphan.
	}
	return MatchOutcome{Outcome: OutcomeOrphan, Entry: e, Index: m.store.Append(e)}
}
