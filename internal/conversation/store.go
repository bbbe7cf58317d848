package conversation

import (
	"fmt"

	"firestige.xyz/convo/internal/core"
)

// EntryStore keeps entries in display order. Entries are appended, or
// inserted right after their request; they are only removed by Clear.
type EntryStore struct {
	entries []*Entry
}

func NewEntryStore() *EntryStore {
	return &EntryStore{}
}

// Append adds e at the end and returns its index.
func (s *EntryStore) Append(e *Entry) int {
	s.entries = append(s.entries, e)
	return len(s.entries) - 1
}

// InsertAfter places e immediately after anchor's current position, shifting
// later entries down by one, and returns e's index.
func (s *EntryStore) InsertAfter(anchor, e *Entry) (int, error) {
	idx := s.IndexOf(anchor)
	if idx < 0 {
		return -1, fmt.Errorf("insert after entry %d: %w", anchor.IncrID, core.ErrEntryNotFound)
	}
	pos := idx + 1
	s.entries = append(s.entries, nil)
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = e
	return pos, nil
}

// IndexOf returns the current index of e, or -1.
func (s *EntryStore) IndexOf(e *Entry) int {
	for i, cur := range s.entries {
		if cur == e {
			return i
		}
	}
	return -1
}

// Get returns the entry at index. An index outside [0, Len) is reported as
// core.ErrIndexOutOfRange.
func (s *EntryStore) Get(index int) (*Entry, error) {
	if index < 0 || index >= len(s.entries) {
		return nil, fmt.Errorf("get entry %d of %d: %w", index, len(s.entries), core.ErrIndexOutOfRange)
	}
	return s.entries[index], nil
}

// FindByID returns the entry with the given creation id, or nil.
func (s *EntryStore) FindByID(id uint64) (*Entry, int) {
	for i, e := range s.entries {
		if e.IncrID == id {
			return e, i
		}
	}
	return nil, -1
}

func (s *EntryStore) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the current order.
func (s *EntryStore) Entries() []*Entry {
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *EntryStore) Clear() {
	s.entries = nil
}
