package conversation

// Listener receives ordered change notifications so a presentation layer
// can update incrementally. Calls are synchronous and made while the
// Conversation write lock is held: a Listener must not call back into the
// Conversation.
type Listener interface {
	// EntryInsertedAt reports a new single-page entry at flatPage.
	EntryInsertedAt(flatPage int)
	// EntryRangeInsertedAfter reports count pages added after flatPage.
	EntryRangeInsertedAfter(flatPage, count int)
	// EntryRangeRemovedAfter reports count pages removed after flatPage.
	EntryRangeRemovedAfter(flatPage, count int)
	// Invalidated reports that every page changed (display mode toggle).
	Invalidated()
	// Cleared reports that the conversation is now empty.
	Cleared()
}

// NopListener ignores all notifications.
type NopListener struct{}

func (NopListener) EntryInsertedAt(int)              {}
func (NopListener) EntryRangeInsertedAfter(int, int) {}
func (NopListener) EntryRangeRemovedAfter(int, int)  {}
func (NopListener) Invalidated()                     {}
func (NopListener) Cleared()                         {}
