package conversation

import (
	"fmt"

	"firestige.xyz/convo/internal/core"
)

// Page addresses one page of one entry.
type Page struct {
	Entry      *Entry
	EntryIndex int // position of Entry in the store
	Index      int // page number within the entry
	Start, End int // byte range in the entry's full text
	First      bool
	Last       bool
}

// PageModel maps flat page indexes (0..TotalPages) onto entries. Each entry
// contributes NumPages pages in store order.
type PageModel struct {
	store *EntryStore
}

func NewPageModel(store *EntryStore) *PageModel {
	return &PageModel{store: store}
}

// TotalPages sums the page counts of all entries.
func (pm *PageModel) TotalPages() int {
	total := 0
	for _, e := range pm.store.entries {
		total += e.numPages
	}
	return total
}

// FirstPage returns the flat index of the first page of the entry at
// entryIndex.
func (pm *PageModel) FirstPage(entryIndex int) (int, error) {
	if entryIndex < 0 || entryIndex >= len(pm.store.entries) {
		return -1, fmt.Errorf("first page of entry %d: %w", entryIndex, core.ErrIndexOutOfRange)
	}
	flat := 0
	for _, e := range pm.store.entries[:entryIndex] {
		flat += e.numPages
	}
	return flat, nil
}

// Lookup resolves a flat page index by scanning entries and accumulating
// page counts. The byte range is filled in by the caller once the entry's
// text is known.
func (pm *PageModel) Lookup(flat int) (Page, error) {
	if flat >= 0 {
		base := 0
		for i, e := range pm.store.entries {
			if flat < base+e.numPages {
				idx := flat - base
				return Page{
					Entry:      e,
					EntryIndex: i,
					Index:      idx,
					First:      idx == 0,
					Last:       idx == e.numPages-1,
				}, nil
			}
			base += e.numPages
		}
	}
	return Page{}, fmt.Errorf("lookup page %d of %d: %w", flat, pm.TotalPages(), core.ErrPageOutOfRange)
}
