package pipeline

import (
	"fmt"
	"time"

	"github.com/jackzampolin/pdfmark/internal/store"
)

// Snapshot is the orchestrator's view of one document. Snapshots are never
// mutated; every transition returns a new one.
type Snapshot struct {
	Document store.Document
	Pages    []store.Page // indexed by page index
}

func newSnapshot(doc store.Document, pages []store.Page) Snapshot {
	all := make([]store.Page, doc.PageCount)
	for i := range all {
		all[i] = store.Page{DocumentID: doc.ID, Index: i, Status: store.PageCreated}
	}
	for _, p := range pages {
		if p.Index >= 0 && p.Index < len(all) {
			all[p.Index] = p
		}
	}
	return Snapshot{Document: doc, Pages: all}
}

func (s Snapshot) withPage(p store.Page) Snapshot {
	pages := make([]store.Page, len(s.Pages))
	copy(pages, s.Pages)
	pages[p.Index] = p
	return Snapshot{Document: s.Document, Pages: pages}
}

func (s Snapshot) withDocument(doc store.Document) Snapshot {
	return Snapshot{Document: doc, Pages: s.Pages}
}

// pageRank orders the non-terminal page states by progress.
var pageRank = map[store.PageStatus]int{
	store.PageCreated:       0,
	store.PageRendering:     1,
	store.PagePreprocessing: 2,
	store.PageExtracting:    3,
	store.PageReconciling:   4,
}

var docRank = map[store.DocumentStatus]int{
	store.DocCreated:       0,
	store.DocRendering:     1,
	store.DocPreprocessing: 2,
	store.DocExtracting:    3,
	store.DocReconciling:   4,
	store.DocAssembling:    5,
}

// transitionPage validates and applies a page status change. Pages move
// forward one step at a time; failed and cancelled are reachable from any
// non-terminal state, and rendering restarts an interrupted page.
func transitionPage(p store.Page, to store.PageStatus, now time.Time) (store.Page, error) {
	if p.Status.Terminal() {
		return p, fmt.Errorf("page %d: %w: %s -> %s", p.Index, ErrInvalidTransition, p.Status, to)
	}
	ok := false
	switch to {
	case store.PageFailed, store.PageCancelled, store.PageRendering:
		ok = true
	case store.PagePreprocessing:
		ok = p.Status == store.PageRendering
	case store.PageExtracting:
		ok = p.Status == store.PagePreprocessing
	case store.PageReconciling:
		ok = p.Status == store.PageExtracting
	case store.PageAssembled:
		ok = p.Status == store.PageReconciling
	}
	if !ok {
		return p, fmt.Errorf("page %d: %w: %s -> %s", p.Index, ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = now
	return p, nil
}

// runningStatus is the document status implied by pages still in flight:
// the least advanced of them. It never moves the document backwards, so a
// resumed page that restarts at rendering does not regress the document.
// The second result is false once every page is terminal.
func runningStatus(current store.DocumentStatus, pages []store.Page) (store.DocumentStatus, bool) {
	least, pending := -1, false
	for _, p := range pages {
		if p.Status.Terminal() {
			continue
		}
		pending = true
		if r := pageRank[p.Status]; least < 0 || r < least {
			least = r
		}
	}
	if !pending {
		return current, false
	}

	var derived store.DocumentStatus
	switch least {
	case 0, 1:
		derived = store.DocRendering
	case 2:
		derived = store.DocPreprocessing
	case 3:
		derived = store.DocExtracting
	default:
		derived = store.DocReconciling
	}
	if docRank[derived] < docRank[current] {
		return current, true
	}
	return derived, true
}

// finalStatus is the terminal status of a document whose pages are all
// terminal.
func finalStatus(pages []store.Page) store.DocumentStatus {
	assembled, failed := 0, 0
	for _, p := range pages {
		switch p.Status {
		case store.PageAssembled:
			assembled++
		case store.PageFailed:
			failed++
		}
	}
	switch {
	case len(pages) == 0 || assembled == 0:
		return store.DocFailed
	case failed > 0:
		return store.DocPartiallyFailed
	default:
		return store.DocComplete
	}
}
