package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type pageKey struct {
	doc   string
	index int
}

type regionKey struct {
	doc    string
	page   int
	region int
}

// MemoryStore keeps everything in maps. It is used by tests and by the
// "memory" driver, where resume across restarts is not needed.
// Error injection fields let tests exercise failure paths.
type MemoryStore struct {
	mu sync.RWMutex

	docs    map[string]Document
	order   []string
	pages   map[pageKey]Page
	regions map[regionKey]Region

	// history records every status written for a document, in write order
	history map[string][]DocumentStatus
	writes  int

	// --- Error injection fields for testing ---

	// CreateErr is returned by CreateDocument when non-nil
	CreateErr error
	// UpdateErr is returned by UpdateDocument when non-nil
	UpdateErr error
	// UpsertPageErr is returned by UpsertPage when non-nil
	UpsertPageErr error
	// UpsertRegionErr is returned by UpsertRegion when non-nil
	UpsertRegionErr error
	// DeleteErr is returned by DeleteDocument when non-nil
	DeleteErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]Document),
		pages:   make(map[pageKey]Page),
		regions: make(map[regionKey]Region),
		history: make(map[string][]DocumentStatus),
	}
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("document %s: %w", doc.ID, ErrExists)
	}
	m.docs[doc.ID] = doc
	m.order = append(m.order, doc.ID)
	m.history[doc.ID] = append(m.history[doc.ID], doc.Status)
	m.writes++
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

func (m *MemoryStore) UpdateDocument(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if _, ok := m.docs[doc.ID]; !ok {
		return fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
	}
	m.docs[doc.ID] = doc
	m.history[doc.ID] = append(m.history[doc.ID], doc.Status)
	m.writes++
	return nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, nonTerminalOnly bool) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.order))
	for _, id := range m.order {
		doc := m.docs[id]
		if nonTerminalOnly && doc.Status.Terminal() {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (m *MemoryStore) UpsertPage(_ context.Context, page Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertPageErr != nil {
		return m.UpsertPageErr
	}
	if _, ok := m.docs[page.DocumentID]; !ok {
		return fmt.Errorf("document %s: %w", page.DocumentID, ErrNotFound)
	}
	m.pages[pageKey{page.DocumentID, page.Index}] = page
	m.writes++
	return nil
}

func (m *MemoryStore) GetPage(_ context.Context, docID string, index int) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[pageKey{docID, index}]
	if !ok {
		return Page{}, fmt.Errorf("page %s/%d: %w", docID, index, ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) ListPages(_ context.Context, docID string) ([]Page, error) {
	return m.listPages(docID, false), nil
}

func (m *MemoryStore) ListNonTerminalPages(_ context.Context, docID string) ([]Page, error) {
	return m.listPages(docID, true), nil
}

func (m *MemoryStore) listPages(docID string, nonTerminalOnly bool) []Page {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Page
	for k, p := range m.pages {
		if k.doc != docID || (nonTerminalOnly && p.Status.Terminal()) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (m *MemoryStore) UpsertRegion(_ context.Context, region Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertRegionErr != nil {
		return m.UpsertRegionErr
	}
	if _, ok := m.docs[region.DocumentID]; !ok {
		return fmt.Errorf("document %s: %w", region.DocumentID, ErrNotFound)
	}
	m.regions[regionKey{region.DocumentID, region.PageIndex, region.Index}] = copyRegion(region)
	m.writes++
	return nil
}

func (m *MemoryStore) ListRegions(_ context.Context, docID string, pageIndex int) ([]Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Region
	for k, r := range m.regions {
		if k.doc == docID && k.page == pageIndex {
			out = append(out, copyRegion(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	delete(m.docs, id)
	delete(m.history, id)
	for i, d := range m.order {
		if d == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for k := range m.pages {
		if k.doc == id {
			delete(m.pages, k)
		}
	}
	for k := range m.regions {
		if k.doc == id {
			delete(m.regions, k)
		}
	}
	m.writes++
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// StatusHistory returns every status written for a document, oldest first.
func (m *MemoryStore) StatusHistory(id string) []DocumentStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]DocumentStatus(nil), m.history[id]...)
}

// Writes returns the number of successful write calls.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func copyRegion(r Region) Region {
	if r.OCRText != nil {
		r.OCRText = Str(*r.OCRText)
	}
	if r.Markdown != nil {
		r.Markdown = Str(*r.Markdown)
	}
	return r
}

var _ Store = (*MemoryStore)(nil)
