package crawler

import (
	"sync"

	"github.com/alqutdigital/tender-watch/internal/dom"
)

// RowArena holds the list row handles of live sessions keyed by row index.
// Handles die with the document they came from, so any navigation of a
// session's list page must Clear it.
type RowArena struct {
	mu   sync.Mutex
	rows map[string]map[int]dom.Element
}

// NewRowArena creates an empty arena.
func NewRowArena() *RowArena {
	return &RowArena{rows: make(map[string]map[int]dom.Element)}
}

// Put stores the handle of row index for session.
func (a *RowArena) Put(session string, index int, row dom.Element) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.rows[session]
	if !ok {
		m = make(map[int]dom.Element)
		a.rows[session] = m
	}
	m[index] = row
}

// Get returns the handle of row index, if still held.
func (a *RowArena) Get(session string, index int) (dom.Element, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	el, ok := a.rows[session][index]
	return el, ok
}

// Clear drops every handle of session.
func (a *RowArena) Clear(session string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rows, session)
}

// Len returns the number of handles held for session.
func (a *RowArena) Len(session string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows[session])
}
