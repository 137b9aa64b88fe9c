package catalog

import "sync"

type storeEntry struct {
	catalog Catalog
	present bool
	gen     uint64
}

// Store maps sessions to their loaded catalogs.
// Only the newest run claimed for a session may publish its catalog.
type Store struct {
	mu      sync.RWMutex
	entries map[SessionID]storeEntry
}

// NewStore creates an empty catalog store.
func NewStore() *Store {
	return &Store{
		entries: make(map[SessionID]storeEntry),
	}
}

// Get returns the published catalog for id.
// The returned slice is shared and must not be modified.
func (s *Store) Get(id SessionID) (Catalog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || !e.present {
		return nil, false
	}
	return e.catalog, true
}

// Len returns the number of published catalogs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if e.present {
			n++
		}
	}
	return n
}

// claim marks gen as the newest run for id. Only that run may publish;
// any catalog already present stays readable until it does.
func (s *Store) claim(id SessionID, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[id]
	if gen > e.gen {
		e.gen = gen
		s.entries[id] = e
	}
}

// put publishes c for id when gen is the newest claimed run.
func (s *Store) put(id SessionID, gen uint64, c Catalog) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok && gen != e.gen {
		return false
	}
	s.entries[id] = storeEntry{catalog: c, present: true, gen: gen}
	return true
}

func (s *Store) forget(id SessionID, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = storeEntry{gen: gen}
}
