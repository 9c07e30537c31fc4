package store

import (
	"sort"
	"time"
)

// FilterEntry is one cached filter result: the ordered task ids the
// remote returned for a filter expression, plus the last time the
// filter was used. Last-used drives both age expiry and LRU eviction.
type FilterEntry struct {
	IDs      []string  `json:"ids"`
	LastUsed time.Time `json:"last_used"`
}

// SetFilterResults stores the ordered result ids for a filter
// expression and marks it used now.
func (s *Store) SetFilterResults(expr string, ids []string, now time.Time) {
	if expr == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters[expr] = &FilterEntry{IDs: append([]string(nil), ids...), LastUsed: now}
	s.dirty = true
}

// FilterResults returns the cached ordered ids for a filter expression
// and refreshes its last-used timestamp.
func (s *Store) FilterResults(expr string, now time.Time) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.filters[expr]
	if !ok {
		return nil, false
	}
	entry.LastUsed = now
	s.dirty = true
	return append([]string(nil), entry.IDs...), true
}

// FilterCacheSize returns the number of cached filter result sets.
func (s *Store) FilterCacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filters)
}

// FilterExpressions returns the cached filter expressions ordered by
// most recently used first.
func (s *Store) FilterExpressions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exprs := make([]string, 0, len(s.filters))
	for expr := range s.filters {
		exprs = append(exprs, expr)
	}
	sort.Slice(exprs, func(i, j int) bool {
		return s.filters[exprs[i]].LastUsed.After(s.filters[exprs[j]].LastUsed)
	})
	return exprs
}

// PruneFilterCache applies both eviction policies: entries older than
// retention are dropped outright, then, if more than maxEntries remain,
// the least recently used beyond that bound are dropped. Returns the
// number of entries removed.
func (s *Store) PruneFilterCache(retention time.Duration, maxEntries int, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	if retention > 0 {
		cutoff := now.Add(-retention)
		for expr, entry := range s.filters {
			if entry.LastUsed.Before(cutoff) {
				delete(s.filters, expr)
				removed++
			}
		}
	}

	if maxEntries > 0 && len(s.filters) > maxEntries {
		exprs := make([]string, 0, len(s.filters))
		for expr := range s.filters {
			exprs = append(exprs, expr)
		}
		// Oldest last-used first.
		sort.Slice(exprs, func(i, j int) bool {
			return s.filters[exprs[i]].LastUsed.Before(s.filters[exprs[j]].LastUsed)
		})
		for _, expr := range exprs[:len(s.filters)-maxEntries] {
			delete(s.filters, expr)
			removed++
		}
	}

	if removed > 0 {
		s.dirty = true
	}
	return removed
}
