package store

import (
	"fmt"
	"testing"
	"time"
)

func TestFilterCacheAgeExpiry(t *testing.T) {
	s := New()
	now := time.Now()

	s.SetFilterResults("A", []string{"1"}, now.Add(-40*24*time.Hour))
	s.SetFilterResults("B", []string{"2"}, now)

	removed := s.PruneFilterCache(30*24*time.Hour, 0, now)
	if removed != 1 {
		t.Fatalf("prune removed %d entries, want 1", removed)
	}
	if _, ok := s.FilterResults("A", now); ok {
		t.Error("filter A (used 40 days ago) survived a 30 day retention")
	}
	if _, ok := s.FilterResults("B", now); !ok {
		t.Error("filter B (used today) was dropped")
	}
}

func TestFilterCacheLRUBound(t *testing.T) {
	s := New()
	now := time.Now()

	// Five filters with strictly increasing last-used times.
	for i := 0; i < 5; i++ {
		s.SetFilterResults(fmt.Sprintf("f%d", i), []string{"1"}, now.Add(time.Duration(i)*time.Minute))
	}

	removed := s.PruneFilterCache(0, 2, now)
	if removed != 3 {
		t.Fatalf("prune removed %d entries, want 3", removed)
	}
	if s.FilterCacheSize() != 2 {
		t.Fatalf("cache size = %d, want 2", s.FilterCacheSize())
	}
	// The two most recently used must survive.
	for _, expr := range []string{"f3", "f4"} {
		if _, ok := s.FilterResults(expr, now); !ok {
			t.Errorf("most-recently-used filter %s was evicted", expr)
		}
	}
}

func TestFilterResultsTouchesLastUsed(t *testing.T) {
	s := New()
	old := time.Now().Add(-45 * 24 * time.Hour)
	s.SetFilterResults("A", []string{"1"}, old)

	// Reading the filter today refreshes its last-used time, so an
	// age prune right after must keep it.
	now := time.Now()
	if _, ok := s.FilterResults("A", now); !ok {
		t.Fatal("filter not found")
	}
	if removed := s.PruneFilterCache(30*24*time.Hour, 0, now); removed != 0 {
		t.Errorf("prune removed %d entries after touch, want 0", removed)
	}
}

func TestFilterExpressionsOrder(t *testing.T) {
	s := New()
	now := time.Now()
	s.SetFilterResults("older", []string{"1"}, now.Add(-time.Hour))
	s.SetFilterResults("newer", []string{"2"}, now)

	exprs := s.FilterExpressions()
	if len(exprs) != 2 || exprs[0] != "newer" || exprs[1] != "older" {
		t.Errorf("expressions = %v, want [newer older]", exprs)
	}
}
