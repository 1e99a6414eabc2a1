package tds

import "testing"

func TestPreparedCacheLookupMiss(t *testing.T) {
	c := NewPreparedCache(2)
	if _, ok := c.Lookup("SELECT 1", ""); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestPreparedCacheInsertAndLookup(t *testing.T) {
	c := NewPreparedCache(2)
	c.Insert(&PreparedStatement{Handle: 1, SQL: "SELECT @p1", ParamDecl: "@p1 int"})
	ps, ok := c.Lookup("SELECT @p1", "@p1 int")
	if !ok || ps.Handle != 1 {
		t.Fatalf("Lookup = %+v, %v", ps, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestPreparedCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewPreparedCache(2)
	c.Insert(&PreparedStatement{Handle: 1, SQL: "A", ParamDecl: ""})
	c.Insert(&PreparedStatement{Handle: 2, SQL: "B", ParamDecl: ""})

	// Touch A so B becomes the LRU victim.
	if _, ok := c.Lookup("A", ""); !ok {
		t.Fatal("expected A to be cached")
	}

	evicted := c.Insert(&PreparedStatement{Handle: 3, SQL: "C", ParamDecl: ""})
	if evicted != 2 {
		t.Fatalf("evicted handle = %d, want 2 (B)", evicted)
	}
	if _, ok := c.Lookup("B", ""); ok {
		t.Error("B should have been evicted")
	}
	if _, ok := c.Lookup("A", ""); !ok {
		t.Error("A should still be cached")
	}
	if _, ok := c.Lookup("C", ""); !ok {
		t.Error("C should be cached")
	}
}

func TestPreparedCacheResetClearsWithoutEviction(t *testing.T) {
	c := NewPreparedCache(2)
	c.Insert(&PreparedStatement{Handle: 1, SQL: "A", ParamDecl: ""})
	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", c.Len())
	}
	if _, ok := c.Lookup("A", ""); ok {
		t.Error("A should be gone after Reset")
	}
}

func TestPreparedCacheInsertSameKeyUpdatesWithoutEviction(t *testing.T) {
	c := NewPreparedCache(1)
	c.Insert(&PreparedStatement{Handle: 1, SQL: "A", ParamDecl: ""})
	evicted := c.Insert(&PreparedStatement{Handle: 2, SQL: "A", ParamDecl: ""})
	if evicted != 0 {
		t.Fatalf("evicted = %d, want 0 (same key should update in place)", evicted)
	}
	ps, ok := c.Lookup("A", "")
	if !ok || ps.Handle != 2 {
		t.Fatalf("Lookup = %+v, %v, want Handle=2", ps, ok)
	}
}
