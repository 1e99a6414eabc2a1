package tds

import (
	"container/list"
	"sync"
)

// PreparedStatement is a cached sp_prepare handle bound to the exact SQL
// text and parameter declaration string that produced it (spec.md §4.6).
type PreparedStatement struct {
	Handle    int32
	SQL       string
	ParamDecl string
	Columns   []Column
}

type preparedKey struct {
	sql       string
	paramDecl string
}

// PreparedCache is a client-side LRU keyed by (SQL text, parameter
// declaration) mapping to the server-assigned sp_prepare handle. It is
// invalidated wholesale on ENVCHANGE.ResetConnection, since
// sp_reset_connection drops every handle the session held (spec.md
// §4.6/§4.7).
type PreparedCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[preparedKey]*list.Element
	order    *list.List // front = most recently used
}

// NewPreparedCache creates a cache holding at most capacity statements.
func NewPreparedCache(capacity int) *PreparedCache {
	return &PreparedCache{
		capacity: capacity,
		entries:  make(map[preparedKey]*list.Element),
		order:    list.New(),
	}
}

// Lookup returns the cached statement for (sql, paramDecl), if present,
// and marks it most recently used.
func (c *PreparedCache) Lookup(sql, paramDecl string) (*PreparedStatement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := preparedKey{sql, paramDecl}
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*PreparedStatement), true
}

// Insert adds a newly prepared statement, evicting the least-recently
// used entry if the cache is at capacity. It returns the evicted
// statement's handle (0 if nothing was evicted) so the caller can issue
// sp_unprepare for it.
func (c *PreparedCache) Insert(ps *PreparedStatement) (evictedHandle int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := preparedKey{ps.SQL, ps.ParamDecl}
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		el.Value = ps
		return 0
	}
	el := c.order.PushFront(ps)
	c.entries[key] = el
	if c.capacity > 0 && c.order.Len() > c.capacity {
		back := c.order.Back()
		evicted := back.Value.(*PreparedStatement)
		c.order.Remove(back)
		delete(c.entries, preparedKey{evicted.SQL, evicted.ParamDecl})
		evictedHandle = evicted.Handle
	}
	return evictedHandle
}

// Reset drops every cached statement without issuing sp_unprepare —
// used after ENVCHANGE.ResetConnection, which already invalidated every
// handle on the server side (spec.md §4.6).
func (c *PreparedCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[preparedKey]*list.Element)
	c.order.Init()
}

// Len reports how many statements are currently cached.
func (c *PreparedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
