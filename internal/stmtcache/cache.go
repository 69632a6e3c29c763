// Package stmtcache implements statement naming, the PrepareCached
// cache, and portal naming (§4.6 of the spec). It sits between the
// protocol engine (raw OIDs) and the type resolver (pgtype.Type),
// handing callers a fully-typed Handle.
package stmtcache

import (
	"fmt"
	"sync"

	"github.com/pgcore/pgclient/internal/engine"
	"github.com/pgcore/pgclient/internal/pgtype"
	"github.com/pgcore/pgclient/internal/typeresolve"
)

// Column describes one result column with its resolved type, replacing
// the engine's raw protocol.ColumnDescription once OIDs have been
// looked up.
type Column struct {
	Name string
	Type pgtype.Type
}

// entry is one cached PrepareCached registration, shared by every Handle
// that currently references the same SQL text.
type entry struct {
	name       string
	sql        string
	paramTypes []pgtype.Type
	columns    []Column
	refs       int
}

// Cache owns statement/portal name generation and the PrepareCached
// registry. It is not safe for concurrent use from multiple goroutines
// without external synchronization beyond its own mutex guarding the
// bookkeeping maps — the underlying engine still requires the caller to
// serialize access to the session (§5).
type Cache struct {
	eng      *engine.Engine
	resolver *typeresolve.Resolver

	mu         sync.Mutex
	nextStmt   int
	nextPortal int
	bySQL      map[string]*entry
	order      []*entry // oldest first, for soft-cap eviction
	limit      int      // 0 = unlimited
}

// New constructs a Cache. limit is the soft cap on cached (PrepareCached)
// entries; 0 means unlimited. It can be changed later via SetLimit, e.g.
// from a hot-reloaded ClientOptions.
func New(eng *engine.Engine, resolver *typeresolve.Resolver, limit int) *Cache {
	return &Cache{
		eng:      eng,
		resolver: resolver,
		bySQL:    make(map[string]*entry),
		limit:    limit,
	}
}

// SetLimit adjusts the soft cap without touching any currently cached
// entry; it only affects future insertions.
func (c *Cache) SetLimit(limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = limit
}

func (c *Cache) nextStmtName() string {
	c.nextStmt++
	return fmt.Sprintf("s%d", c.nextStmt)
}

// newPortalName generates a fresh portal name for handle, unique within
// the session.
func (c *Cache) newPortalName() string {
	c.mu.Lock()
	c.nextPortal++
	n := c.nextPortal
	c.mu.Unlock()
	return fmt.Sprintf("p%d", n)
}

// prepareNamed issues a fresh Parse under name and resolves its
// parameter/column types through the type resolver.
func (c *Cache) prepareNamed(name, sql string) ([]pgtype.Type, []Column, error) {
	ps, err := c.eng.RawPrepare(name, sql)
	if err != nil {
		return nil, nil, err
	}
	paramTypes := make([]pgtype.Type, len(ps.ParamOIDs))
	for i, oid := range ps.ParamOIDs {
		ty, err := c.resolver.Resolve(oid)
		if err != nil {
			return nil, nil, err
		}
		paramTypes[i] = ty
	}
	columns := make([]Column, len(ps.Columns))
	for i, col := range ps.Columns {
		ty, err := c.resolver.Resolve(col.TypeOID)
		if err != nil {
			return nil, nil, err
		}
		columns[i] = Column{Name: col.Name, Type: ty}
	}
	return paramTypes, columns, nil
}

// Prepare always issues a fresh Parse; the returned handle is not
// shared and is closed (Close(Statement, name)) when the caller closes
// it.
func (c *Cache) Prepare(sql string) (*Handle, error) {
	name := c.nextStmtName()
	paramTypes, columns, err := c.prepareNamed(name, sql)
	if err != nil {
		return nil, err
	}
	return &Handle{
		cache:      c,
		name:       name,
		cached:     false,
		paramTypes: paramTypes,
		columns:    columns,
	}, nil
}

// PrepareCached consults the cache by literal SQL text. A hit returns a
// new handle sharing the existing entry's descriptor (no Parse is
// issued); a miss prepares and inserts.
func (c *Cache) PrepareCached(sql string) (*Handle, error) {
	c.mu.Lock()
	if e, ok := c.bySQL[sql]; ok {
		e.refs++
		c.mu.Unlock()
		return &Handle{cache: c, entry: e, name: e.name, cached: true, paramTypes: e.paramTypes, columns: e.columns}, nil
	}
	c.mu.Unlock()

	name := c.nextStmtName()
	paramTypes, columns, err := c.prepareNamed(name, sql)
	if err != nil {
		return nil, err
	}

	e := &entry{name: name, sql: sql, paramTypes: paramTypes, columns: columns, refs: 1}

	c.mu.Lock()
	c.bySQL[sql] = e
	c.order = append(c.order, e)
	c.evictIfOverCapLocked()
	c.mu.Unlock()

	return &Handle{cache: c, entry: e, name: e.name, cached: true, paramTypes: paramTypes, columns: columns}, nil
}

// evictIfOverCapLocked removes the single oldest zero-referenced entry
// when the cache exceeds its soft cap. Called with c.mu held. If every
// entry is still referenced, the cache is left over cap rather than
// evicting something live.
func (c *Cache) evictIfOverCapLocked() {
	if c.limit <= 0 || len(c.order) <= c.limit {
		return
	}
	for i, e := range c.order {
		if e.refs > 0 {
			continue
		}
		c.order = append(c.order[:i:i], c.order[i+1:]...)
		delete(c.bySQL, e.sql)
		// CloseStatement touches the wire; release the bookkeeping lock
		// first so the caller's next engine call isn't made under it.
		c.mu.Unlock()
		_ = c.eng.CloseStatement('S', e.name)
		c.mu.Lock()
		return
	}
}

// release drops one reference from a cached entry. It does not close
// the statement — cached entries live for the session, and a later
// insertion may evict it once it is unreferenced.
func (c *Cache) release(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.refs > 0 {
		e.refs--
	}
}

// Entry describes one cached statement for introspection purposes.
type Entry struct {
	SQL     string
	Columns int
}

// Entries lists every currently-cached PrepareCached registration, oldest
// first, for the debug server's /cache endpoint.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.order))
	for i, e := range c.order {
		out[i] = Entry{SQL: e.sql, Columns: len(e.columns)}
	}
	return out
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
