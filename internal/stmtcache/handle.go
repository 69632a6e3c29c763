package stmtcache

import "github.com/pgcore/pgclient/internal/pgtype"

// Handle is a prepared statement, either freshly parsed (Prepare) or
// shared out of the cache (PrepareCached). Its lifecycle differs only in
// what Close does.
type Handle struct {
	cache *Cache
	entry *entry // nil unless cached

	name       string
	cached     bool
	paramTypes []pgtype.Type
	columns    []Column
	closed     bool
}

// Name returns the server-side statement name (sN).
func (h *Handle) Name() string { return h.name }

// Cached reports whether this handle shares a PrepareCached registration.
func (h *Handle) Cached() bool { return h.cached }

// ParamTypes returns the resolved parameter types in ordinal order.
func (h *Handle) ParamTypes() []pgtype.Type { return h.paramTypes }

// Columns returns the resolved result columns, or nil for a statement
// with no result set.
func (h *Handle) Columns() []Column { return h.columns }

// NewPortal allocates a fresh portal name for an execution against this
// statement.
func (h *Handle) NewPortal() string { return h.cache.newPortalName() }

// Close releases the handle. A fresh (non-cached) handle issues
// Close(Statement, name) on the wire; a cached handle merely drops its
// reference — the statement itself lives for the session and is only
// closed when evicted with zero outstanding references.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.cached {
		h.cache.release(h.entry)
		return nil
	}
	return h.cache.eng.CloseStatement('S', h.name)
}
