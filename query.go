package pgclient

// Prepare always issues a fresh Parse against the server; the returned
// Stmt is not shared with any other caller and is closed on the wire
// when Close is called.
func (c *Conn) Prepare(sql string) (*Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.cache.Prepare(sql)
	if err != nil {
		return nil, err
	}
	c.metrics.StatementPrepared(false)
	return &Stmt{conn: c, handle: h}, nil
}

// PrepareCached returns a Stmt sharing a cached Parse for identical SQL
// text, issuing a fresh Parse only on the first call for that text.
func (c *Conn) PrepareCached(sql string) (*Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.cache.PrepareCached(sql)
	if err != nil {
		return nil, err
	}
	c.metrics.StatementPrepared(h.Cached())
	return &Stmt{conn: c, handle: h}, nil
}

// Execute is a convenience wrapper that prepares sql through the
// statement cache, executes it once with params, and closes the
// resulting handle.
func (c *Conn) Execute(sql string, params ...any) (int64, error) {
	stmt, err := c.PrepareCached(sql)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	return stmt.Execute(params...)
}

// Query is a convenience wrapper that prepares sql through the statement
// cache and executes it once with params, returning a cursor over the
// result. The cache handle underlying Stmt is released when the
// returned Rows is closed.
func (c *Conn) Query(sql string, params ...any) (*Rows, error) {
	stmt, err := c.PrepareCached(sql)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(params...)
	if err != nil {
		stmt.Close()
		return nil, err
	}
	rows.stmt = stmt
	return rows, nil
}
