package pgclient

import (
	"fmt"
	"reflect"

	"github.com/pgcore/pgclient/internal/codec"
	"github.com/pgcore/pgclient/internal/engine"
	"github.com/pgcore/pgclient/internal/protocol"
	"github.com/pgcore/pgclient/internal/stmtcache"
)

// Rows is a cursor over a query's result set. Rows fetches in batches of
// fetchBatchSize, transparently resuming the portal as the caller
// consumes them via Next.
type Rows struct {
	conn   *Conn
	handle *stmtcache.Handle
	portal string

	// stmt, if set, is closed alongside the portal — set by Conn.Query
	// for the one-shot convenience path, left nil when a caller drives
	// Stmt.Query directly and owns the Stmt's lifetime itself.
	stmt *Stmt

	batch     []engine.Row
	idx       int
	exhausted bool
	closed    bool
	lastErr   error
}

func newRows(conn *Conn, handle *stmtcache.Handle, portal string, initial []engine.Row, exhausted bool) *Rows {
	return &Rows{conn: conn, handle: handle, portal: portal, batch: initial, exhausted: exhausted, idx: -1}
}

// Columns returns the resolved result columns, in positional order.
func (r *Rows) Columns() []stmtcache.Column {
	return r.handle.Columns()
}

// Next advances to the next row, fetching another batch from the server
// when the current one is exhausted. It returns false at end-of-result
// or on error; check Err for the latter.
func (r *Rows) Next() bool {
	if r.closed || r.lastErr != nil {
		return false
	}

	r.idx++
	if r.idx < len(r.batch) {
		return true
	}
	if r.exhausted {
		return false
	}

	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()

	if err := r.conn.eng.ContinueExecute(r.portal, fetchBatchSize); err != nil {
		r.lastErr = err
		return false
	}
	r.batch = r.batch[:0]
	more, _, err := r.conn.eng.ReadRows(&r.batch)
	if err != nil {
		r.lastErr = err
		return false
	}
	r.exhausted = !more
	r.idx = 0
	return len(r.batch) > 0
}

// Err returns the error, if any, that stopped iteration. Calling it
// before Next has returned false is meaningless.
func (r *Rows) Err() error {
	return r.lastErr
}

// Values decodes the current row's columns into their natively resolved
// Go types, in positional order.
func (r *Rows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.batch) {
		return nil, fmt.Errorf("pgclient: Values called without a current row")
	}
	row := r.batch[r.idx]
	cols := r.handle.Columns()
	out := make([]any, len(row))
	for i, raw := range row {
		c, ok := codec.Lookup(cols[i].Type.OID)
		if !ok {
			return nil, fmt.Errorf("pgclient: no codec for column %q (type %s)", cols[i].Name, cols[i].Type.String())
		}
		v, err := c.Decode(raw, raw == nil)
		if err != nil {
			return nil, &ConversionError{Column: cols[i].Name, Err: err}
		}
		out[i] = v
	}
	return out, nil
}

// Scan decodes the current row's columns into dest, which must be
// pointers, in positional order.
func (r *Rows) Scan(dest ...any) error {
	values, err := r.Values()
	if err != nil {
		return err
	}
	if len(dest) != len(values) {
		return fmt.Errorf("pgclient: Scan expects %d destinations, got %d", len(values), len(dest))
	}
	for i, v := range values {
		if err := assign(dest[i], v); err != nil {
			return fmt.Errorf("pgclient: scanning column %d: %w", i, err)
		}
	}
	return nil
}

// assign stores v into dest, which must be a non-nil pointer. A nil v
// (SQL NULL) is only assignable into a pointer-to-pointer destination.
func assign(dest any, v any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer, got %T", dest)
	}
	elem := dv.Elem()

	if v == nil {
		if elem.Kind() != reflect.Ptr {
			return fmt.Errorf("cannot scan NULL into %T", dest)
		}
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}

	rv := reflect.ValueOf(v)
	if elem.Kind() == reflect.Ptr {
		newVal := reflect.New(elem.Type().Elem())
		if !rv.Type().AssignableTo(newVal.Elem().Type()) {
			return fmt.Errorf("cannot scan %T into %s", v, dv.Type())
		}
		newVal.Elem().Set(rv)
		elem.Set(newVal)
		return nil
	}

	if !rv.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("cannot scan %T into %s", v, dv.Type())
	}
	elem.Set(rv)
	return nil
}

// Close releases the portal. Safe to call before exhausting the result
// set, and safe to call more than once.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if !r.exhausted {
		r.conn.mu.Lock()
		err = r.conn.eng.CloseStatement(protocol.KindPortal, r.portal)
		r.conn.mu.Unlock()
	}
	if r.stmt != nil {
		if cerr := r.stmt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
