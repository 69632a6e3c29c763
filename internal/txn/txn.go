// Package txn implements the depth-counted transaction controller
// (§4.7 of the spec): BEGIN/SAVEPOINT/COMMIT/ROLLBACK issued through the
// engine's simple-query path, with savepoints standing in for nested
// transactions.
package txn

import (
	"fmt"

	"github.com/pgcore/pgclient/internal/engine"
)

// Isolation is one of the four SQL isolation levels, or "" to omit the
// clause and let the server default apply.
type Isolation string

const (
	DefaultIsolation  Isolation = ""
	ReadCommitted     Isolation = "READ COMMITTED"
	RepeatableRead    Isolation = "REPEATABLE READ"
	Serializable      Isolation = "SERIALIZABLE"
	ReadUncommittedPG Isolation = "READ UNCOMMITTED" // PostgreSQL treats this as READ COMMITTED
)

// Config configures a top-level BEGIN. Nested Transaction() calls always
// use a plain SAVEPOINT and do not take a Config — isolation level and
// read-only/deferrable only make sense at the outermost BEGIN.
type Config struct {
	Isolation  Isolation
	ReadOnly   *bool // nil = server default
	Deferrable *bool // nil = server default
}

func (c Config) beginSQL() string {
	sql := "BEGIN"
	if c.Isolation != DefaultIsolation {
		sql += " ISOLATION LEVEL " + string(c.Isolation)
	}
	if c.ReadOnly != nil {
		if *c.ReadOnly {
			sql += " READ ONLY"
		} else {
			sql += " READ WRITE"
		}
	}
	if c.Deferrable != nil {
		if *c.Deferrable {
			sql += " DEFERRABLE"
		} else {
			sql += " NOT DEFERRABLE"
		}
	}
	return sql
}

// Controller wraps the session's transaction depth. depth==0 means no
// transaction is open.
type Controller struct {
	eng   *engine.Engine
	depth int
}

// New constructs a Controller bound to eng.
func New(eng *engine.Engine) *Controller {
	return &Controller{eng: eng}
}

// Depth returns the current transaction nesting depth (0 = no open
// transaction).
func (c *Controller) Depth() int { return c.depth }

// Begin opens the outermost transaction. It fails if one is already
// open — use the returned Tx's Transaction method to nest.
func (c *Controller) Begin(cfg Config) (*Tx, error) {
	if c.depth != 0 {
		return nil, fmt.Errorf("pgclient: a transaction is already in progress (depth %d)", c.depth)
	}
	if _, err := c.eng.QuickQuery(cfg.beginSQL()); err != nil {
		return nil, err
	}
	c.depth = 1
	return &Tx{ctrl: c, depth: 1}, nil
}

// Tx is a handle to one nesting level of the transaction: the outermost
// BEGIN or one SAVEPOINT. Its default disposition on scope exit is
// rollback — callers that want to keep their changes must call Commit
// explicitly; Close() is the defer-friendly rollback-unless-already-done
// idiom.
type Tx struct {
	ctrl  *Controller
	depth int
	done  bool
}

// Depth returns this handle's nesting level (1 for the outermost
// transaction).
func (t *Tx) Depth() int { return t.depth }

// Transaction opens a nested savepoint one level deeper than t. t must
// be the innermost currently-open handle.
func (t *Tx) Transaction() (*Tx, error) {
	if err := t.checkCurrent(); err != nil {
		return nil, err
	}
	next := t.depth + 1
	if _, err := t.ctrl.eng.QuickQuery(fmt.Sprintf("SAVEPOINT sp%d", next)); err != nil {
		return nil, err
	}
	t.ctrl.depth = next
	return &Tx{ctrl: t.ctrl, depth: next}, nil
}

// Commit commits the outermost transaction, or releases the savepoint
// at this nesting level.
func (t *Tx) Commit() error {
	if err := t.checkCurrent(); err != nil {
		return err
	}
	var sql string
	if t.depth == 1 {
		sql = "COMMIT"
	} else {
		sql = fmt.Sprintf("RELEASE SAVEPOINT sp%d", t.depth)
	}
	if _, err := t.ctrl.eng.QuickQuery(sql); err != nil {
		return err
	}
	t.ctrl.depth = t.depth - 1
	t.done = true
	return nil
}

// Rollback rolls back the outermost transaction, or rolls back to the
// savepoint at this nesting level.
func (t *Tx) Rollback() error {
	if err := t.checkCurrent(); err != nil {
		return err
	}
	var sql string
	if t.depth == 1 {
		sql = "ROLLBACK"
	} else {
		sql = fmt.Sprintf("ROLLBACK TO SAVEPOINT sp%d", t.depth)
	}
	if _, err := t.ctrl.eng.QuickQuery(sql); err != nil {
		return err
	}
	t.ctrl.depth = t.depth - 1
	t.done = true
	return nil
}

// Close rolls back if neither Commit nor Rollback has already run.
// Intended for `defer tx.Close()` immediately after Begin/Transaction,
// matching the spec's default-to-rollback-on-scope-exit rule.
func (t *Tx) Close() error {
	if t.done {
		return nil
	}
	return t.Rollback()
}

// checkCurrent verifies t is still the innermost open handle: it is
// stale once a deeper Transaction() has been opened and not yet closed,
// or once it has already been committed/rolled back.
func (t *Tx) checkCurrent() error {
	if t.done {
		return fmt.Errorf("pgclient: transaction handle already closed")
	}
	if t.ctrl.depth != t.depth {
		return fmt.Errorf("pgclient: stale transaction handle (depth %d, current depth %d)", t.depth, t.ctrl.depth)
	}
	return nil
}
