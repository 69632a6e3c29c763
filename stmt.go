package pgclient

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pgcore/pgclient/internal/codec"
	"github.com/pgcore/pgclient/internal/engine"
	"github.com/pgcore/pgclient/internal/stmtcache"
)

// fetchBatchSize bounds how many rows a single Execute asks the server
// for at a time; Rows.Next transparently issues another Execute against
// the same portal once it runs dry.
const fetchBatchSize = 256

// Stmt is a prepared statement bound to one Conn, produced by Prepare or
// PrepareCached. It is safe to Query/Execute repeatedly with different
// parameters.
type Stmt struct {
	conn   *Conn
	handle *stmtcache.Handle
}

// Close releases the statement. A Prepare'd statement is closed on the
// wire; a PrepareCached one merely drops this handle's reference.
func (s *Stmt) Close() error {
	return s.handle.Close()
}

// encodeParams converts params positionally using each parameter's
// resolved type codec.
func (s *Stmt) encodeParams(params []any) ([][]byte, error) {
	paramTypes := s.handle.ParamTypes()
	if len(params) != len(paramTypes) {
		return nil, fmt.Errorf("pgclient: statement expects %d parameters, got %d", len(paramTypes), len(params))
	}
	out := make([][]byte, len(params))
	for i, v := range params {
		c, ok := codec.Lookup(paramTypes[i].OID)
		if !ok {
			return nil, fmt.Errorf("pgclient: no codec for parameter %d (type %s)", i, paramTypes[i].String())
		}
		data, isNull, err := c.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("pgclient: encoding parameter %d: %w", i, err)
		}
		if isNull {
			out[i] = nil
			continue
		}
		if data == nil {
			data = []byte{}
		}
		out[i] = data
	}
	return out, nil
}

// Execute runs the statement for effect (INSERT/UPDATE/DELETE/DDL) and
// returns the affected row count reported in CommandComplete (0 if the
// tag carries none, e.g. CREATE TABLE).
func (s *Stmt) Execute(params ...any) (int64, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	encoded, err := s.encodeParams(params)
	if err != nil {
		return 0, err
	}

	portal := s.handle.NewPortal()
	if err := s.conn.eng.RawExecute(s.handle.Name(), portal, 0, encoded); err != nil {
		return 0, err
	}

	var rows []engine.Row
	_, tag, err := s.conn.eng.ReadRows(&rows)
	if err != nil {
		return 0, err
	}
	return parseAffected(tag), nil
}

// Query runs the statement and returns a cursor over its result rows.
func (s *Stmt) Query(params ...any) (*Rows, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	encoded, err := s.encodeParams(params)
	if err != nil {
		return nil, err
	}

	portal := s.handle.NewPortal()
	if err := s.conn.eng.RawExecute(s.handle.Name(), portal, fetchBatchSize, encoded); err != nil {
		return nil, err
	}

	var batch []engine.Row
	more, _, err := s.conn.eng.ReadRows(&batch)
	if err != nil {
		return nil, err
	}

	return newRows(s.conn, s.handle, portal, batch, !more), nil
}

// parseAffected extracts the row count suffix from a CommandComplete tag
// such as "UPDATE 3" or "INSERT 0 1"; tags with no trailing number (e.g.
// "CREATE TABLE") report 0.
func parseAffected(tag string) int64 {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
