// Package typeresolve implements the catalog-backed type resolver
// (§4.5 of the spec): given an OID, it returns a fully-classified
// pgtype.Type, running nested queries against pg_catalog when the static
// table and unknown-type cache both miss.
package typeresolve

import (
	"errors"

	"github.com/pgcore/pgclient/internal/engine"
	"github.com/pgcore/pgclient/internal/pgerr"
	"github.com/pgcore/pgclient/internal/pgtype"
)

const (
	queryTypeInfo          = "__typeinfo"
	queryTypeInfoEnum      = "__typeinfo_enum"
	queryTypeInfoComposite = "__typeinfo_composite"
)

// Resolver resolves OIDs to pgtype.Type values, caching every
// catalog-backed lookup for the lifetime of the connection.
type Resolver struct {
	eng *engine.Engine

	cache map[uint32]pgtype.Type

	enumAvailable      bool
	enumOrderByOID     bool
	compositeAvailable bool
	rangeColumnPresent bool

	// OnResolved, if set, is invoked after every successful Resolve with
	// which rule satisfied it: "well_known", "cache", or "catalog".
	OnResolved func(source string)
}

// dbCode returns the SQLSTATE of err if it is a pgerr.DBError, else "".
func dbCode(err error) string {
	var dbErr pgerr.DBError
	if errors.As(err, &dbErr) {
		return dbErr.Code()
	}
	return ""
}

// Setup prepares the three catalog queries the resolver depends on,
// falling back through successively older-server-compatible SQL exactly
// as the handshake's setupTypeInfoQuery step requires (§4.3 step 5,
// §4.5 "Version/compatibility fallbacks"). It must run once, immediately
// after ReadyForQuery, before the resolver is used.
func Setup(eng *engine.Engine) (*Resolver, error) {
	r := &Resolver{eng: eng, cache: make(map[uint32]pgtype.Type)}

	if err := r.setupEnumQuery(); err != nil {
		if errors.Is(err, errSkipRemainingSetup) {
			return r, nil
		}
		return nil, err
	}
	if err := r.setupCompositeQuery(); err != nil {
		return nil, err
	}
	if err := r.setupTypeInfoQuery(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) setupEnumQuery() error {
	_, err := r.eng.RawPrepare(queryTypeInfoEnum,
		`SELECT enumlabel FROM pg_catalog.pg_enum WHERE enumtypid = $1 ORDER BY enumsortorder`)
	switch dbCode(err) {
	case "":
		if err == nil {
			r.enumAvailable = true
			r.enumOrderByOID = false
			return nil
		}
		return err
	case pgerr.SQLStateUndefinedColumn:
		// Postgres 9.0 predates enumsortorder.
		_, err := r.eng.RawPrepare(queryTypeInfoEnum,
			`SELECT enumlabel FROM pg_catalog.pg_enum WHERE enumtypid = $1 ORDER BY oid`)
		if err != nil {
			return err
		}
		r.enumAvailable = true
		r.enumOrderByOID = true
		return nil
	case pgerr.SQLStateUndefinedTable:
		// Enums unsupported entirely (old servers, some PG-compatible engines).
		r.enumAvailable = false
		return nil
	case pgerr.SQLStateInvalidCatalogName:
		// No pg_catalog at all; skip all further setup as success.
		return errSkipRemainingSetup
	default:
		return err
	}
}

func (r *Resolver) setupCompositeQuery() error {
	_, err := r.eng.RawPrepare(queryTypeInfoComposite,
		`SELECT attname, atttypid FROM pg_catalog.pg_attribute `+
			`WHERE attrelid = $1 AND NOT attisdropped AND attnum > 0 ORDER BY attnum`)
	switch dbCode(err) {
	case "":
		if err == nil {
			r.compositeAvailable = true
			return nil
		}
		return err
	case pgerr.SQLStateUndefinedTable:
		r.compositeAvailable = false
		return nil
	default:
		return err
	}
}

func (r *Resolver) setupTypeInfoQuery() error {
	_, err := r.eng.RawPrepare(queryTypeInfo,
		`SELECT t.typname, t.typtype, t.typelem, r.rngsubtype, t.typbasetype, n.nspname, t.typrelid `+
			`FROM pg_catalog.pg_type t `+
			`LEFT OUTER JOIN pg_catalog.pg_range r ON r.rngtypid = t.oid `+
			`INNER JOIN pg_catalog.pg_namespace n ON t.typnamespace = n.oid `+
			`WHERE t.oid = $1`)
	switch dbCode(err) {
	case "":
		if err == nil {
			r.rangeColumnPresent = true
			return nil
		}
		return err
	case pgerr.SQLStateUndefinedTable:
		// pg_range doesn't exist (pre-9.2); retry without it.
		_, err := r.eng.RawPrepare(queryTypeInfo,
			`SELECT t.typname, t.typtype, t.typelem, NULL::OID, t.typbasetype, n.nspname, t.typrelid `+
				`FROM pg_catalog.pg_type t `+
				`INNER JOIN pg_catalog.pg_namespace n ON t.typnamespace = n.oid `+
				`WHERE t.oid = $1`)
		if err != nil {
			return err
		}
		r.rangeColumnPresent = false
		return nil
	default:
		return err
	}
}

// errSkipRemainingSetup signals that the server has no pg_catalog at all
// (e.g. some PostgreSQL-wire-compatible engines); setup is abandoned but
// treated as overall success — Resolve then only ever serves well-known
// OIDs.
var errSkipRemainingSetup = errors.New("typeresolve: no pg_catalog, skipping remaining setup")
