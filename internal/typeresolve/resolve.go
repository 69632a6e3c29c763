package typeresolve

import (
	"encoding/binary"
	"fmt"

	"github.com/pgcore/pgclient/internal/engine"
	"github.com/pgcore/pgclient/internal/pgtype"
)

func oidParam(oid uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, oid)
	return b
}

// execAndRead runs one already-prepared named statement with a single OID
// parameter and collects every row, exactly mirroring rawPrepare's nested
// use of rawExecute+readRows described in §4.5: safe here because the
// caller always reaches this point only after its own rawPrepare/Sync
// cycle has already returned to ReadyForQuery.
func (r *Resolver) execAndRead(stmtName string, oid uint32) ([]engine.Row, error) {
	if err := r.eng.RawExecute(stmtName, "", 0, [][]byte{oidParam(oid)}); err != nil {
		return nil, err
	}
	var rows []engine.Row
	for {
		more, _, err := r.eng.ReadRows(&rows)
		if err != nil {
			return nil, err
		}
		if !more {
			return rows, nil
		}
	}
}

// Resolve implements the four-rule lookup of §4.5: well-known static
// table, unknown-type cache, catalog query, insert-and-return.
func (r *Resolver) Resolve(oid uint32) (pgtype.Type, error) {
	if t, ok := pgtype.LookupWellKnown(oid); ok {
		r.report("well_known")
		return t, nil
	}
	if t, ok := r.cache[oid]; ok {
		r.report("cache")
		return t, nil
	}

	t, err := r.readType(oid)
	if err != nil {
		return pgtype.Type{}, err
	}
	r.cache[oid] = t
	r.report("catalog")
	return t, nil
}

// report invokes OnResolved, if set.
func (r *Resolver) report(source string) {
	if r.OnResolved != nil {
		r.OnResolved(source)
	}
}

func (r *Resolver) readType(oid uint32) (pgtype.Type, error) {
	rows, err := r.execAndRead(queryTypeInfo, oid)
	if err != nil {
		return pgtype.Type{}, err
	}
	if len(rows) != 1 {
		return pgtype.Type{}, fmt.Errorf("typeresolve: expected exactly one row describing oid %d, got %d", oid, len(rows))
	}
	row := rows[0]
	if len(row) != 7 {
		return pgtype.Type{}, fmt.Errorf("typeresolve: unexpected column count %d for oid %d", len(row), oid)
	}

	name := string(row[0])
	var typeChar byte
	if len(row[1]) > 0 {
		typeChar = row[1][0]
	}
	elemOID := bytesToOID(row[2])
	var rangeSubOID uint32
	hasRangeSub := row[3] != nil
	if hasRangeSub {
		rangeSubOID = bytesToOID(row[3])
	}
	baseOID := bytesToOID(row[4])
	schema := string(row[5])
	relOID := bytesToOID(row[6])

	base := pgtype.Type{OID: oid, Name: name, Schema: schema}

	switch {
	case typeChar == 'e':
		labels, err := r.readEnumLabels(oid)
		if err != nil {
			return pgtype.Type{}, err
		}
		base.Kind = pgtype.KindEnum
		base.Labels = labels

	case typeChar == 'p':
		base.Kind = pgtype.KindPseudo

	case baseOID != 0:
		baseType, err := r.Resolve(baseOID)
		if err != nil {
			return pgtype.Type{}, err
		}
		base.Kind = pgtype.KindDomain
		base.Base = &baseType

	case elemOID != 0:
		elemType, err := r.Resolve(elemOID)
		if err != nil {
			return pgtype.Type{}, err
		}
		base.Kind = pgtype.KindArray
		base.Elem = &elemType

	case relOID != 0:
		fields, err := r.readCompositeFields(relOID)
		if err != nil {
			return pgtype.Type{}, err
		}
		base.Kind = pgtype.KindComposite
		base.Fields = fields

	case hasRangeSub:
		subType, err := r.Resolve(rangeSubOID)
		if err != nil {
			return pgtype.Type{}, err
		}
		base.Kind = pgtype.KindRange
		base.Elem = &subType

	default:
		base.Kind = pgtype.KindSimple
	}

	return base, nil
}

func (r *Resolver) readEnumLabels(oid uint32) ([]string, error) {
	if !r.enumAvailable {
		return nil, nil
	}
	rows, err := r.execAndRead(queryTypeInfoEnum, oid)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(rows))
	for _, row := range rows {
		labels = append(labels, string(row[0]))
	}
	return labels, nil
}

func (r *Resolver) readCompositeFields(relOID uint32) ([]pgtype.Field, error) {
	if !r.compositeAvailable {
		return nil, nil
	}
	rows, err := r.execAndRead(queryTypeInfoComposite, relOID)
	if err != nil {
		return nil, err
	}
	fields := make([]pgtype.Field, 0, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("typeresolve: unexpected composite field row shape")
		}
		fieldName := string(row[0])
		fieldOID := bytesToOID(row[1])
		fieldType, err := r.Resolve(fieldOID)
		if err != nil {
			return nil, err
		}
		fields = append(fields, pgtype.Field{Name: fieldName, Type: fieldType})
	}
	return fields, nil
}

func bytesToOID(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
