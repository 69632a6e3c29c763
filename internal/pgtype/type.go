// Package pgtype holds the resolved-type model (§3 of the spec) and the
// static table of well-known OIDs. It has no dependency on the wire
// protocol: it is pure data plus the lookup used by the type resolver's
// first rule.
package pgtype

import "fmt"

// Kind tags which variant a Type is.
type Kind int

const (
	KindSimple Kind = iota
	KindArray
	KindDomain
	KindRange
	KindEnum
	KindComposite
	KindPseudo
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindArray:
		return "array"
	case KindDomain:
		return "domain"
	case KindRange:
		return "range"
	case KindEnum:
		return "enum"
	case KindComposite:
		return "composite"
	case KindPseudo:
		return "pseudo"
	default:
		return "unknown"
	}
}

// Field is one member of a Composite type, in attribute-number order.
type Field struct {
	Name string
	Type Type
}

// Type is the tagged variant described by §3: every resolution the core
// performs produces one of these, immutable once built.
type Type struct {
	OID    uint32
	Name   string
	Schema string
	Kind   Kind

	// Elem is set for KindArray (element type) and KindRange (subtype).
	Elem *Type
	// Base is set for KindDomain (the base type being restricted).
	Base *Type
	// Labels is set for KindEnum, in enumsortorder (or oid order, as a
	// fallback — see typeresolve's setup).
	Labels []string
	// Fields is set for KindComposite, ordered by attnum.
	Fields []Field
}

func (t Type) String() string {
	switch t.Kind {
	case KindArray:
		return fmt.Sprintf("%s[]", t.Elem.String())
	case KindDomain:
		return fmt.Sprintf("%s (domain over %s)", t.Name, t.Base.String())
	case KindRange:
		return fmt.Sprintf("range<%s>", t.Elem.String())
	default:
		return t.Name
	}
}

// Simple well-known built-in OIDs (pg_type.oid for the most common
// scalars, their array forms, and the three universal pseudo-types). This
// table is rule 1 of type resolution (§4.5): a hit here never touches the
// catalog.
const (
	OIDBool        uint32 = 16
	OIDBytea       uint32 = 17
	OIDChar        uint32 = 18
	OIDName        uint32 = 19
	OIDInt8        uint32 = 20
	OIDInt2        uint32 = 21
	OIDInt4        uint32 = 23
	OIDText        uint32 = 25
	OIDOID         uint32 = 26
	OIDFloat4      uint32 = 700
	OIDFloat8      uint32 = 701
	OIDVarchar     uint32 = 1043
	OIDDate        uint32 = 1082
	OIDTime        uint32 = 1083
	OIDTimestamp   uint32 = 1114
	OIDTimestamptz uint32 = 1184
	OIDNumeric     uint32 = 1700
	OIDUUID        uint32 = 2950
	OIDJSON        uint32 = 114
	OIDJSONB       uint32 = 3802
	OIDVoid        uint32 = 2278
	OIDRecord      uint32 = 2249
	OIDUnknown     uint32 = 705

	OIDBoolArray    uint32 = 1000
	OIDInt8Array    uint32 = 1016
	OIDInt2Array    uint32 = 1005
	OIDInt4Array    uint32 = 1007
	OIDTextArray    uint32 = 1009
	OIDVarcharArray uint32 = 1015
	OIDFloat4Array  uint32 = 1021
	OIDFloat8Array  uint32 = 1022
)

var wellKnown = map[uint32]Type{
	OIDBool:        {OID: OIDBool, Name: "bool", Schema: "pg_catalog", Kind: KindSimple},
	OIDBytea:       {OID: OIDBytea, Name: "bytea", Schema: "pg_catalog", Kind: KindSimple},
	OIDChar:        {OID: OIDChar, Name: "char", Schema: "pg_catalog", Kind: KindSimple},
	OIDName:        {OID: OIDName, Name: "name", Schema: "pg_catalog", Kind: KindSimple},
	OIDInt8:        {OID: OIDInt8, Name: "int8", Schema: "pg_catalog", Kind: KindSimple},
	OIDInt2:        {OID: OIDInt2, Name: "int2", Schema: "pg_catalog", Kind: KindSimple},
	OIDInt4:        {OID: OIDInt4, Name: "int4", Schema: "pg_catalog", Kind: KindSimple},
	OIDText:        {OID: OIDText, Name: "text", Schema: "pg_catalog", Kind: KindSimple},
	OIDOID:         {OID: OIDOID, Name: "oid", Schema: "pg_catalog", Kind: KindSimple},
	OIDFloat4:      {OID: OIDFloat4, Name: "float4", Schema: "pg_catalog", Kind: KindSimple},
	OIDFloat8:      {OID: OIDFloat8, Name: "float8", Schema: "pg_catalog", Kind: KindSimple},
	OIDVarchar:     {OID: OIDVarchar, Name: "varchar", Schema: "pg_catalog", Kind: KindSimple},
	OIDDate:        {OID: OIDDate, Name: "date", Schema: "pg_catalog", Kind: KindSimple},
	OIDTime:        {OID: OIDTime, Name: "time", Schema: "pg_catalog", Kind: KindSimple},
	OIDTimestamp:   {OID: OIDTimestamp, Name: "timestamp", Schema: "pg_catalog", Kind: KindSimple},
	OIDTimestamptz: {OID: OIDTimestamptz, Name: "timestamptz", Schema: "pg_catalog", Kind: KindSimple},
	OIDNumeric:     {OID: OIDNumeric, Name: "numeric", Schema: "pg_catalog", Kind: KindSimple},
	OIDUUID:        {OID: OIDUUID, Name: "uuid", Schema: "pg_catalog", Kind: KindSimple},
	OIDJSON:        {OID: OIDJSON, Name: "json", Schema: "pg_catalog", Kind: KindSimple},
	OIDJSONB:       {OID: OIDJSONB, Name: "jsonb", Schema: "pg_catalog", Kind: KindSimple},
	OIDVoid:        {OID: OIDVoid, Name: "void", Schema: "pg_catalog", Kind: KindPseudo},
	OIDRecord:      {OID: OIDRecord, Name: "record", Schema: "pg_catalog", Kind: KindPseudo},
	OIDUnknown:     {OID: OIDUnknown, Name: "unknown", Schema: "pg_catalog", Kind: KindPseudo},
}

var wellKnownArrays = map[uint32]uint32{
	OIDBoolArray:    OIDBool,
	OIDInt8Array:    OIDInt8,
	OIDInt2Array:    OIDInt2,
	OIDInt4Array:    OIDInt4,
	OIDTextArray:    OIDText,
	OIDVarcharArray: OIDVarchar,
	OIDFloat4Array:  OIDFloat4,
	OIDFloat8Array:  OIDFloat8,
}

// arrayNames mirrors PostgreSQL's typname for these array OIDs ("_name").
var arrayNames = map[uint32]string{
	OIDBoolArray:    "_bool",
	OIDInt8Array:    "_int8",
	OIDInt2Array:    "_int2",
	OIDInt4Array:    "_int4",
	OIDTextArray:    "_text",
	OIDVarcharArray: "_varchar",
	OIDFloat4Array:  "_float4",
	OIDFloat8Array:  "_float8",
}

// LookupWellKnown implements rule 1 of type resolution (§4.5): a static
// table hit for built-in scalars, their array forms, and the universal
// pseudo-types. ok is false for anything not in the table, in which case
// the caller must fall through to the catalog-backed rules.
func LookupWellKnown(oid uint32) (Type, bool) {
	if t, ok := wellKnown[oid]; ok {
		return t, true
	}
	if elemOID, ok := wellKnownArrays[oid]; ok {
		elem := wellKnown[elemOID]
		return Type{
			OID:    oid,
			Name:   arrayNames[oid],
			Schema: "pg_catalog",
			Kind:   KindArray,
			Elem:   &elem,
		}, true
	}
	return Type{}, false
}
