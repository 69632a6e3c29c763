// Package codec implements the reference column codecs (§2, §4.1): a
// handful of binary-format encoders/decoders sufficient to exercise the
// engine end-to-end. The codec set itself is not a goal of the core —
// these exist so Prepare/Execute/Scan have something concrete to drive.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pgcore/pgclient/internal/pgtype"
)

// Codec encodes a Go value into the wire binary format for one type and
// decodes wire bytes back into a Go value. Decode receives isNull=true
// with a nil data slice for SQL NULL and must return (nil, nil) in that
// case; encoders signal NULL by returning (nil, true, nil).
type Codec interface {
	Encode(v any) (data []byte, isNull bool, err error)
	Decode(data []byte, isNull bool) (any, error)
}

type boolCodec struct{}

func (boolCodec) Encode(v any) ([]byte, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, false, fmt.Errorf("codec: expected bool, got %T", v)
	}
	if b {
		return []byte{1}, false, nil
	}
	return []byte{0}, false, nil
}

func (boolCodec) Decode(data []byte, isNull bool) (any, error) {
	if isNull {
		return nil, nil
	}
	if len(data) != 1 {
		return nil, fmt.Errorf("codec: bool: expected 1 byte, got %d", len(data))
	}
	return data[0] != 0, nil
}

type int2Codec struct{}

func (int2Codec) Encode(v any) ([]byte, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	n, err := asInt64(v)
	if err != nil {
		return nil, false, err
	}
	if n < -1<<15 || n > 1<<15-1 {
		return nil, false, fmt.Errorf("codec: int2: value %d out of range", n)
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(int16(n)))
	return buf, false, nil
}

func (int2Codec) Decode(data []byte, isNull bool) (any, error) {
	if isNull {
		return nil, nil
	}
	if len(data) != 2 {
		return nil, fmt.Errorf("codec: int2: expected 2 bytes, got %d", len(data))
	}
	return int16(binary.BigEndian.Uint16(data)), nil
}

type int4Codec struct{}

func (int4Codec) Encode(v any) ([]byte, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	n, err := asInt64(v)
	if err != nil {
		return nil, false, err
	}
	if n < -1<<31 || n > 1<<31-1 {
		return nil, false, fmt.Errorf("codec: int4: value %d out of range", n)
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(n)))
	return buf, false, nil
}

func (int4Codec) Decode(data []byte, isNull bool) (any, error) {
	if isNull {
		return nil, nil
	}
	if len(data) != 4 {
		return nil, fmt.Errorf("codec: int4: expected 4 bytes, got %d", len(data))
	}
	return int32(binary.BigEndian.Uint32(data)), nil
}

type int8Codec struct{}

func (int8Codec) Encode(v any) ([]byte, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	n, err := asInt64(v)
	if err != nil {
		return nil, false, err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf, false, nil
}

func (int8Codec) Decode(data []byte, isNull bool) (any, error) {
	if isNull {
		return nil, nil
	}
	if len(data) != 8 {
		return nil, fmt.Errorf("codec: int8: expected 8 bytes, got %d", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// textCodec covers both text and varchar: the binary format for each is
// simply the string's raw bytes, with no length prefix (framing already
// carries the length).
type textCodec struct{}

func (textCodec) Encode(v any) ([]byte, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, false, fmt.Errorf("codec: expected string, got %T", v)
	}
	return []byte(s), false, nil
}

func (textCodec) Decode(data []byte, isNull bool) (any, error) {
	if isNull {
		return nil, nil
	}
	return string(data), nil
}

// byteaCodec passes bytes through unchanged — the binary format for
// bytea is the raw payload itself.
type byteaCodec struct{}

func (byteaCodec) Encode(v any) ([]byte, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("codec: expected []byte, got %T", v)
	}
	return b, false, nil
}

func (byteaCodec) Decode(data []byte, isNull bool) (any, error) {
	if isNull {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("codec: expected an integer type, got %T", v)
	}
}

var registry = map[uint32]Codec{
	pgtype.OIDBool:    boolCodec{},
	pgtype.OIDInt2:    int2Codec{},
	pgtype.OIDInt4:    int4Codec{},
	pgtype.OIDInt8:    int8Codec{},
	pgtype.OIDText:    textCodec{},
	pgtype.OIDVarchar: textCodec{},
	pgtype.OIDBytea:   byteaCodec{},
}

// Lookup returns the reference codec for oid, if one is registered.
func Lookup(oid uint32) (Codec, bool) {
	c, ok := registry[oid]
	return c, ok
}
