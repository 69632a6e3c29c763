package codec

import (
	"bytes"
	"testing"

	"github.com/pgcore/pgclient/internal/pgtype"
)

func TestBoolRoundTrip(t *testing.T) {
	c, ok := Lookup(pgtype.OIDBool)
	if !ok {
		t.Fatal("bool codec not registered")
	}
	data, isNull, err := c.Encode(true)
	if err != nil || isNull {
		t.Fatalf("Encode(true) = %v, %v, %v", data, isNull, err)
	}
	v, err := c.Decode(data, false)
	if err != nil || v != true {
		t.Fatalf("Decode = %v, %v", v, err)
	}

	data, _, _ = c.Encode(false)
	v, err = c.Decode(data, false)
	if err != nil || v != false {
		t.Fatalf("Decode(false) = %v, %v", v, err)
	}
}

func TestBoolRejectsWrongType(t *testing.T) {
	c, _ := Lookup(pgtype.OIDBool)
	if _, _, err := c.Encode("nope"); err == nil {
		t.Fatal("expected error encoding non-bool")
	}
	if _, err := c.Decode([]byte{1, 2}, false); err == nil {
		t.Fatal("expected error decoding wrong-length bool")
	}
}

func TestInt2RoundTrip(t *testing.T) {
	c, _ := Lookup(pgtype.OIDInt2)
	data, _, err := c.Encode(int16(-42))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 bytes, got %d", len(data))
	}
	v, err := c.Decode(data, false)
	if err != nil || v != int16(-42) {
		t.Fatalf("Decode = %v, %v", v, err)
	}
}

func TestInt2RejectsOutOfRange(t *testing.T) {
	c, _ := Lookup(pgtype.OIDInt2)
	if _, _, err := c.Encode(int64(1 << 20)); err == nil {
		t.Fatal("expected range error")
	}
}

func TestInt4RoundTrip(t *testing.T) {
	c, _ := Lookup(pgtype.OIDInt4)
	data, _, err := c.Encode(int32(123456))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	v, err := c.Decode(data, false)
	if err != nil || v != int32(123456) {
		t.Fatalf("Decode = %v, %v", v, err)
	}
}

func TestInt8RoundTrip(t *testing.T) {
	c, _ := Lookup(pgtype.OIDInt8)
	data, _, err := c.Encode(int64(-9001))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(data))
	}
	v, err := c.Decode(data, false)
	if err != nil || v != int64(-9001) {
		t.Fatalf("Decode = %v, %v", v, err)
	}
}

func TestTextRoundTrip(t *testing.T) {
	c, _ := Lookup(pgtype.OIDText)
	data, isNull, err := c.Encode("hello world")
	if err != nil || isNull {
		t.Fatalf("Encode = %v, %v, %v", data, isNull, err)
	}
	if !bytes.Equal(data, []byte("hello world")) {
		t.Fatalf("got %q", data)
	}
	v, err := c.Decode(data, false)
	if err != nil || v != "hello world" {
		t.Fatalf("Decode = %v, %v", v, err)
	}
}

func TestVarcharUsesSameCodecAsText(t *testing.T) {
	text, _ := Lookup(pgtype.OIDText)
	varchar, _ := Lookup(pgtype.OIDVarchar)
	if text != varchar {
		t.Error("expected text and varchar to share a codec")
	}
}

func TestByteaRoundTrip(t *testing.T) {
	c, _ := Lookup(pgtype.OIDBytea)
	input := []byte{0x00, 0xFF, 0x10, 0xAB}
	data, isNull, err := c.Encode(input)
	if err != nil || isNull {
		t.Fatalf("Encode = %v, %v, %v", data, isNull, err)
	}
	if !bytes.Equal(data, input) {
		t.Fatalf("got %v, want %v", data, input)
	}
	v, err := c.Decode(data, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := v.([]byte)
	if !ok || !bytes.Equal(got, input) {
		t.Fatalf("Decode = %v", v)
	}
}

func TestByteaDecodeCopiesBackingArray(t *testing.T) {
	c, _ := Lookup(pgtype.OIDBytea)
	input := []byte{1, 2, 3}
	v, err := c.Decode(input, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := v.([]byte)
	input[0] = 0xFF
	if got[0] == 0xFF {
		t.Error("Decode must not alias the input slice")
	}
}

func TestEncodeNilProducesNull(t *testing.T) {
	for _, oid := range []uint32{pgtype.OIDBool, pgtype.OIDInt2, pgtype.OIDInt4, pgtype.OIDInt8, pgtype.OIDText, pgtype.OIDBytea} {
		c, _ := Lookup(oid)
		data, isNull, err := c.Encode(nil)
		if err != nil || !isNull || data != nil {
			t.Errorf("oid %d: Encode(nil) = %v, %v, %v", oid, data, isNull, err)
		}
	}
}

func TestDecodeNullProducesNilValue(t *testing.T) {
	for _, oid := range []uint32{pgtype.OIDBool, pgtype.OIDInt2, pgtype.OIDInt4, pgtype.OIDInt8, pgtype.OIDText, pgtype.OIDBytea} {
		c, _ := Lookup(oid)
		v, err := c.Decode(nil, true)
		if err != nil || v != nil {
			t.Errorf("oid %d: Decode(nil, true) = %v, %v", oid, v, err)
		}
	}
}

func TestLookupUnknownOID(t *testing.T) {
	if _, ok := Lookup(pgtype.OIDUnknown); ok {
		t.Error("OIDUnknown should not have a registered codec")
	}
}
