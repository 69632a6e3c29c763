package protocol

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Writer serializes frontend frames onto a buffered stream. It is purely
// structural: it knows frame layout, not message semantics.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps w with protocol framing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Flush drains any buffered writes to the underlying stream.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// frame writes tag (if non-zero) followed by a 4-byte length (covering
// itself and payload) followed by payload. A zero tag omits the tag byte,
// used by StartupMessage, SSLRequest and CancelRequest.
func (w *Writer) frame(tag byte, payload []byte) error {
	if tag != 0 {
		if err := w.w.WriteByte(tag); err != nil {
			return err
		}
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(4+len(payload)))
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.w.Write(payload)
	return err
}

// Untagged writes a length-prefixed, untagged frame (StartupMessage,
// SSLRequest, CancelRequest).
func (w *Writer) Untagged(payload []byte) error {
	return w.frame(0, payload)
}

// Tagged writes a length-prefixed frame with a leading tag byte.
func (w *Writer) Tagged(tag byte, payload []byte) error {
	return w.frame(tag, payload)
}

// appendCString appends s followed by a NUL terminator.
func appendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// appendUint32 appends v in network byte order.
func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// appendUint16 appends v in network byte order.
func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

// appendInt32 appends v in network byte order.
func appendInt32(buf []byte, v int32) []byte {
	return appendUint32(buf, uint32(v))
}
