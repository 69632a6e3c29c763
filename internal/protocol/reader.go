package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// deadlineConn is the subset of net.Conn the reader needs to support timed
// and non-blocking reads. Any stream returned by the transport negotiator
// (TCP or TLS-wrapped TCP, or a Unix domain socket) satisfies it.
type deadlineConn interface {
	SetReadDeadline(time.Time) error
}

// Reader deserializes backend frames from a buffered stream. It is purely
// structural: a short read, a malformed length, or an unrecognized tag is
// reported as an I/O-kind error, never interpreted.
type Reader struct {
	br   *bufio.Reader
	conn deadlineConn
}

// NewReader wraps r with protocol framing. If r also implements
// SetReadDeadline (true for any net.Conn), ReadTimeout/ReadNonblocking are
// available; otherwise they report ErrDeadlineUnsupported.
func NewReader(r io.Reader) *Reader {
	rd := &Reader{br: bufio.NewReader(r)}
	if dc, ok := r.(deadlineConn); ok {
		rd.conn = dc
	}
	return rd
}

// ErrDeadlineUnsupported is returned by ReadTimeout/ReadNonblocking when the
// wrapped stream cannot have a read deadline applied.
var ErrDeadlineUnsupported = fmt.Errorf("protocol: underlying stream does not support read deadlines")

// Read blocks until one complete backend frame is available.
func (r *Reader) Read() (Frame, error) {
	return r.read()
}

// ReadTimeout blocks until one complete frame is available or the deadline
// elapses. ok is false with a nil error when no frame arrived in time and
// no partial frame had begun.
func (r *Reader) ReadTimeout(d time.Duration) (frame Frame, ok bool, err error) {
	if r.conn == nil {
		return Frame{}, false, ErrDeadlineUnsupported
	}
	if err := r.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return Frame{}, false, err
	}
	defer r.conn.SetReadDeadline(time.Time{})
	return r.readNonBlocking()
}

// ReadNonblocking returns immediately. ok is false with a nil error when no
// complete frame is ready right now and no partial frame had begun.
func (r *Reader) ReadNonblocking() (frame Frame, ok bool, err error) {
	if r.conn == nil {
		return Frame{}, false, ErrDeadlineUnsupported
	}
	if err := r.conn.SetReadDeadline(time.Now()); err != nil {
		return Frame{}, false, err
	}
	defer r.conn.SetReadDeadline(time.Time{})
	return r.readNonBlocking()
}

// readNonBlocking attempts one frame read under whatever deadline the
// caller already installed. If the very first byte (the tag) times out
// before any bytes were consumed, that is reported as "no frame yet"
// rather than an error: no partial frame means the stream is merely idle.
// A timeout after the tag byte has been read is a genuine I/O failure —
// the stream is now holding a half-delivered frame.
func (r *Reader) readNonBlocking() (Frame, bool, error) {
	tagBuf, err := r.br.Peek(1)
	if err != nil {
		if isTimeout(err) {
			return Frame{}, false, nil
		}
		return Frame{}, false, err
	}
	_ = tagBuf
	f, err := r.read()
	if err != nil {
		return Frame{}, false, err
	}
	return f, true, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (r *Reader) read() (Frame, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r.br, tagBuf[:]); err != nil {
		return Frame{}, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	payloadLen := int(binary.BigEndian.Uint32(lenBuf[:])) - 4
	if payloadLen < 0 || payloadLen > maxFrameLen {
		return Frame{}, fmt.Errorf("protocol: invalid frame length %d for tag %q", payloadLen, tagBuf[0])
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r.br, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: tagBuf[0], Data: payload}, nil
}
