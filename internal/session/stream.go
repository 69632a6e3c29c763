// Package session owns the buffered duplex stream underneath a connection
// and enforces the "desynchronized" latch (§4.2 of the spec): once any I/O
// or framing failure occurs, every subsequent operation on the stream fails
// immediately without touching the wire again.
package session

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/pgcore/pgclient/internal/protocol"
)

// ErrDesynchronized is returned by every Stream operation once the latch
// has tripped. It is sticky: reconnecting requires a brand new Stream.
var ErrDesynchronized = errors.New("pgclient: communication with the server has desynchronized")

// Stream wraps a duplex byte stream (TCP, TLS, or a Unix domain socket)
// with protocol framing and the desync latch. It has no notion of
// authentication or query semantics — that is the engine's job.
type Stream struct {
	conn net.Conn
	r    *protocol.Reader
	w    *protocol.Writer

	desynced atomic.Bool

	// OnDesync, if set, is invoked the moment the latch trips (from
	// either fail or MarkDesynchronized). Set once before any
	// concurrent use begins, same as Engine's async hooks.
	OnDesync func()
}

// New wraps an already-connected (and already encryption-negotiated, if
// applicable) duplex stream.
func New(conn net.Conn) *Stream {
	return &Stream{
		conn: conn,
		r:    protocol.NewReader(conn),
		w:    protocol.NewWriter(conn),
	}
}

// Desynchronized reports whether the latch has tripped. Safe to call
// concurrently with in-flight operations (e.g. from a diagnostics reader).
func (s *Stream) Desynchronized() bool {
	return s.desynced.Load()
}

// Conn returns the underlying connection, e.g. so the cancel package can
// read the address it is connected to.
func (s *Stream) Conn() net.Conn {
	return s.conn
}

// Close closes the underlying connection. It does not attempt a graceful
// Terminate; callers that want one should send it before calling Close.
func (s *Stream) Close() error {
	return s.conn.Close()
}

func (s *Stream) fail(err error) error {
	if err != nil {
		s.trip()
	}
	return err
}

// trip flips the latch and fires OnDesync exactly once.
func (s *Stream) trip() {
	if s.desynced.CompareAndSwap(false, true) && s.OnDesync != nil {
		s.OnDesync()
	}
}

// checkSync returns ErrDesynchronized if the latch has already tripped.
func (s *Stream) checkSync() error {
	if s.desynced.Load() {
		return ErrDesynchronized
	}
	return nil
}

// WriteFrame serializes one tagged (or, with tag==0, untagged) frontend
// frame. It does not flush.
func (s *Stream) WriteFrame(tag byte, payload []byte) error {
	if err := s.checkSync(); err != nil {
		return err
	}
	var err error
	if tag == 0 {
		err = s.w.Untagged(payload)
	} else {
		err = s.w.Tagged(tag, payload)
	}
	return s.fail(err)
}

// Flush drains buffered frontend frames onto the wire.
func (s *Stream) Flush() error {
	if err := s.checkSync(); err != nil {
		return err
	}
	return s.fail(s.w.Flush())
}

// ReadFrame blocks until one complete backend frame arrives.
func (s *Stream) ReadFrame() (protocol.Frame, error) {
	if err := s.checkSync(); err != nil {
		return protocol.Frame{}, err
	}
	f, err := s.r.Read()
	if err != nil {
		return protocol.Frame{}, s.fail(err)
	}
	return f, nil
}

// ReadFrameTimeout blocks until one complete frame arrives or the deadline
// elapses. ok is false with a nil error on a clean timeout (no partial
// frame observed); any other failure trips the latch.
func (s *Stream) ReadFrameTimeout(d time.Duration) (protocol.Frame, bool, error) {
	if err := s.checkSync(); err != nil {
		return protocol.Frame{}, false, err
	}
	f, ok, err := s.r.ReadTimeout(d)
	if err != nil {
		return protocol.Frame{}, false, s.fail(err)
	}
	return f, ok, nil
}

// ReadFrameNonblocking returns immediately. ok is false with a nil error
// when no complete frame is ready right now.
func (s *Stream) ReadFrameNonblocking() (protocol.Frame, bool, error) {
	if err := s.checkSync(); err != nil {
		return protocol.Frame{}, false, err
	}
	f, ok, err := s.r.ReadNonblocking()
	if err != nil {
		return protocol.Frame{}, false, s.fail(err)
	}
	return f, ok, nil
}

// MarkDesynchronized force-trips the latch, e.g. when a caller detects a
// protocol violation the Stream itself could not see (an unexpected frame
// that was structurally valid).
func (s *Stream) MarkDesynchronized() {
	s.trip()
}
