package pgclient

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/pgcore/pgclient/internal/engine"
	"github.com/pgcore/pgclient/internal/notify"
	"github.com/pgcore/pgclient/internal/pgtype"
	"github.com/pgcore/pgclient/internal/protocol"
	"github.com/pgcore/pgclient/internal/session"
	"github.com/pgcore/pgclient/internal/stmtcache"
	"github.com/pgcore/pgclient/internal/txn"
	"github.com/pgcore/pgclient/internal/typeresolve"
)

// fakeServer drives the backend side of a net.Pipe (or a real accepted
// net.Conn) in these tests, reading and writing frames with the same
// framing the production client uses.
type fakeServer struct{ conn net.Conn }

func (f fakeServer) readFrame(t *testing.T) protocol.Frame {
	t.Helper()
	// Read straight off the conn: a fresh buffered Reader per call would
	// swallow the later frames of a batch the client flushed at once.
	var hdr [5]byte
	if _, err := io.ReadFull(f.conn, hdr[:]); err != nil {
		t.Fatalf("fake server read: %v", err)
	}
	data := make([]byte, binary.BigEndian.Uint32(hdr[1:])-4)
	if _, err := io.ReadFull(f.conn, data); err != nil {
		t.Fatalf("fake server read: %v", err)
	}
	return protocol.Frame{Type: hdr[0], Data: data}
}

func (f fakeServer) write(t *testing.T, tag byte, payload []byte) {
	t.Helper()
	w := protocol.NewWriter(f.conn)
	if err := w.Tagged(tag, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

// readStartupMessage consumes the one untagged frame a v3 client always
// sends first: a 4-byte length followed by the payload, with no leading
// tag byte (every other frontend message has one). protocol.Reader
// cannot be reused for this frame.
func (f fakeServer) readStartupMessage(t *testing.T) []byte {
	t.Helper()
	var lenBuf [4]byte
	if _, err := io.ReadFull(f.conn, lenBuf[:]); err != nil {
		t.Fatalf("read startup length: %v", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:]) - 4
	payload := make([]byte, n)
	if _, err := io.ReadFull(f.conn, payload); err != nil {
		t.Fatalf("read startup payload: %v", err)
	}
	return payload
}

func u16(v uint16) []byte  { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte  { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }
func cstr(s string) []byte { return append([]byte(s), 0) }

func rowDescriptionPayload(cols []protocol.ColumnDescription) []byte {
	rd := u16(uint16(len(cols)))
	for _, c := range cols {
		rd = append(rd, cstr(c.Name)...)
		rd = append(rd, u32(c.TableOID)...)
		rd = append(rd, u16(0)...)
		rd = append(rd, u32(c.TypeOID)...)
		rd = append(rd, u16(0xffff)...)
		rd = append(rd, u32(0xffffffff)...)
		rd = append(rd, u16(1)...)
	}
	return rd
}

func dataRowPayload(cols ...[]byte) []byte {
	row := u16(uint16(len(cols)))
	for _, v := range cols {
		if v == nil {
			row = append(row, u32(0xffffffff)...)
			continue
		}
		row = append(row, u32(uint32(len(v)))...)
		row = append(row, v...)
	}
	return row
}

// expectBootstrapCycle answers one of typeresolve.Setup's three
// Parse/Describe/Sync probes with a no-result-columns success, mirroring
// internal/typeresolve's own fakeServer test helper.
func expectBootstrapCycle(t *testing.T, fs fakeServer) {
	t.Helper()
	fs.readFrame(t) // Parse
	fs.readFrame(t) // Describe
	fs.readFrame(t) // Sync
	fs.write(t, protocol.BackendParseComplete, nil)
	fs.write(t, protocol.BackendParameterDesc, append(u16(1), u32(pgtype.OIDOID)...))
	fs.write(t, protocol.BackendNoData, nil)
	fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
}

// newTestConn builds a *Conn directly over a net.Pipe, driving the three
// type-resolver bootstrap cycles synchronously before returning — the
// same sequence Connect triggers via typeresolve.Setup — without dialing
// a real network address or running the startup/auth handshake.
func newTestConn(t *testing.T) (*Conn, fakeServer) {
	t.Helper()
	client, server := net.Pipe()
	fs := fakeServer{server}

	done := make(chan struct{})
	go func() {
		defer close(done)
		expectBootstrapCycle(t, fs) // __typeinfo_enum
		expectBootstrapCycle(t, fs) // __typeinfo_composite
		expectBootstrapCycle(t, fs) // __typeinfo
	}()

	stream := session.New(client)
	eng := engine.New(stream)
	resolver, err := typeresolve.Setup(eng)
	<-done
	if err != nil {
		t.Fatalf("typeresolve.Setup: %v", err)
	}

	c := &Conn{
		stream:   stream,
		eng:      eng,
		resolver: resolver,
		cache:    stmtcache.New(eng, resolver, 0),
		txCtrl:   txn.New(eng),
		notifyQ:  notify.New(eng),
		params:   map[string]string{},
		logger:   slog.Default(),
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return c, fs
}
