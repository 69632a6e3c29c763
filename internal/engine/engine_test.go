package engine

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pgcore/pgclient/internal/pgerr"
	"github.com/pgcore/pgclient/internal/protocol"
	"github.com/pgcore/pgclient/internal/session"
)

type fakeServer struct {
	conn net.Conn
}

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

func uint16b(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func uint32b(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func cstr(s string) []byte { return append([]byte(s), 0) }

func TestRawPrepareHappyPath(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	e := New(session.New(client))

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := fakeServer{server}
		fs.readFrame(t) // Parse
		fs.readFrame(t) // Describe
		fs.readFrame(t) // Sync
		fs.write(t, protocol.BackendParseComplete, nil)
		// one int4 parameter
		fs.write(t, protocol.BackendParameterDesc, append(uint16b(1), uint32b(23)...))
		// one text column
		rd := append(uint16b(1), cstr("n")...)
		rd = append(rd, uint32b(0)...)  // table oid
		rd = append(rd, uint16b(0)...)  // table column
		rd = append(rd, uint32b(25)...) // type oid (text)
		rd = append(rd, uint16b(0xffff)...)
		rd = append(rd, uint32b(0xffffffff)...)
		rd = append(rd, uint16b(1)...)
		fs.write(t, protocol.BackendRowDescription, rd)
		fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
	}()

	ps, err := e.RawPrepare("s1", "SELECT $1::int4")
	<-done
	if err != nil {
		t.Fatalf("RawPrepare: %v", err)
	}
	if len(ps.ParamOIDs) != 1 || ps.ParamOIDs[0] != 23 {
		t.Errorf("paramOIDs = %v", ps.ParamOIDs)
	}
	if len(ps.Columns) != 1 || ps.Columns[0].Name != "n" || ps.Columns[0].TypeOID != 25 {
		t.Errorf("columns = %+v", ps.Columns)
	}
}

func TestRawPrepareServerError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	e := New(session.New(client))

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := fakeServer{server}
		fs.readFrame(t) // Parse
		fs.readFrame(t) // Describe
		fs.readFrame(t) // Sync
		errPayload := append([]byte{'S'}, cstr("ERROR")...)
		errPayload = append(errPayload, 'C')
		errPayload = append(errPayload, cstr("42601")...)
		errPayload = append(errPayload, 'M')
		errPayload = append(errPayload, cstr("syntax error")...)
		errPayload = append(errPayload, 0)
		fs.write(t, protocol.BackendErrorResponse, errPayload)
		fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
	}()

	_, err := e.RawPrepare("s1", "GARBAGE")
	<-done
	if err == nil {
		t.Fatal("expected error")
	}
	if e.stream.Desynchronized() {
		t.Fatal("a well-formed ErrorResponse must not desynchronize the stream")
	}
}

func TestReadRowsExhausted(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	e := New(session.New(client))

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := fakeServer{server}
		row := append(uint16b(1), uint32b(1)...)
		row = append(row, '1')
		fs.write(t, protocol.BackendDataRow, row)
		fs.write(t, protocol.BackendCommandComplete, cstr("SELECT 1"))
		fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
	}()

	var rows []Row
	more, tag, err := e.ReadRows(&rows)
	<-done
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if more {
		t.Error("expected moreRows=false")
	}
	if tag != "SELECT 1" {
		t.Errorf("tag = %q", tag)
	}
	if len(rows) != 1 || string(rows[0][0]) != "1" {
		t.Errorf("rows = %v", rows)
	}
}

func TestReadRowsSuspended(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	e := New(session.New(client))

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := fakeServer{server}
		fs.write(t, protocol.BackendPortalSuspended, nil)
		fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
	}()

	var rows []Row
	more, _, err := e.ReadRows(&rows)
	<-done
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if !more {
		t.Error("expected moreRows=true")
	}
}

func TestReadRowsRejectsCopyIn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	e := New(session.New(client))

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := fakeServer{server}
		fs.write(t, protocol.BackendCopyInResponse, []byte{0, 0, 0})
		fs.readFrame(t) // CopyFail
		fs.readFrame(t) // Sync
		errPayload := append([]byte{'S'}, cstr("ERROR")...)
		errPayload = append(errPayload, 'M')
		errPayload = append(errPayload, cstr("COPY canceled")...)
		errPayload = append(errPayload, 0)
		fs.write(t, protocol.BackendErrorResponse, errPayload)
		fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
	}()

	var rows []Row
	_, _, err := e.ReadRows(&rows)
	<-done
	if err == nil {
		t.Fatal("expected COPY rejection error")
	}
}

func TestReadRowsRejectsCopyOut(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	str := session.New(client)
	e := New(str)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := fakeServer{server}
		fs.write(t, protocol.BackendCopyOutResponse, []byte{0, 0, 0})
		fs.write(t, protocol.BackendCopyData, []byte("1\tfoo\n"))
		fs.write(t, protocol.BackendCopyData, []byte("2\tbar\n"))
		fs.write(t, protocol.BackendCopyDone, nil)
		fs.write(t, protocol.BackendCommandComplete, cstr("COPY 2"))
		fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
	}()

	var rows []Row
	_, _, err := e.ReadRows(&rows)
	<-done
	if err == nil {
		t.Fatal("expected a COPY OUT rejection error")
	}
	if str.Desynchronized() {
		t.Error("draining a COPY OUT must not desynchronize the session")
	}
}

func TestQuickQueryCollectsRows(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	e := New(session.New(client))

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := fakeServer{server}
		fs.readFrame(t) // Query
		fs.write(t, protocol.BackendRowDescription, uint16b(0))
		row := append(uint16b(1), uint32b(2)...)
		row = append(row, 'o', 'k')
		fs.write(t, protocol.BackendDataRow, row)
		fs.write(t, protocol.BackendCommandComplete, cstr("SELECT 1"))
		fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
	}()

	rows, err := e.QuickQuery("SELECT 'ok'")
	<-done
	if err != nil {
		t.Fatalf("QuickQuery: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "ok" {
		t.Errorf("rows = %v", rows)
	}
}

func TestDemuxSkipsNoticeParamNotify(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	e := New(session.New(client))

	var noticeMsgs, paramKeys, notifyChans []string
	e.OnNotice = func(dbErr pgerr.DBError) { noticeMsgs = append(noticeMsgs, dbErr.Error()) }
	e.OnParam = func(k, v string) { paramKeys = append(paramKeys, k+"="+v) }
	e.OnNotify = func(pid uint32, channel, payload string) { notifyChans = append(notifyChans, channel) }

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := fakeServer{server}
		noticePayload := append([]byte{'S'}, cstr("NOTICE")...)
		noticePayload = append(noticePayload, 'M')
		noticePayload = append(noticePayload, cstr("hello")...)
		noticePayload = append(noticePayload, 0)
		fs.write(t, protocol.BackendNoticeResponse, noticePayload)
		fs.write(t, protocol.BackendParameterStatus, append(cstr("TimeZone"), cstr("GMT")...))
		fs.write(t, protocol.BackendNotification, append(uint32b(7), append(cstr("chan"), cstr("payload")...)...))
		fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
	}()

	if err := e.waitForReady(); err != nil {
		t.Fatalf("waitForReady: %v", err)
	}
	<-done

	if len(noticeMsgs) != 1 {
		t.Errorf("notices = %v", noticeMsgs)
	}
	if len(paramKeys) != 1 || paramKeys[0] != "TimeZone=GMT" {
		t.Errorf("params = %v", paramKeys)
	}
	if len(notifyChans) != 1 || notifyChans[0] != "chan" {
		t.Errorf("notify = %v", notifyChans)
	}
}

func TestDrainAsyncNonblockingNoFrame(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	// A net.Pipe has no internal buffering: a nonblocking read must
	// return immediately with ok=false when nothing has been written.
	e := New(session.New(client))
	ok, err := e.DrainAsync(0)
	if err != nil {
		t.Fatalf("DrainAsync: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false with nothing written")
	}
}

func TestDrainAsyncRejectsUnexpectedFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	e := New(session.New(client))

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := fakeServer{server}
		fs.write(t, protocol.BackendReadyForQuery, []byte{'I'})
	}()

	_, err := e.DrainAsync(time.Second)
	<-done
	if err == nil {
		t.Fatal("expected error for an unsolicited ReadyForQuery")
	}
	if !e.stream.Desynchronized() {
		t.Fatal("expected the stream to desynchronize")
	}
}
