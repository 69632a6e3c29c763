package protocol

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	tag, payload := Query("SELECT 1")
	if err := w.Tagged(tag, payload); err != nil {
		t.Fatalf("Tagged: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	f, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Type != FrontendQuery {
		t.Errorf("type = %q, want %q", f.Type, FrontendQuery)
	}
	if string(f.Data) != "SELECT 1\x00" {
		t.Errorf("data = %q", f.Data)
	}
}

func TestReaderRejectsBadLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte('Z')
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // absurd length
	r := NewReader(&buf)
	if _, err := r.Read(); err == nil {
		t.Fatal("expected error for malformed length")
	}
}

func TestReaderShortFrameIsIOError(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte('Z')
	buf.Write([]byte{0, 0, 0, 10}) // claims 6 bytes of payload, sends none
	r := NewReader(&buf)
	if _, err := r.Read(); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestReaderNonblockingNoFrameYet(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := NewReader(server)
	f, ok, err := r.ReadNonblocking()
	if err != nil {
		t.Fatalf("ReadNonblocking: %v", err)
	}
	if ok {
		t.Fatalf("expected no frame, got %+v", f)
	}
}

func TestReaderTimeoutThenDelivered(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := NewReader(server)

	f, ok, err := r.ReadTimeout(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadTimeout: %v", err)
	}
	if ok {
		t.Fatalf("expected timeout, got frame %+v", f)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w := NewWriter(client)
		tag, payload := Sync()
		w.Tagged(tag, payload)
		w.Flush()
	}()

	f, ok, err = r.ReadTimeout(time.Second)
	<-done
	if err != nil {
		t.Fatalf("ReadTimeout: %v", err)
	}
	if !ok {
		t.Fatal("expected a frame")
	}
	if f.Type != FrontendSync {
		t.Errorf("type = %q", f.Type)
	}
}

func TestBindEncodesNullsAndValues(t *testing.T) {
	_, payload := Bind("", "s1", [][]byte{[]byte{0, 0, 0, 1}, nil})
	if len(payload) == 0 {
		t.Fatal("empty payload")
	}
	// portalName \0 stmtName \0 => two NULs, then format codes, count, values.
	if payload[0] != 0 || payload[1] != 's' {
		t.Fatalf("unexpected prefix: %v", payload[:4])
	}
}
