package notify

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/pgcore/pgclient/internal/engine"
	"github.com/pgcore/pgclient/internal/pgerr"
	"github.com/pgcore/pgclient/internal/protocol"
	"github.com/pgcore/pgclient/internal/session"
)

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func cstr(s string) []byte { return append([]byte(s), 0) }

func writeNotification(t *testing.T, conn net.Conn, pid uint32, channel, payload string) {
	t.Helper()
	w := protocol.NewWriter(conn)
	data := append(u32(pid), cstr(channel)...)
	data = append(data, cstr(payload)...)
	if err := w.Tagged(protocol.BackendNotification, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func writeNotice(t *testing.T, conn net.Conn, severity, message string) {
	t.Helper()
	w := protocol.NewWriter(conn)
	var data []byte
	data = append(data, 'S')
	data = append(data, cstr(severity)...)
	data = append(data, 'M')
	data = append(data, cstr(message)...)
	data = append(data, 0)
	if err := w.Tagged(protocol.BackendNoticeResponse, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestPollPicksUpQueuedNotification(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	eng := engine.New(session.New(client))
	q := New(eng)

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeNotification(t, server, 42, "channel1", "hello")
	}()

	// Poll never waits on the network, so the notification is read and
	// queued by a blocking drain first.
	if _, err := eng.DrainAsync(-1); err != nil {
		t.Fatalf("DrainAsync: %v", err)
	}
	n, ok, err := q.Poll()
	<-done
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !ok {
		t.Fatal("expected a notification")
	}
	if n.PID != 42 || n.Channel != "channel1" || n.Payload != "hello" {
		t.Errorf("got %+v", n)
	}
}

func TestPollNonblockingEmptyQueue(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	eng := engine.New(session.New(client))
	q := New(eng)

	_, ok, err := q.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if ok {
		t.Error("expected no notification with nothing sent")
	}
}

func TestWaitTimeoutBlocksThenReceives(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	eng := engine.New(session.New(client))
	q := New(eng)

	go func() {
		time.Sleep(20 * time.Millisecond)
		writeNotification(t, server, 7, "ch", "payload")
	}()

	n, ok, err := q.WaitTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitTimeout: %v", err)
	}
	if !ok {
		t.Fatal("expected a notification before timeout")
	}
	if n.Channel != "ch" {
		t.Errorf("channel = %q", n.Channel)
	}
}

func TestWaitTimeoutExpiresWithoutNotification(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	eng := engine.New(session.New(client))
	q := New(eng)

	_, ok, err := q.WaitTimeout(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTimeout: %v", err)
	}
	if ok {
		t.Error("expected timeout with nothing sent")
	}
}

func TestNoticeInvokesCustomHandler(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	eng := engine.New(session.New(client))
	q := New(eng)

	var got pgerr.DBError
	received := make(chan struct{})
	q.SetNoticeHandler(func(n pgerr.DBError) {
		got = n
		close(received)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeNotice(t, server, "WARNING", "disk almost full")
	}()

	if _, err := eng.DrainAsync(-1); err != nil {
		t.Fatalf("DrainAsync: %v", err)
	}
	<-done
	<-received
	if got.Message() != "disk almost full" || got.Severity() != "WARNING" {
		t.Errorf("got %+v", got)
	}
}

func TestOnNotificationFiresOnEnqueue(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	eng := engine.New(session.New(client))
	q := New(eng)

	var fired int
	q.OnNotification = func() { fired++ }

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeNotification(t, server, 42, "channel1", "hello")
	}()

	if _, err := eng.DrainAsync(-1); err != nil {
		t.Fatalf("DrainAsync: %v", err)
	}
	if _, _, err := q.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	<-done
	if fired != 1 {
		t.Errorf("OnNotification fired %d times, want 1", fired)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	_ = server

	eng := engine.New(session.New(client))
	q := New(eng)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Wait(ctx)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
