// Package notify implements the notification and notice façade (§4.8):
// a FIFO queue of LISTEN/NOTIFY payloads fed by the engine's async-frame
// demultiplexer, and a pluggable notice sink for NoticeResponse.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pgcore/pgclient/internal/engine"
	"github.com/pgcore/pgclient/internal/pgerr"
)

// Notification is one NotificationResponse payload (a LISTEN/NOTIFY
// delivery).
type Notification struct {
	PID     uint32
	Channel string
	Payload string
}

// NoticeHandler receives NoticeResponse frames as they arrive. Installed
// handlers must not block — they run synchronously inside whatever read
// surfaced the notice.
type NoticeHandler func(pgerr.DBError)

// Queue is the notification FIFO plus the notice sink, wired onto an
// engine's OnNotify/OnNotice hooks. One Queue per session.
type Queue struct {
	eng *engine.Engine

	mu      sync.Mutex
	pending []Notification

	notice atomicValue

	// OnNotification, if set, is invoked after each NotificationResponse
	// is enqueued. Wired to metrics.Collector.NotificationReceived by the
	// root package, same as Stream.OnDesync and Resolver.OnResolved.
	OnNotification func()
}

// New wires a Queue onto eng's demultiplexer hooks. It installs a default
// notice sink that logs through slog; callers can override it with
// SetNoticeHandler.
func New(eng *engine.Engine) *Queue {
	q := &Queue{eng: eng}
	q.notice.handler = defaultNoticeHandler
	eng.OnNotify = q.onNotify
	eng.OnNotice = q.onNotice
	return q
}

// atomic value is a tiny mutex-guarded box for the notice handler. A
// plain sync.Mutex is used rather than atomic.Value because the handler
// is a non-comparable func value and swaps are already serialized by the
// single-threaded-per-session usage model; this just needs to be safe
// against the rare cross-goroutine swap.
type atomicValue struct {
	mu      sync.Mutex
	handler NoticeHandler
}

func (a *atomicValue) load() NoticeHandler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handler
}

func (a *atomicValue) store(h NoticeHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

func defaultNoticeHandler(n pgerr.DBError) {
	switch n.Severity() {
	case "WARNING", "ERROR":
		slog.Warn("postgres notice", "severity", n.Severity(), "message", n.Message(), "code", n.Code())
	default:
		slog.Info("postgres notice", "severity", n.Severity(), "message", n.Message())
	}
}

func (q *Queue) onNotify(pid uint32, channel, payload string) {
	q.mu.Lock()
	q.pending = append(q.pending, Notification{PID: pid, Channel: channel, Payload: payload})
	q.mu.Unlock()
	if q.OnNotification != nil {
		q.OnNotification()
	}
}

func (q *Queue) onNotice(dbErr pgerr.DBError) {
	if h := q.notice.load(); h != nil {
		h(dbErr)
	}
}

// SetNoticeHandler installs h as the notice sink, replacing the default
// slog-based one (or a previously installed one). Passing nil silences
// notices entirely.
func (q *Queue) SetNoticeHandler(h NoticeHandler) {
	q.notice.store(h)
}

// Len returns the number of notifications currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) popLocked() (Notification, bool) {
	if len(q.pending) == 0 {
		return Notification{}, false
	}
	n := q.pending[0]
	q.pending = q.pending[1:]
	return n, true
}

// TryPop returns the oldest queued notification without blocking or
// driving any read. Use Poll to actively check the transport for a new
// one.
func (q *Queue) TryPop() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Poll drives exactly one non-blocking read of the transport (servicing
// whatever frame, if any, is already buffered) and then pops. It never
// blocks waiting for network data.
func (q *Queue) Poll() (Notification, bool, error) {
	if _, err := q.eng.DrainAsync(0); err != nil {
		return Notification{}, false, err
	}
	n, ok := q.TryPop()
	return n, ok, nil
}

// WaitTimeout blocks for up to d driving reads of the transport, popping
// as soon as a notification is queued or the deadline elapses.
func (q *Queue) WaitTimeout(d time.Duration) (Notification, bool, error) {
	if n, ok := q.TryPop(); ok {
		return n, true, nil
	}
	deadline := d
	for {
		start := time.Now()
		ok, err := q.eng.DrainAsync(deadline)
		if err != nil {
			return Notification{}, false, err
		}
		if n, popped := q.TryPop(); popped {
			return n, true, nil
		}
		if !ok {
			return Notification{}, false, nil
		}
		elapsed := time.Since(start)
		if elapsed >= deadline {
			return Notification{}, false, nil
		}
		deadline -= elapsed
	}
}

// waitPollInterval bounds how long Wait blocks on a single read before
// re-checking ctx, since a true indefinite read cannot be interrupted by
// context cancellation mid-flight.
const waitPollInterval = time.Second

// Wait blocks until a notification arrives or ctx is done. Cancellation
// takes effect between reads, not inside one: a deadline far below
// waitPollInterval may overshoot slightly.
func (q *Queue) Wait(ctx context.Context) (Notification, error) {
	if n, ok := q.TryPop(); ok {
		return n, nil
	}
	for {
		select {
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		default:
		}
		if _, err := q.eng.DrainAsync(waitPollInterval); err != nil {
			return Notification{}, err
		}
		if n, ok := q.TryPop(); ok {
			return n, nil
		}
	}
}
