// Package pgclient is a synchronous client for the PostgreSQL v3
// frontend/backend wire protocol: startup and authentication, the
// extended query protocol, catalog-backed type resolution, statement
// caching, transaction/savepoint nesting, and asynchronous notice/
// notification delivery, all on one single-owner session per Conn.
package pgclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pgcore/pgclient/internal/auth"
	"github.com/pgcore/pgclient/internal/cancel"
	"github.com/pgcore/pgclient/internal/clientopts"
	"github.com/pgcore/pgclient/internal/diag"
	"github.com/pgcore/pgclient/internal/dsn"
	"github.com/pgcore/pgclient/internal/engine"
	"github.com/pgcore/pgclient/internal/metrics"
	"github.com/pgcore/pgclient/internal/notify"
	"github.com/pgcore/pgclient/internal/pgerr"
	"github.com/pgcore/pgclient/internal/protocol"
	"github.com/pgcore/pgclient/internal/session"
	"github.com/pgcore/pgclient/internal/stmtcache"
	"github.com/pgcore/pgclient/internal/txn"
	"github.com/pgcore/pgclient/internal/typeresolve"
)

// Conn is one backend session: single-owner, single-threaded at a time.
// Every method that touches the protocol stream takes an internal mutex;
// a second concurrent caller blocks rather than corrupting the wire (§5).
// Desynchronized, BackendPID, PendingNotifications, SetNoticeHandler and
// Cancel do not take it.
type Conn struct {
	mu sync.Mutex

	stream   *session.Stream
	eng      *engine.Engine
	resolver *typeresolve.Resolver
	cache    *stmtcache.Cache
	txCtrl   *txn.Controller
	notifyQ  *notify.Queue

	network string // "tcp" or "unix", for Cancel's redial
	addr    string

	cancelKey   cancel.Key
	dialTimeout time.Duration

	params map[string]string

	logger  *slog.Logger
	metrics *metrics.Collector

	noticeLevel slog.Level
	closed      bool
}

// Connect dials dsnString ("postgresql://[user[:pass]@]host[:port][/db]
// [?k=v&...]"), completes the startup/auth handshake, and prepares the
// session's catalog-query bootstrap. The returned Conn is ready for
// Query/Execute/Prepare/Begin immediately.
func Connect(ctx context.Context, dsnString string, opts ...Option) (*Conn, error) {
	p, err := dsn.Parse(dsnString)
	if err != nil {
		return nil, pgerr.NewConnectError(err)
	}

	cfg := defaultConnectConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	network, addr := dialTarget(p)
	dialer := net.Dialer{Timeout: cfg.dialTimeout}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		cfg.metrics.ConnectionDialed("error")
		return nil, pgerr.NewConnectError(err)
	}
	cfg.metrics.ConnectionDialed("ok")

	conn := rawConn
	if cfg.tlsConfig != nil && network == "tcp" {
		conn, err = negotiateTLS(conn, cfg.tlsConfig)
		if err != nil {
			rawConn.Close()
			return nil, pgerr.NewConnectError(err)
		}
	}

	stream := session.New(conn)
	stream.OnDesync = cfg.metrics.Desynced

	authParams := auth.Params{
		User:     p.User,
		Password: p.Password,
		Database: p.Database,
		Options:  p.Options,
		NoticeFunc: func(n pgerr.DBError) {
			cfg.logger.Warn("notice during connection setup", "severity", n.Severity(), "message", n.Message())
		},
	}
	result, err := auth.Run(stream, authParams)
	if err != nil {
		stream.Close()
		return nil, err
	}

	eng := engine.New(stream)
	resolver, err := typeresolve.Setup(eng)
	if err != nil {
		stream.Close()
		return nil, pgerr.NewConnectError(err)
	}
	resolver.OnResolved = cfg.metrics.TypeResolved

	cache := stmtcache.New(eng, resolver, cfg.options.StatementCacheLimit)
	txCtrl := txn.New(eng)
	notifyQ := notify.New(eng)
	notifyQ.OnNotification = cfg.metrics.NotificationReceived

	c := &Conn{
		stream:      stream,
		eng:         eng,
		resolver:    resolver,
		cache:       cache,
		txCtrl:      txCtrl,
		notifyQ:     notifyQ,
		network:     network,
		addr:        addr,
		cancelKey:   cancel.Key{PID: result.BackendPID, SecretKey: result.SecretKey},
		dialTimeout: cfg.dialTimeout,
		params:      result.Parameters,
		logger:      cfg.logger,
		metrics:     cfg.metrics,
	}
	eng.OnParam = c.onParam
	c.applyNoticeLevel(cfg.options.NoticeLogLevel)

	return c, nil
}

func dialTarget(p dsn.Params) (network, addr string) {
	if p.IsUnixSocket {
		return "unix", filepath.Join(p.Host, fmt.Sprintf(".s.PGSQL.%d", p.Port))
	}
	return "tcp", net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// negotiateTLS sends SSLRequest on the raw connection and, if the server
// agrees, wraps it with tls.Client. The spec scopes tls.Config's policy
// to the caller; this only drives the handshake byte.
func negotiateTLS(conn net.Conn, tlsConfig *tls.Config) (net.Conn, error) {
	w := protocol.NewWriter(conn)
	if err := w.Untagged(protocol.SSLRequestPayload()); err != nil {
		return nil, fmt.Errorf("pgclient: ssl request: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("pgclient: ssl request flush: %w", err)
	}
	resp := make([]byte, 1)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return nil, fmt.Errorf("pgclient: ssl response: %w", err)
	}
	switch resp[0] {
	case 'S':
		return tls.Client(conn, tlsConfig), nil
	case 'N':
		return conn, nil
	default:
		return nil, fmt.Errorf("pgclient: unexpected SSLRequest response %q", resp[0])
	}
}

func (c *Conn) onParam(key, value string) {
	c.params[key] = value
}

// ApplyOptions adjusts the statement-cache soft cap and notice log level
// live, without touching in-flight protocol state.
func (c *Conn) ApplyOptions(o clientopts.ClientOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.SetLimit(o.StatementCacheLimit)
	c.applyNoticeLevel(o.NoticeLogLevel)
}

func (c *Conn) applyNoticeLevel(level string) {
	threshold := parseNoticeLevel(level)
	c.noticeLevel = threshold
	c.notifyQ.SetNoticeHandler(func(n pgerr.DBError) {
		lvl := slog.LevelInfo
		if n.Severity() == "WARNING" || n.Severity() == "ERROR" {
			lvl = slog.LevelWarn
		}
		if lvl < threshold {
			return
		}
		c.logger.Log(context.Background(), lvl, "postgres notice", "severity", n.Severity(), "message", n.Message(), "code", n.Code())
	})
}

func parseNoticeLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "off":
		return slog.LevelError + 1
	default:
		return slog.LevelInfo
	}
}

// Close attempts a best-effort Terminate and closes the underlying
// transport. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.stream.Desynchronized() {
		tag, payload := protocol.Terminate()
		if err := c.stream.WriteFrame(tag, payload); err == nil {
			c.stream.Flush()
		}
	}
	return c.stream.Close()
}

// Cancel sends an out-of-band CancelRequest for this session's
// in-flight operation over a brand-new connection. It may be called from
// any goroutine, concurrently with the Conn it targets.
func (c *Conn) Cancel(ctx context.Context) error {
	return cancel.Send(ctx, c.network, c.addr, c.cancelKey, c.dialTimeout)
}

// Desynchronized reports whether this session's communication latch has
// tripped; every subsequent operation will fail immediately.
func (c *Conn) Desynchronized() bool { return c.stream.Desynchronized() }

// BackendPID returns the server-assigned process ID for this session.
func (c *Conn) BackendPID() uint32 { return c.cancelKey.PID }

// TxDepth returns the current transaction nesting depth (0 = none).
func (c *Conn) TxDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txCtrl.Depth()
}

// RuntimeParams returns a snapshot of the server-reported runtime
// parameters (server_version, client_encoding, and so on).
func (c *Conn) RuntimeParams() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// PendingNotifications returns the number of notifications currently
// queued but not yet popped.
func (c *Conn) PendingNotifications() int { return c.notifyQ.Len() }

// CacheEntries reports the statement cache's current contents for the
// debug server's /cache endpoint. Conn satisfies diag.Session.
func (c *Conn) CacheEntries() []diag.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.cache.Entries()
	out := make([]diag.CacheEntry, len(entries))
	for i, e := range entries {
		out[i] = diag.CacheEntry{SQL: e.SQL, Columns: e.Columns}
	}
	return out
}

// SetNoticeHandler installs a custom sink for asynchronous NoticeResponse
// frames, replacing the default slog-based one.
func (c *Conn) SetNoticeHandler(h NoticeHandler) { c.notifyQ.SetNoticeHandler(h) }

// PollNotification performs a non-blocking pop of the notification
// queue, actively driving one non-blocking read first.
func (c *Conn) PollNotification() (Notification, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifyQ.Poll()
}

// WaitNotification blocks, up to d, for a notification to arrive.
func (c *Conn) WaitNotification(d time.Duration) (Notification, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifyQ.WaitTimeout(d)
}

// Begin opens the outermost transaction; see Tx.Transaction for nesting.
func (c *Conn) Begin(cfg TxConfig) (*Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txCtrl.Begin(cfg)
}
