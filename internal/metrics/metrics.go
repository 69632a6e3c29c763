// Package metrics provides the optional Prometheus collector (§4.10):
// per-Conn counters for dialing, byte counts, statement preparation,
// type resolution, notifications, and desync events.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every pgclient Prometheus metric. A Conn built without
// one is a no-op — callers pass nil-safe methods directly from Conn, or
// construct a Collector with New() and hand it in as an Option.
//
// The scalar counters are mirrored into plain atomic.Int64 fields
// alongside their Prometheus counterparts so the debug server (§4.11)
// can read current values directly instead of scraping its own
// registry.
type Collector struct {
	Registry *prometheus.Registry

	connectionsDialed  *prometheus.CounterVec
	bytesWritten       prometheus.Counter
	bytesRead          prometheus.Counter
	statementsPrepared *prometheus.CounterVec
	typeResolutions    *prometheus.CounterVec
	notificationsTotal prometheus.Counter
	desyncTotal        prometheus.Counter

	bytesWrittenCount       atomic.Int64
	bytesReadCount          atomic.Int64
	notificationsCount      atomic.Int64
	desyncCount             atomic.Int64
	statementsPreparedCount atomic.Int64
}

// New creates and registers a fresh Collector on its own registry. Safe
// to call more than once — each call is independent.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsDialed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgclient_connections_dialed_total",
				Help: "Number of connection attempts, by outcome",
			},
			[]string{"outcome"},
		),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_bytes_written_total",
			Help: "Total bytes written to the backend",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_bytes_read_total",
			Help: "Total bytes read from the backend",
		}),
		statementsPrepared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgclient_statements_prepared_total",
				Help: "Statements prepared, partitioned by cached vs fresh",
			},
			[]string{"cached"},
		),
		typeResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgclient_type_resolutions_total",
				Help: "Type OID resolutions, by source",
			},
			[]string{"source"}, // "well_known", "cache", "catalog"
		),
		notificationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_notifications_received_total",
			Help: "LISTEN/NOTIFY notifications received",
		}),
		desyncTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgclient_desync_total",
			Help: "Number of times a session's desynchronization latch tripped",
		}),
	}

	reg.MustRegister(
		c.connectionsDialed,
		c.bytesWritten,
		c.bytesRead,
		c.statementsPrepared,
		c.typeResolutions,
		c.notificationsTotal,
		c.desyncTotal,
	)

	return c
}

// ConnectionDialed records a dial attempt's outcome ("ok" or "error").
func (c *Collector) ConnectionDialed(outcome string) {
	if c == nil {
		return
	}
	c.connectionsDialed.WithLabelValues(outcome).Inc()
}

// BytesWritten adds n to the cumulative bytes-written counter.
func (c *Collector) BytesWritten(n int) {
	if c == nil {
		return
	}
	c.bytesWritten.Add(float64(n))
	c.bytesWrittenCount.Add(int64(n))
}

// BytesRead adds n to the cumulative bytes-read counter.
func (c *Collector) BytesRead(n int) {
	if c == nil {
		return
	}
	c.bytesRead.Add(float64(n))
	c.bytesReadCount.Add(int64(n))
}

// StatementPrepared records a Prepare/PrepareCached call.
func (c *Collector) StatementPrepared(cached bool) {
	if c == nil {
		return
	}
	label := "false"
	if cached {
		label = "true"
	}
	c.statementsPrepared.WithLabelValues(label).Inc()
	c.statementsPreparedCount.Add(1)
}

// TypeResolved records which rule satisfied a type OID lookup:
// "well_known", "cache", or "catalog".
func (c *Collector) TypeResolved(source string) {
	if c == nil {
		return
	}
	c.typeResolutions.WithLabelValues(source).Inc()
}

// NotificationReceived increments the notification counter.
func (c *Collector) NotificationReceived() {
	if c == nil {
		return
	}
	c.notificationsTotal.Inc()
	c.notificationsCount.Add(1)
}

// Desynced increments the desync counter.
func (c *Collector) Desynced() {
	if c == nil {
		return
	}
	c.desyncTotal.Inc()
	c.desyncCount.Add(1)
}

// Snapshot is a point-in-time read of the scalar counters, used by the
// debug server (§4.11) to mirror cumulative counts without scraping its
// own registry.
type Snapshot struct {
	BytesWritten       int64
	BytesRead          int64
	Notifications      int64
	Desyncs            int64
	StatementsPrepared int64
}

// Snapshot returns the current scalar counter values. A nil Collector
// returns a zero Snapshot.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		BytesWritten:       c.bytesWrittenCount.Load(),
		BytesRead:          c.bytesReadCount.Load(),
		Notifications:      c.notificationsCount.Load(),
		Desyncs:            c.desyncCount.Load(),
		StatementsPrepared: c.statementsPreparedCount.Load(),
	}
}
