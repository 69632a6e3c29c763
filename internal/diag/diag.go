// Package diag implements the optional debug/introspection server
// (§4.11): a gorilla/mux HTTP server wrapping one or a few named
// sessions, exposing their already-published state over HTTP without
// ever touching the protocol stream itself.
package diag

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pgcore/pgclient/internal/metrics"
)

// CacheEntry describes one cached prepared statement for the /cache
// endpoint.
type CacheEntry struct {
	SQL     string `json:"sql"`
	Columns int    `json:"columns"`
}

// Session is the read-only view a wrapped connection exposes to the
// debug server. It is satisfied by the root package's Conn without diag
// importing it, keeping this package a leaf.
type Session interface {
	Desynchronized() bool
	TxDepth() int
	BackendPID() uint32
	RuntimeParams() map[string]string
	CacheEntries() []CacheEntry
	PendingNotifications() int
}

// Server wraps one or more named sessions with HTTP introspection
// endpoints. It never touches the protocol stream — every handler only
// reads already-published state off the Session interface or the
// metrics collector's atomic snapshot.
type Server struct {
	sessions   map[string]Session
	metrics    *metrics.Collector
	httpServer *http.Server
	startTime  time.Time
}

// New constructs a Server over the given named sessions. metrics may be
// nil, in which case /metrics and the mirrored counters in /stats are
// omitted.
func New(sessions map[string]Session, m *metrics.Collector) *Server {
	return &Server{sessions: sessions, metrics: m, startTime: time.Now()}
}

// Handler builds the mux.Router for direct use in tests (via
// httptest.NewRequest/NewRecorder) or behind a caller-managed listener.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/status/{name}", s.statusHandler).Methods("GET")
	r.HandleFunc("/stats", s.statsHandler).Methods("GET")
	r.HandleFunc("/stats/{name}", s.statsHandler).Methods("GET")
	r.HandleFunc("/cache", s.cacheHandler).Methods("GET")
	r.HandleFunc("/cache/{name}", s.cacheHandler).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Start begins serving on addr (e.g. "127.0.0.1:6433"). It returns once
// the listener is bound; serving continues in a background goroutine.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go s.httpServer.Serve(ln)
	return nil
}

// Stop closes the listener and any active connections immediately;
// in-flight requests are not drained.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) resolve(r *http.Request) (string, Session, bool) {
	name := mux.Vars(r)["name"]
	if name == "" {
		if len(s.sessions) != 1 {
			return "", nil, false
		}
		for n, sess := range s.sessions {
			return n, sess, true
		}
	}
	sess, ok := s.sessions[name]
	return name, sess, ok
}

type statusPayload struct {
	Name           string            `json:"name"`
	Desynchronized bool              `json:"desynchronized"`
	TxDepth        int               `json:"tx_depth"`
	BackendPID     uint32            `json:"backend_pid"`
	RuntimeParams  map[string]string `json:"runtime_params"`
	UptimeSeconds  int               `json:"uptime_seconds"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	name, sess, ok := s.resolve(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown or ambiguous session name")
		return
	}
	writeJSON(w, http.StatusOK, statusPayload{
		Name:           name,
		Desynchronized: sess.Desynchronized(),
		TxDepth:        sess.TxDepth(),
		BackendPID:     sess.BackendPID(),
		RuntimeParams:  sess.RuntimeParams(),
		UptimeSeconds:  int(time.Since(s.startTime).Seconds()),
	})
}

type statsPayload struct {
	Name                 string           `json:"name"`
	StatementCacheSize    int             `json:"statement_cache_size"`
	PendingNotifications int              `json:"pending_notifications"`
	Metrics              *metrics.Snapshot `json:"metrics,omitempty"`
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	name, sess, ok := s.resolve(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown or ambiguous session name")
		return
	}
	payload := statsPayload{
		Name:                  name,
		StatementCacheSize:    len(sess.CacheEntries()),
		PendingNotifications: sess.PendingNotifications(),
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		payload.Metrics = &snap
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) cacheHandler(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.resolve(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown or ambiguous session name")
		return
	}
	writeJSON(w, http.StatusOK, sess.CacheEntries())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
