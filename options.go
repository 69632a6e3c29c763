package pgclient

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/pgcore/pgclient/internal/clientopts"
	"github.com/pgcore/pgclient/internal/metrics"
)

type connectConfig struct {
	logger      *slog.Logger
	metrics     *metrics.Collector
	tlsConfig   *tls.Config
	dialTimeout time.Duration
	options     clientopts.ClientOptions
}

func defaultConnectConfig() connectConfig {
	cfg := connectConfig{
		logger:      slog.Default(),
		dialTimeout: 10 * time.Second,
	}
	cfg.options.ApplyDefaults()
	return cfg
}

// Option customizes Connect.
type Option func(*connectConfig)

// WithLogger installs a *slog.Logger for desync transitions, auth
// fallback negotiation, and type-info bootstrap fallbacks. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *connectConfig) { c.logger = l }
}

// WithMetrics registers a *metrics.Collector for this Conn. Without one,
// every metrics call is a no-op.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *connectConfig) { c.metrics = m }
}

// WithTLSConfig enables SSLRequest negotiation before the startup
// handshake, using tlsConfig's policy once the server agrees to encrypt.
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *connectConfig) { c.tlsConfig = tlsConfig }
}

// WithDialTimeout bounds the initial TCP/Unix dial. Defaults to 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *connectConfig) { c.dialTimeout = d }
}

// WithClientOptions seeds the statement-cache soft cap and notice log
// level from a loaded ClientOptions instead of the library defaults.
// Conn.ApplyOptions can change these later, e.g. from a hot-reloaded
// clientopts.Watcher.
func WithClientOptions(o clientopts.ClientOptions) Option {
	return func(c *connectConfig) { c.options = o }
}
