// Package dsn parses the connection-string form accepted by Connect
// (§6 of the spec): postgresql://[user[:pass]@]host[:port][/database][?k=v&...].
// It is deliberately minimal — URL parsing and nothing more — per the
// spec's "not hardened beyond that" scope note.
package dsn

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const defaultPort = 5432

// Params is the fully-decoded connection target.
type Params struct {
	User     string
	Password string
	Host     string // TCP host, or a socket directory when IsUnixSocket
	Port     int
	Database string
	Options  map[string]string

	IsUnixSocket bool
}

// Parse decodes a postgresql:// connection string.
func Parse(raw string) (Params, error) {
	// url.Parse rejects a percent-encoded '/' in the host, so a host that
	// decodes to a socket directory is swapped for a placeholder here and
	// restored below.
	socketDir := ""
	if pre, rest, ok := strings.Cut(raw, "://"); ok {
		hostPort := rest[strings.LastIndex(rest[:strings.IndexAny(rest+"/", "/?")], "@")+1:]
		host := hostPort[:strings.IndexAny(hostPort+"/", ":/?")]
		if dec, err := url.PathUnescape(host); err == nil && strings.HasPrefix(dec, "/") {
			socketDir = dec
			raw = pre + "://" + rest[:len(rest)-len(hostPort)] + "localhost" + hostPort[len(host):]
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Params{}, fmt.Errorf("pgclient: invalid connection string: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
	default:
		return Params{}, fmt.Errorf("pgclient: unsupported connection string scheme %q", u.Scheme)
	}

	p := Params{Port: defaultPort, Options: make(map[string]string)}

	if u.User != nil {
		p.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			p.Password = pw
		}
	}

	host := u.Hostname()
	if socketDir != "" {
		host = socketDir
	}
	if strings.HasPrefix(host, "/") {
		p.IsUnixSocket = true
		p.Host = host
	} else {
		p.Host = host
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Params{}, fmt.Errorf("pgclient: invalid port %q: %w", portStr, err)
		}
		p.Port = port
	}

	p.Database = strings.TrimPrefix(u.Path, "/")
	if p.Database == "" {
		p.Database = p.User
	}

	for k, vs := range u.Query() {
		if len(vs) > 0 {
			p.Options[k] = vs[0]
		}
	}

	return p, nil
}
