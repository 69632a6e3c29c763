// Package cancel implements the out-of-band cancel path (§4.9): a
// fire-and-forget CancelRequest sent over a brand-new transport to the
// same host/port as the session being cancelled.
package cancel

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pgcore/pgclient/internal/protocol"
)

// Key is the backend PID and secret key captured from BackendKeyData
// during startup. It is the only state a cancel needs — it outlives the
// session it was captured from and may be used from any goroutine.
type Key struct {
	PID       uint32
	SecretKey uint32
}

// Send opens a fresh connection to addr on the given network ("tcp" or
// "unix"), sends a single CancelRequest carrying key, flushes, and
// closes. The server never replies to a CancelRequest — success is not
// observable from here, only transport-level failures are. dialTimeout
// bounds the connect step; pass 0 for no timeout.
func Send(ctx context.Context, network, addr string, key Key, dialTimeout time.Duration) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return fmt.Errorf("pgclient: cancel dial: %w", err)
	}
	defer conn.Close()

	w := protocol.NewWriter(conn)
	if err := w.Untagged(protocol.CancelRequestPayload(key.PID, key.SecretKey)); err != nil {
		return fmt.Errorf("pgclient: cancel write: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("pgclient: cancel flush: %w", err)
	}
	return nil
}
