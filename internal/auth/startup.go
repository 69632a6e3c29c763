// Package auth implements the one-shot startup and authentication state
// machine (§4.3 of the spec): StartupMessage -> auth challenge ->
// AuthenticationOk -> BackendKeyData -> ReadyForQuery.
package auth

import (
	"encoding/binary"
	"fmt"

	"github.com/pgcore/pgclient/internal/pgerr"
	"github.com/pgcore/pgclient/internal/protocol"
	"github.com/pgcore/pgclient/internal/session"
)

// Params are the inputs to the startup handshake.
type Params struct {
	User     string
	Password string // empty means "no password configured"
	Database string // empty means "default to User" (applied by the caller)
	Options  map[string]string

	// NoticeFunc, if non-nil, receives NoticeResponse frames observed
	// during startup (rare, but servers may emit them before auth
	// completes, e.g. a deprecation warning).
	NoticeFunc func(pgerr.DBError)
}

// Result is everything the rest of the session needs after a successful
// handshake.
type Result struct {
	Parameters map[string]string
	BackendPID uint32
	SecretKey  uint32
}

// orderedParams builds the startup parameter list in a stable, readable
// order: user, database (if set), the two fixed runtime options, then
// caller-supplied options in map iteration order.
func orderedParams(p Params) [][2]string {
	out := make([][2]string, 0, 4+len(p.Options))
	out = append(out, [2]string{"user", p.User})
	if p.Database != "" {
		out = append(out, [2]string{"database", p.Database})
	}
	out = append(out, [2]string{"client_encoding", "UTF8"})
	out = append(out, [2]string{"timezone", "GMT"})
	for k, v := range p.Options {
		out = append(out, [2]string{k, v})
	}
	return out
}

// Run drives the handshake to completion on an already-connected (and, if
// applicable, already encryption-negotiated) stream. On success the stream
// is positioned exactly after ReadyForQuery, ready for the first extended
// query sequence.
func Run(s *session.Stream, p Params) (*Result, error) {
	payload := protocol.StartupPayload(orderedParams(p))
	if err := s.WriteFrame(0, payload); err != nil {
		return nil, pgerr.NewConnectError(err)
	}
	if err := s.Flush(); err != nil {
		return nil, pgerr.NewConnectError(err)
	}

	res := &Result{Parameters: make(map[string]string)}

	for {
		f, err := s.ReadFrame()
		if err != nil {
			return nil, pgerr.NewConnectError(err)
		}

		switch f.Type {
		case protocol.BackendAuthentication:
			// AuthenticationOk is a no-op return; any other subtype
			// sends a response and keeps the loop going until the
			// server replies with AuthenticationOk or ErrorResponse.
			if _, err := handleAuth(s, p, f.Data); err != nil {
				return nil, err
			}

		case protocol.BackendParameterStatus:
			key, val, err := parseKV(f.Data)
			if err != nil {
				s.MarkDesynchronized()
				return nil, pgerr.NewConnectError(err)
			}
			res.Parameters[key] = val

		case protocol.BackendBackendKeyData:
			if len(f.Data) < 8 {
				s.MarkDesynchronized()
				return nil, pgerr.NewConnectError(fmt.Errorf("auth: short BackendKeyData"))
			}
			res.BackendPID = binary.BigEndian.Uint32(f.Data[0:4])
			res.SecretKey = binary.BigEndian.Uint32(f.Data[4:8])

		case protocol.BackendNoticeResponse:
			dbErr, err := pgerr.ParseFields(f.Data)
			if err != nil {
				s.MarkDesynchronized()
				return nil, pgerr.NewConnectError(err)
			}
			if p.NoticeFunc != nil {
				p.NoticeFunc(dbErr)
			}

		case protocol.BackendErrorResponse:
			dbErr, perr := pgerr.ParseFields(f.Data)
			if perr != nil {
				s.MarkDesynchronized()
				return nil, pgerr.NewConnectError(perr)
			}
			return nil, pgerr.NewConnectError(dbErr)

		case protocol.BackendReadyForQuery:
			return res, nil

		default:
			s.MarkDesynchronized()
			return nil, pgerr.NewConnectError(fmt.Errorf("auth: unexpected response %q", f.Type))
		}
	}
}

// handleAuth processes one AuthenticationXXX frame. done reports whether
// this was the terminal AuthenticationOk.
func handleAuth(s *session.Stream, p Params, payload []byte) (done bool, err error) {
	if len(payload) < 4 {
		s.MarkDesynchronized()
		return false, pgerr.NewConnectError(fmt.Errorf("auth: short Authentication message"))
	}
	authType := binary.BigEndian.Uint32(payload[0:4])

	switch authType {
	case protocol.AuthOK:
		return true, nil

	case protocol.AuthCleartextPassword:
		if p.Password == "" {
			return false, pgerr.NewConnectError(fmt.Errorf("a password was requested but not provided"))
		}
		return false, sendPassword(s, p.Password)

	case protocol.AuthMD5Password:
		if len(payload) < 8 {
			s.MarkDesynchronized()
			return false, pgerr.NewConnectError(fmt.Errorf("auth: short AuthenticationMD5Password"))
		}
		if p.Password == "" {
			return false, pgerr.NewConnectError(fmt.Errorf("a password was requested but not provided"))
		}
		var salt [4]byte
		copy(salt[:], payload[4:8])
		return false, sendPassword(s, MD5Password(p.User, p.Password, salt))

	case protocol.AuthKerberosV5, protocol.AuthSCMCredential, protocol.AuthGSS,
		protocol.AuthSSPI, protocol.AuthSASL, protocol.AuthSASLContinue, protocol.AuthSASLFinal:
		return false, pgerr.NewConnectError(fmt.Errorf("unsupported authentication method (type %d)", authType))

	default:
		return false, pgerr.NewConnectError(fmt.Errorf("unsupported authentication method (type %d)", authType))
	}
}

func sendPassword(s *session.Stream, password string) error {
	tag, payload := protocol.PasswordMessage(password)
	if err := s.WriteFrame(tag, payload); err != nil {
		return pgerr.NewConnectError(err)
	}
	if err := s.Flush(); err != nil {
		return pgerr.NewConnectError(err)
	}
	return nil
}

// parseKV splits a "key\0value\0" ParameterStatus payload.
func parseKV(data []byte) (string, string, error) {
	k, rest, err := cstring(data, 0)
	if err != nil {
		return "", "", err
	}
	v, _, err := cstring(data, rest)
	if err != nil {
		return "", "", err
	}
	return k, v, nil
}

func cstring(data []byte, off int) (string, int, error) {
	end := off
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end >= len(data) {
		return "", 0, fmt.Errorf("auth: unterminated string in ParameterStatus")
	}
	return string(data[off:end]), end + 1, nil
}
