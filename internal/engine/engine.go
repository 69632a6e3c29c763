// Package engine drives the extended and simple query protocols on top of
// a session.Stream (§4.4 of the spec). Every exported macro-operation
// consumes one full "quantum" of the wire: it writes a batch of frontend
// frames, then reads backend frames until the sub-sequence completes and a
// trailing ReadyForQuery has been observed. The stream is only considered
// synchronized again once that has happened.
package engine

import (
	"fmt"
	"time"

	"github.com/pgcore/pgclient/internal/pgerr"
	"github.com/pgcore/pgclient/internal/protocol"
	"github.com/pgcore/pgclient/internal/session"
)

// Row is one DataRow's worth of column values; a nil entry is SQL NULL.
type Row = [][]byte

// PreparedStatement is what rawPrepare hands back: the server's own
// parameter type choices and the shape of the result set (nil columns for
// statements with no result set, e.g. DDL).
type PreparedStatement struct {
	ParamOIDs []uint32
	Columns   []protocol.ColumnDescription
}

// Engine wires the macro-operations to one stream, plus the three
// asynchronous-frame hooks the demultiplexer drives. The hooks are set
// once at construction and never swapped concurrently with in-flight
// operations, matching the single-owner-per-session model (§5).
type Engine struct {
	stream *session.Stream

	OnNotice func(pgerr.DBError)
	OnParam  func(key, value string)
	OnNotify func(pid uint32, channel, payload string)
}

// New wraps a stream that has already completed the startup handshake.
func New(stream *session.Stream) *Engine {
	return &Engine{stream: stream}
}

// nextFrame reads one frame, silently dispatching NoticeResponse,
// ParameterStatus, and NotificationResponse to their hooks and looping for
// the next real frame. Every macro-operation's read loop goes through
// this, which is what makes notice/param/notification handling uniform
// regardless of which operation is in flight.
func (e *Engine) nextFrame() (protocol.Frame, error) {
	for {
		f, err := e.stream.ReadFrame()
		if err != nil {
			return protocol.Frame{}, err
		}
		if consumed, err := e.demuxAsync(f); err != nil {
			return protocol.Frame{}, err
		} else if consumed {
			continue
		}
		return f, nil
	}
}

// demuxAsync dispatches f if it is one of the three asynchronous frame
// kinds. consumed is true when the caller should keep reading.
func (e *Engine) demuxAsync(f protocol.Frame) (consumed bool, err error) {
	switch f.Type {
	case protocol.BackendNoticeResponse:
		dbErr, perr := pgerr.ParseFields(f.Data)
		if perr != nil {
			e.stream.MarkDesynchronized()
			return false, perr
		}
		if e.OnNotice != nil {
			e.OnNotice(dbErr)
		}
		return true, nil

	case protocol.BackendParameterStatus:
		key, val, perr := protocol.ParseParameterStatus(f.Data)
		if perr != nil {
			e.stream.MarkDesynchronized()
			return false, perr
		}
		if e.OnParam != nil {
			e.OnParam(key, val)
		}
		return true, nil

	case protocol.BackendNotification:
		pid, channel, payload, perr := protocol.ParseNotificationResponse(f.Data)
		if perr != nil {
			e.stream.MarkDesynchronized()
			return false, perr
		}
		if e.OnNotify != nil {
			e.OnNotify(pid, channel, payload)
		}
		return true, nil
	}
	return false, nil
}

// DrainAsync services exactly one read for the notification/notice
// demultiplexer without any query in flight, per the deadline mode:
// d < 0 blocks indefinitely, d == 0 is non-blocking, d > 0 is a deadline.
// ok is true when a frame was read and it was one of the asynchronous
// kinds (so the caller's queue may now be non-empty). A non-asynchronous
// frame arriving with nothing in flight is a protocol violation.
func (e *Engine) DrainAsync(d time.Duration) (ok bool, err error) {
	var f protocol.Frame
	var gotFrame bool

	switch {
	case d < 0:
		f, err = e.stream.ReadFrame()
		gotFrame = err == nil
	case d == 0:
		f, gotFrame, err = e.stream.ReadFrameNonblocking()
	default:
		f, gotFrame, err = e.stream.ReadFrameTimeout(d)
	}
	if err != nil {
		return false, err
	}
	if !gotFrame {
		return false, nil
	}

	consumed, derr := e.demuxAsync(f)
	if derr != nil {
		return false, derr
	}
	if !consumed {
		e.stream.MarkDesynchronized()
		return false, fmt.Errorf("pgclient: unexpected frame %q while idle", f.Type)
	}
	return true, nil
}

// waitForReady consumes frames (via nextFrame, so async frames are still
// serviced) until ReadyForQuery. Any other frame at this point is a
// protocol violation.
func (e *Engine) waitForReady() error {
	for {
		f, err := e.nextFrame()
		if err != nil {
			return err
		}
		if f.Type == protocol.BackendReadyForQuery {
			return nil
		}
		e.stream.MarkDesynchronized()
		return fmt.Errorf("pgclient: unexpected frame %q while waiting for ReadyForQuery", f.Type)
	}
}

// frameMsg is one frontend frame queued by write.
type frameMsg struct {
	tag     byte
	payload []byte
}

// write serializes each frame in order and flushes once; every macro-op
// issues exactly one flushed batch before reading.
func (e *Engine) write(msgs ...frameMsg) error {
	for _, m := range msgs {
		if err := e.stream.WriteFrame(m.tag, m.payload); err != nil {
			return err
		}
	}
	return e.stream.Flush()
}

// RawPrepare sends Parse(name, sql)+Describe(Statement, name)+Sync and
// reads back ParseComplete, ParameterDescription, RowDescription/NoData,
// and ReadyForQuery. On a server-side error the statement simply never
// exists; the caller learns this via the returned error.
func (e *Engine) RawPrepare(name, sql string) (PreparedStatement, error) {
	ptag, ppayload := protocol.Parse(name, sql, nil)
	dtag, dpayload := protocol.Describe(protocol.KindStatement, name)
	stag, spayload := protocol.Sync()
	if err := e.write(
		frameMsg{ptag, ppayload},
		frameMsg{dtag, dpayload},
		frameMsg{stag, spayload},
	); err != nil {
		return PreparedStatement{}, err
	}

	f, err := e.nextFrame()
	if err != nil {
		return PreparedStatement{}, err
	}
	if f.Type == protocol.BackendErrorResponse {
		return PreparedStatement{}, e.surfaceError(f)
	}
	if f.Type != protocol.BackendParseComplete {
		e.stream.MarkDesynchronized()
		return PreparedStatement{}, fmt.Errorf("pgclient: expected ParseComplete, got %q", f.Type)
	}

	f, err = e.nextFrame()
	if err != nil {
		return PreparedStatement{}, err
	}
	if f.Type != protocol.BackendParameterDesc {
		e.stream.MarkDesynchronized()
		return PreparedStatement{}, fmt.Errorf("pgclient: expected ParameterDescription, got %q", f.Type)
	}
	paramOIDs, perr := protocol.ParseParameterDescription(f.Data)
	if perr != nil {
		e.stream.MarkDesynchronized()
		return PreparedStatement{}, perr
	}

	f, err = e.nextFrame()
	if err != nil {
		return PreparedStatement{}, err
	}
	var cols []protocol.ColumnDescription
	switch f.Type {
	case protocol.BackendNoData:
		cols = nil
	case protocol.BackendRowDescription:
		cols, perr = protocol.ParseRowDescription(f.Data)
		if perr != nil {
			e.stream.MarkDesynchronized()
			return PreparedStatement{}, perr
		}
	default:
		e.stream.MarkDesynchronized()
		return PreparedStatement{}, fmt.Errorf("pgclient: expected RowDescription/NoData, got %q", f.Type)
	}

	if err := e.waitForReady(); err != nil {
		return PreparedStatement{}, err
	}
	return PreparedStatement{ParamOIDs: paramOIDs, Columns: cols}, nil
}

// RawExecute sends Bind+Execute+Sync and consumes BindComplete, leaving
// the stream positioned at the start of the result stream — ReadRows
// reads the rows themselves.
func (e *Engine) RawExecute(stmtName, portalName string, rowLimit int32, params [][]byte) error {
	btag, bpayload := protocol.Bind(portalName, stmtName, params)
	etag, epayload := protocol.Execute(portalName, rowLimit)
	stag, spayload := protocol.Sync()
	if err := e.write(
		frameMsg{btag, bpayload},
		frameMsg{etag, epayload},
		frameMsg{stag, spayload},
	); err != nil {
		return err
	}

	f, err := e.nextFrame()
	if err != nil {
		return err
	}
	if f.Type == protocol.BackendErrorResponse {
		return e.surfaceError(f)
	}
	if f.Type != protocol.BackendBindComplete {
		e.stream.MarkDesynchronized()
		return fmt.Errorf("pgclient: expected BindComplete, got %q", f.Type)
	}
	return nil
}

// ContinueExecute sends another Execute+Sync against an already-bound
// portal, for resuming a fetch that PortalSuspended (ReadRows returned
// moreRows=true). No Bind is reissued — the portal keeps its position.
func (e *Engine) ContinueExecute(portalName string, rowLimit int32) error {
	etag, epayload := protocol.Execute(portalName, rowLimit)
	stag, spayload := protocol.Sync()
	return e.write(
		frameMsg{etag, epayload},
		frameMsg{stag, spayload},
	)
}

// ReadRows reads DataRow frames into a caller-owned slice until the
// portal's result is exhausted (moreRows=false) or suspended by rowLimit
// (moreRows=true). Either way it ends at ReadyForQuery.
func (e *Engine) ReadRows(rows *[]Row) (moreRows bool, commandTag string, err error) {
	for {
		f, err := e.nextFrame()
		if err != nil {
			return false, "", err
		}
		switch f.Type {
		case protocol.BackendDataRow:
			row, perr := protocol.ParseDataRow(f.Data)
			if perr != nil {
				e.stream.MarkDesynchronized()
				return false, "", perr
			}
			*rows = append(*rows, row)

		case protocol.BackendCommandComplete:
			tag := protocol.CommandTag(f.Data)
			if err := e.waitForReady(); err != nil {
				return false, "", err
			}
			return false, tag, nil

		case protocol.BackendEmptyQuery:
			if err := e.waitForReady(); err != nil {
				return false, "", err
			}
			return false, "", nil

		case protocol.BackendPortalSuspended:
			if err := e.waitForReady(); err != nil {
				return false, "", err
			}
			return true, "", nil

		case protocol.BackendCopyInResponse:
			ctag, cpayload := protocol.CopyFail("COPY queries cannot be directly executed")
			stag, spayload := protocol.Sync()
			if werr := e.write(
				frameMsg{ctag, cpayload},
				frameMsg{stag, spayload},
			); werr != nil {
				return false, "", werr
			}
			if err := e.drainUntilReadyAfterCopyFail(); err != nil {
				return false, "", err
			}
			return false, "", fmt.Errorf("pgclient: COPY queries cannot be directly executed")

		case protocol.BackendCopyOutResponse:
			if err := e.drainUntilReadyAfterCopyOut(); err != nil {
				return false, "", err
			}
			return false, "", fmt.Errorf("pgclient: COPY OUT is not supported by this client")

		case protocol.BackendErrorResponse:
			return false, "", e.surfaceError(f)

		default:
			e.stream.MarkDesynchronized()
			return false, "", fmt.Errorf("pgclient: unexpected frame %q while reading rows", f.Type)
		}
	}
}

// drainUntilReadyAfterCopyFail consumes the ErrorResponse the server
// raises in response to CopyFail and rides it to ReadyForQuery.
func (e *Engine) drainUntilReadyAfterCopyFail() error {
	f, err := e.nextFrame()
	if err != nil {
		return err
	}
	if f.Type != protocol.BackendErrorResponse {
		e.stream.MarkDesynchronized()
		return fmt.Errorf("pgclient: expected ErrorResponse after CopyFail, got %q", f.Type)
	}
	return e.waitForReady()
}

// drainUntilReadyAfterCopyOut consumes the CopyData/CopyDone/
// CommandComplete sequence a COPY OUT produces on its own — there is no
// CopyFail for COPY OUT, the server just finishes the copy unprompted —
// riding it to ReadyForQuery.
func (e *Engine) drainUntilReadyAfterCopyOut() error {
	for {
		f, err := e.nextFrame()
		if err != nil {
			return err
		}
		switch f.Type {
		case protocol.BackendCopyData, protocol.BackendCopyDone:
			// keep draining

		case protocol.BackendCommandComplete:
			return e.waitForReady()

		case protocol.BackendErrorResponse:
			return e.surfaceError(f)

		default:
			e.stream.MarkDesynchronized()
			return fmt.Errorf("pgclient: unexpected frame %q while draining COPY OUT", f.Type)
		}
	}
}

// QuickQuery runs sql through the simple-query protocol, returning every
// row's columns as lossily-decoded UTF-8 strings. It is used for
// administrative statements (BEGIN/COMMIT/SET) and the catalog lookups
// whose shape is known in advance, never for anything carrying untrusted
// parameters.
func (e *Engine) QuickQuery(sql string) ([][]string, error) {
	tag, payload := protocol.Query(sql)
	if err := e.write(frameMsg{tag, payload}); err != nil {
		return nil, err
	}

	var out [][]string
	for {
		f, err := e.nextFrame()
		if err != nil {
			return nil, err
		}
		switch f.Type {
		case protocol.BackendRowDescription:
			// Simple-query result shape; column types are not needed by
			// QuickQuery's callers, who know the shape up front.

		case protocol.BackendDataRow:
			row, perr := protocol.ParseDataRow(f.Data)
			if perr != nil {
				e.stream.MarkDesynchronized()
				return nil, perr
			}
			cols := make([]string, len(row))
			for i, v := range row {
				if v != nil {
					cols[i] = string(v)
				}
			}
			out = append(out, cols)

		case protocol.BackendCommandComplete, protocol.BackendEmptyQuery:
			// Keep draining; ReadyForQuery ends the simple-query cycle.

		case protocol.BackendCopyInResponse:
			ctag, cpayload := protocol.CopyFail("COPY queries cannot be directly executed")
			if werr := e.write(frameMsg{ctag, cpayload}); werr != nil {
				return nil, werr
			}
			if err := e.drainUntilReadyAfterCopyFail(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("pgclient: COPY queries cannot be directly executed")

		case protocol.BackendCopyOutResponse:
			if err := e.drainUntilReadyAfterCopyOut(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("pgclient: COPY OUT is not supported by this client")

		case protocol.BackendErrorResponse:
			return nil, e.surfaceError(f)

		case protocol.BackendReadyForQuery:
			return out, nil

		default:
			e.stream.MarkDesynchronized()
			return nil, fmt.Errorf("pgclient: unexpected frame %q during simple query", f.Type)
		}
	}
}

// CloseStatement closes a prepared statement or portal by name.
func (e *Engine) CloseStatement(kind byte, name string) error {
	ctag, cpayload := protocol.Close(kind, name)
	stag, spayload := protocol.Sync()
	if err := e.write(
		frameMsg{ctag, cpayload},
		frameMsg{stag, spayload},
	); err != nil {
		return err
	}

	f, err := e.nextFrame()
	if err != nil {
		return err
	}
	if f.Type == protocol.BackendErrorResponse {
		return e.surfaceError(f)
	}
	if f.Type != protocol.BackendCloseComplete {
		e.stream.MarkDesynchronized()
		return fmt.Errorf("pgclient: expected CloseComplete, got %q", f.Type)
	}
	return e.waitForReady()
}

// surfaceError parses an ErrorResponse frame, rides the stream to
// ReadyForQuery (the server always sends one after an error outside of
// the terminal-desync cases handled elsewhere), and returns the
// structured database error.
func (e *Engine) surfaceError(f protocol.Frame) error {
	dbErr, perr := pgerr.ParseFields(f.Data)
	if perr != nil {
		e.stream.MarkDesynchronized()
		return perr
	}
	if err := e.waitForReady(); err != nil {
		return err
	}
	return dbErr
}
