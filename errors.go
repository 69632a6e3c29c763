package pgclient

import (
	"github.com/pgcore/pgclient/internal/notify"
	"github.com/pgcore/pgclient/internal/pgerr"
	"github.com/pgcore/pgclient/internal/txn"
)

// DBError is a structured backend ErrorResponse, carrying severity,
// SQLSTATE code, message, detail, and hint.
type DBError = pgerr.DBError

// ConnectError wraps a failure observed before ReadyForQuery was ever
// reached: bad parameters, unsupported auth, or I/O during startup.
type ConnectError = pgerr.ConnectError

// DesyncError wraps the failure that tripped a session's desynchronized
// latch. Every operation on that session fails with this afterward.
type DesyncError = pgerr.DesyncError

// ConversionError reports that a column's bytes could not be decoded (or
// a parameter's value could not be encoded) by its codec.
type ConversionError = pgerr.ConversionError

// Notification is one LISTEN/NOTIFY payload delivered to this session.
type Notification = notify.Notification

// NoticeHandler receives asynchronous NoticeResponse frames.
type NoticeHandler = notify.NoticeHandler

// Isolation is a transaction isolation level, or "" for the server
// default.
type Isolation = txn.Isolation

// TxConfig configures the outermost Begin; nested transactions always
// use a plain savepoint and take no configuration.
type TxConfig = txn.Config

// Tx is a handle to one transaction nesting level (the outermost BEGIN
// or one SAVEPOINT).
type Tx = txn.Tx

const (
	DefaultIsolation  = txn.DefaultIsolation
	ReadCommitted     = txn.ReadCommitted
	RepeatableRead    = txn.RepeatableRead
	Serializable      = txn.Serializable
	ReadUncommittedPG = txn.ReadUncommittedPG
)
