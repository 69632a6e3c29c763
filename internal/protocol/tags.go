// Package protocol implements the structural layer of the PostgreSQL v3
// frontend/backend wire protocol: message tags, frame layout, and the
// codec that serializes/deserializes frames on a duplex byte stream. It
// knows nothing about authentication, query semantics, or transactions —
// those live in higher layers.
package protocol

// Backend message tags (server -> client). Every backend frame carries a
// 1-byte tag followed by a 4-byte length (length includes itself).
const (
	BackendAuthentication   byte = 'R'
	BackendBackendKeyData   byte = 'K'
	BackendBindComplete     byte = '2'
	BackendCloseComplete    byte = '3'
	BackendCommandComplete  byte = 'C'
	BackendCopyData         byte = 'd'
	BackendCopyDone         byte = 'c'
	BackendCopyInResponse   byte = 'G'
	BackendCopyOutResponse  byte = 'H'
	BackendDataRow          byte = 'D'
	BackendEmptyQuery       byte = 'I'
	BackendErrorResponse    byte = 'E'
	BackendNoData           byte = 'n'
	BackendNoticeResponse   byte = 'N'
	BackendNotification     byte = 'A'
	BackendParameterDesc    byte = 't'
	BackendParameterStatus  byte = 'S'
	BackendParseComplete    byte = '1'
	BackendPortalSuspended  byte = 's'
	BackendReadyForQuery    byte = 'Z'
	BackendRowDescription   byte = 'T'
)

// Frontend message tags (client -> server). StartupMessage, SSLRequest and
// CancelRequest have no tag byte of their own; they are just a length and a
// payload, handled separately by the startup driver and the cancel package.
const (
	FrontendBind        byte = 'B'
	FrontendClose       byte = 'C'
	FrontendCopyFail    byte = 'f'
	FrontendDescribe    byte = 'D'
	FrontendExecute     byte = 'E'
	FrontendParse       byte = 'P'
	FrontendPassword    byte = 'p'
	FrontendQuery       byte = 'Q'
	FrontendSync        byte = 'S'
	FrontendTerminate   byte = 'X'
)

// Describe/Close target kinds.
const (
	KindStatement byte = 'S'
	KindPortal    byte = 'P'
)

// StartupProtocolVersion is PostgreSQL protocol version 3.0, encoded as
// major<<16 | minor.
const StartupProtocolVersion uint32 = 3<<16 | 0

// CancelRequestCode is the magic number that identifies a CancelRequest
// frame in place of a protocol version.
const CancelRequestCode uint32 = 80877102

// SSLRequestCode is the magic number that identifies an SSLRequest frame.
const SSLRequestCode uint32 = 80877103

// Authentication sub-types carried in the first 4 bytes of an
// AuthenticationXXX message payload.
const (
	AuthOK                uint32 = 0
	AuthKerberosV5        uint32 = 2
	AuthCleartextPassword uint32 = 3
	AuthMD5Password       uint32 = 5
	AuthSCMCredential     uint32 = 6
	AuthGSS               uint32 = 7
	AuthSSPI              uint32 = 9
	AuthSASL              uint32 = 10
	AuthSASLContinue      uint32 = 11
	AuthSASLFinal         uint32 = 12
)
