package protocol

// This file builds the payloads for every frontend message used by the
// core (§6 of the spec). Building is pure byte assembly; writing happens
// through Writer.Tagged/Untagged so framing stays in one place.

// StartupPayload builds the body of a StartupMessage: protocol version
// followed by alternating key/value C-strings, terminated by a single NUL.
// params should already contain user, optional database, client_encoding,
// timezone, and any caller-supplied options, in the order they should be
// sent (startup parameter order is not meaningful to the server, but a
// stable order keeps wire traces diffable).
func StartupPayload(ordered [][2]string) []byte {
	buf := appendUint32(nil, StartupProtocolVersion)
	for _, kv := range ordered {
		buf = appendCString(buf, kv[0])
		buf = appendCString(buf, kv[1])
	}
	buf = append(buf, 0)
	return buf
}

// CancelRequestPayload builds the body of a CancelRequest frame.
func CancelRequestPayload(pid, secretKey uint32) []byte {
	buf := appendUint32(nil, CancelRequestCode)
	buf = appendUint32(buf, pid)
	buf = appendUint32(buf, secretKey)
	return buf
}

// SSLRequestPayload builds the body of an SSLRequest frame.
func SSLRequestPayload() []byte {
	return appendUint32(nil, SSLRequestCode)
}

// PasswordMessage builds a PasswordMessage ('p') payload.
func PasswordMessage(password string) (byte, []byte) {
	return FrontendPassword, appendCString(nil, password)
}

// Query builds a simple-query Query ('Q') payload.
func Query(sql string) (byte, []byte) {
	return FrontendQuery, appendCString(nil, sql)
}

// Terminate builds a Terminate ('X') payload (always empty).
func Terminate() (byte, []byte) {
	return FrontendTerminate, nil
}

// Sync builds a Sync ('S') payload (always empty).
func Sync() (byte, []byte) {
	return FrontendSync, nil
}

// CopyFail builds a CopyFail ('f') payload carrying an explanatory message.
func CopyFail(message string) (byte, []byte) {
	return FrontendCopyFail, appendCString(nil, message)
}

// Parse builds a Parse ('P') payload. paramOIDs may be empty to let the
// server infer parameter types.
func Parse(stmtName, sql string, paramOIDs []uint32) (byte, []byte) {
	buf := appendCString(nil, stmtName)
	buf = appendCString(buf, sql)
	buf = appendUint16(buf, uint16(len(paramOIDs)))
	for _, oid := range paramOIDs {
		buf = appendUint32(buf, oid)
	}
	return FrontendParse, buf
}

// Describe builds a Describe ('D') payload for a statement or a portal.
func Describe(kind byte, name string) (byte, []byte) {
	buf := append([]byte{}, kind)
	buf = appendCString(buf, name)
	return FrontendDescribe, buf
}

// Close builds a Close ('C') payload for a statement or a portal.
func Close(kind byte, name string) (byte, []byte) {
	buf := append([]byte{}, kind)
	buf = appendCString(buf, name)
	return FrontendClose, buf
}

// Bind builds a Bind ('B') payload. params holds one entry per parameter;
// a nil entry encodes SQL NULL. All parameter and result values are sent
// in binary format, as required by the spec.
func Bind(portalName, stmtName string, params [][]byte) (byte, []byte) {
	buf := appendCString(nil, portalName)
	buf = appendCString(buf, stmtName)

	// Parameter format codes: one code (1 = binary) applies to all params.
	buf = appendUint16(buf, 1)
	buf = appendUint16(buf, 1)

	buf = appendUint16(buf, uint16(len(params)))
	for _, p := range params {
		if p == nil {
			buf = appendInt32(buf, -1)
			continue
		}
		buf = appendInt32(buf, int32(len(p)))
		buf = append(buf, p...)
	}

	// Result format codes: one code (1 = binary) applies to all columns.
	buf = appendUint16(buf, 1)
	buf = appendUint16(buf, 1)

	return FrontendBind, buf
}

// Execute builds an Execute ('E') payload. rowLimit of 0 means "no limit".
func Execute(portalName string, rowLimit int32) (byte, []byte) {
	buf := appendCString(nil, portalName)
	buf = appendInt32(buf, rowLimit)
	return FrontendExecute, buf
}
