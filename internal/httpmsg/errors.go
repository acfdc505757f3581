// Package httpmsg implements the HTTP/1.1 header parser and serializer used
// by the proxy: request/response parsing, raw request emission, and the
// add-or-replace single-field header splice.
package httpmsg

import "errors"

// Sentinel errors returned by the parser. Callers inspect them with
// errors.Is at the handler boundary and translate them into the
// corresponding HTTP status response.
var (
	// ErrIncomplete means buf does not yet hold a complete header section
	// (or, once headers are parsed, a complete body per Content-Length).
	// It is not a protocol error: the caller should read more bytes and
	// retry.
	ErrIncomplete = errors.New("httpmsg: incomplete message")

	// ErrInvalidHeader covers a missing header terminator or a malformed
	// start line / field line.
	ErrInvalidHeader = errors.New("httpmsg: invalid header")

	// ErrBadMethod is returned for any method token other than GET,
	// CONNECT, or the halt sentinel.
	ErrBadMethod = errors.New("httpmsg: unsupported method")

	// ErrBadURL covers a request target that cannot be parsed as either
	// absolute-form or authority-form.
	ErrBadURL = errors.New("httpmsg: malformed request target")

	// ErrBadPort covers a non-numeric or out-of-range port.
	ErrBadPort = errors.New("httpmsg: malformed port")
)
