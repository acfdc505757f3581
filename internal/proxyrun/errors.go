package proxyrun

import "errors"

// Sentinel errors surfaced at the handler boundary and translated to HTTP
// status responses, per spec §7's error-kind table re-expressed as wrapped
// Go errors instead of a tagged union.
var (
	ErrBadGateway  = errors.New("proxyrun: upstream unreachable")
	ErrForbidden   = errors.New("proxyrun: host blocked by filter")
	ErrHostUnknown = errors.New("proxyrun: host did not resolve")
	ErrTLS         = errors.New("proxyrun: TLS handshake or verification failed")
	ErrHalt        = errors.New("proxyrun: halt requested")
)
