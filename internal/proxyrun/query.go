// Package proxyrun implements the per-connection transaction lifecycle and
// the accept loop that drives it, following the dial/error-mapping
// conventions of caddyhttp/proxy/reverseproxy.go and the zap-logged,
// errgroup-joined subsystem shutdown of modules/caddyhttp/app.go.
package proxyrun

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/larkspur-labs/proxycache/internal/httpmsg"
)

// QueryState is the upstream-side transaction state named in spec §4.3.
type QueryState int

const (
	QueryInit QueryState = iota
	QuerySentRequest
	QueryRecvdResponse
	QueryDone
	QueryTunnel
)

func (s QueryState) String() string {
	switch s {
	case QueryInit:
		return "INIT"
	case QuerySentRequest:
		return "SENT_REQUEST"
	case QueryRecvdResponse:
		return "RECVD_RESPONSE"
	case QueryDone:
		return "DONE"
	case QueryTunnel:
		return "TUNNEL"
	default:
		return "UNKNOWN"
	}
}

// query is one upstream side of a transaction: the parsed request, the
// dialed upstream connection, and the response once received. Unlike the
// readiness-multiplexed original, a query here is driven start to finish
// by the single goroutine owning its client (see Loop.handleClient); its
// State field still advances through the spec's named states, just
// sequentially rather than across repeated dispatch calls, since nothing
// else ever observes or mutates it concurrently.
type query struct {
	ID      uuid.UUID
	Request *httpmsg.Request
	Conn    net.Conn
	State   QueryState

	resp       *httpmsg.Response
	StartedAt  time.Time
	ServerAddr string
}

// newQuery builds a query for req, owning no socket yet (State INIT).
func newQuery(req *httpmsg.Request) *query {
	return &query{
		ID:        uuid.New(),
		Request:   req,
		State:     QueryInit,
		StartedAt: time.Now(),
	}
}

// dial opens the upstream TCP connection for this query's request,
// mapping failure to ErrBadGateway per spec §7. The caller is responsible
// for upgrading to TLS afterward when the request arrived over an
// intercepted CONNECT tunnel.
func (q *query) dial(ctx context.Context, d net.Dialer) error {
	addr := net.JoinHostPort(q.Request.Host, q.Request.Port)
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", ErrBadGateway, addr, err)
	}
	q.Conn = conn
	q.ServerAddr = addr
	return nil
}

// sendRequest forwards the exact raw bytes of the client's request,
// per spec §6: "the proxy forwards the raw request byte-for-byte; it does
// NOT re-synthesize the request from parsed fields."
func (q *query) sendRequest() error {
	if _, err := q.Conn.Write(q.Request.Raw); err != nil {
		return fmt.Errorf("%w: writing request upstream: %v", ErrBadGateway, err)
	}
	q.State = QuerySentRequest
	return nil
}

// recvResponse reads and parses the response arriving on q.Conn, moving
// to RECVD_RESPONSE on success.
func (q *query) recvResponse(r *bufio.Reader, timeout, defaultMaxAge time.Duration) (*httpmsg.Response, error) {
	resp, err := recvResponse(q.Conn, r, timeout, defaultMaxAge)
	if err != nil {
		return nil, err
	}
	q.resp = resp
	q.State = QueryRecvdResponse
	return resp, nil
}

// recvResponse reads and parses one HTTP response from conn, growing a
// buffer until ParseResponse succeeds or the peer closes the connection.
// It is a free function (rather than a query method) so the intercepted-
// CONNECT path can reuse it against a persistent upstream TLS connection
// that outlives any single query.
func recvResponse(conn net.Conn, r *bufio.Reader, timeout, defaultMaxAge time.Duration) (*httpmsg.Response, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		resp, _, err := httpmsg.ParseResponse(buf, false, defaultMaxAge)
		if err == nil {
			return resp, nil
		}

		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, readErr := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if readErr != nil {
			// EOF is the connection-close framing case (Open Question 3):
			// re-parse once more with eof=true so an absent Content-Length
			// is treated as "body ends here", never cached.
			resp, _, parseErr := httpmsg.ParseResponse(buf, true, defaultMaxAge)
			if parseErr != nil {
				return nil, fmt.Errorf("%w: reading upstream response: %v", ErrBadGateway, readErr)
			}
			return resp, nil
		}
	}
}

func (q *query) close() {
	if q.Conn != nil {
		q.Conn.Close()
	}
	q.State = QueryDone
}

// bufferedReadLoop accumulates bytes from conn into buf until parse
// succeeds, returning the parsed value and the unconsumed remainder of
// buf (carried over for the next request on a persistent connection).
// parse must behave like httpmsg.ParseRequest: return ErrIncomplete to
// ask for more bytes, any other error is fatal.
func bufferedReadLoop[T any](conn net.Conn, r *bufio.Reader, timeout time.Duration, buf []byte, parse func([]byte) (T, int, error)) (T, []byte, error) {
	tmp := make([]byte, 4096)
	for {
		if v, n, err := parse(buf); err == nil {
			return v, buf[n:], nil
		} else if !errors.Is(err, httpmsg.ErrIncomplete) {
			var zero T
			return zero, nil, err
		}
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			var zero T
			return zero, nil, fmt.Errorf("%w: %v", ErrBadGateway, err)
		}
	}
}
