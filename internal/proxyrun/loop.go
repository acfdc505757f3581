package proxyrun

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/larkspur-labs/proxycache/internal/cache"
	"github.com/larkspur-labs/proxycache/internal/certmint"
	"github.com/larkspur-labs/proxycache/internal/filter"
	"github.com/larkspur-labs/proxycache/internal/httpmsg"
	"github.com/larkspur-labs/proxycache/internal/recolor"
)

// Loop is the top-level connection manager named in spec §4.6, §2 item 8.
// Per the concurrency model recorded in SPEC_FULL.md §1 and DESIGN.md
// entry 5, it does not multiplex fds itself: it accepts connections and
// hands each to its own goroutine, relying on Cache's internal mutex for
// the one piece of state genuinely shared across them.
type Loop struct {
	Cache   *cache.Cache
	Filter  *filter.List
	CA      *certmint.CA
	Logger  *zap.Logger
	Limiter *rate.Limiter

	InactivityTimeout time.Duration
	DefaultMaxAge     time.Duration
	Intercept         bool
	DialTimeout       time.Duration

	activeClients atomic.Int64
	activeTunnels atomic.Int64

	haltOnce sync.Once
	halt     chan struct{}
}

// NewLoop builds a Loop with the given dependencies. filterList and ca may
// be nil (filtering and interception are both optional features).
func NewLoop(c *cache.Cache, filterList *filter.List, ca *certmint.CA, logger *zap.Logger, inactivity, defaultMaxAge time.Duration, intercept bool) *Loop {
	return &Loop{
		Cache:             c,
		Filter:            filterList,
		CA:                ca,
		Logger:            logger,
		Limiter:           rate.NewLimiter(200, 50),
		InactivityTimeout: inactivity,
		DefaultMaxAge:     defaultMaxAge,
		Intercept:         intercept,
		DialTimeout:       10 * time.Second,
		halt:              make(chan struct{}),
	}
}

// ActiveClients and ActiveTunnels report live counts for the admin metrics
// surface.
func (l *Loop) ActiveClients() int64 { return l.activeClients.Load() }
func (l *Loop) ActiveTunnels() int64 { return l.activeTunnels.Load() }

// Halted returns a channel closed once a client has sent the halt
// sentinel (spec §6, "Halt signal").
func (l *Loop) Halted() <-chan struct{} { return l.halt }

func (l *Loop) initiateHalt() {
	l.haltOnce.Do(func() {
		l.Logger.Info("halt requested, draining and closing listener")
		close(l.halt)
	})
}

// Serve accepts connections on ln until ctx is cancelled or a client
// requests halt, dispatching each to its own goroutine. It returns nil on
// either graceful path.
func (l *Loop) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		select {
		case <-ctx.Done():
		case <-l.halt:
		}
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := l.Limiter.Wait(ctx); err != nil {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.halt:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			l.Logger.Warn("accept failed", zap.Error(err))
			continue
		}
		l.activeClients.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handleClient(ctx, conn)
		}()
	}
}

func (l *Loop) handleClient(ctx context.Context, conn net.Conn) {
	cl := newClient(conn)
	log := l.Logger.With(zap.Stringer("conn_id", cl.ID), zap.String("remote", conn.RemoteAddr().String()))
	defer func() {
		cl.close()
		l.activeClients.Add(-1)
	}()

	r := bufio.NewReader(cl.Conn)
	var pending []byte

	for {
		cl.State = ClientInit
		req, rest, err := bufferedReadLoop(cl.Conn, r, l.InactivityTimeout, pending, httpmsg.ParseRequest)
		if err != nil {
			// Timeouts, resets, and parse failures below the handler
			// boundary all end the connection silently here; a malformed
			// but complete header gets a proper status response instead
			// (handled inside bufferedReadLoop's ErrIncomplete retry, so
			// reaching here means either I/O failure or a structurally
			// bad header we can still answer).
			if isParseError(err) {
				l.writeStatus(cl.Conn, 400, "Bad Request")
			}
			return
		}
		pending = append([]byte(nil), rest...)
		cl.touch()

		if req.Method == httpmsg.MethodHalt {
			l.initiateHalt()
			return
		}

		switch req.Method {
		case httpmsg.MethodGet:
			cl.State = ClientGet
			closeAfter, err := l.handleGet(ctx, cl, req)
			if err != nil {
				l.writeErrorStatus(cl.Conn, err)
				return
			}
			if closeAfter {
				return
			}
			cl.State = ClientQuery

		case httpmsg.MethodConnect:
			cl.State = ClientConnect
			if err := l.handleConnect(ctx, cl, req); err != nil {
				log.Warn("connect failed", zap.Error(err))
				l.writeErrorStatus(cl.Conn, err)
			}
			return

		default:
			l.writeStatus(cl.Conn, 501, "Not Implemented")
			return
		}
	}
}

func isParseError(err error) bool {
	return errors.Is(err, httpmsg.ErrInvalidHeader) ||
		errors.Is(err, httpmsg.ErrBadMethod) ||
		errors.Is(err, httpmsg.ErrBadURL) ||
		errors.Is(err, httpmsg.ErrBadPort)
}

// handleGet implements spec §4.6's GET dispatch: cache hit serves Age-
// stamped bytes without touching the network; cache miss dials, forwards
// the exact raw request, and caches the response if cacheable. It returns
// whether the connection should close after this transaction.
func (l *Loop) handleGet(ctx context.Context, cl *client, req *httpmsg.Request) (bool, error) {
	closeAfter := wantsClose(req.Raw)
	key := req.Key()

	if resp, age, ok := l.Cache.GetWithAge(key); ok {
		out, err := l.buildCacheHitResponse(resp, age)
		if err != nil {
			return true, err
		}
		if _, err := cl.Conn.Write(out); err != nil {
			return true, fmt.Errorf("%w: writing cached response: %v", ErrBadGateway, err)
		}
		return closeAfter, nil
	}

	if l.Filter != nil && l.Filter.Blocks(req.Host, req.Port, req.Path) {
		return true, ErrForbidden
	}

	q := newQuery(req)
	cl.query = q
	defer cl.clearQuery()

	if err := q.dial(ctx, net.Dialer{Timeout: l.DialTimeout}); err != nil {
		return true, err
	}

	if err := q.sendRequest(); err != nil {
		return true, err
	}

	resp, err := q.recvResponse(bufio.NewReader(q.Conn), l.InactivityTimeout, l.DefaultMaxAge)
	if err != nil {
		return true, err
	}

	if _, err := cl.Conn.Write(resp.Raw); err != nil {
		return true, fmt.Errorf("%w: writing response to client: %v", ErrBadGateway, err)
	}

	if resp.Cacheable() {
		l.Cache.Put(key, resp, resp.MaxAge)
	}
	return closeAfter, nil
}

// buildCacheHitResponse recolors HTML bodies and always appends an Age
// header, per spec §6: "It appends Age: N ... to every response served
// from cache." Recoloring grows the body, so the Content-Length header is
// recomputed to match — the original C implementation never re-synced
// this field after color_links, which leaves a served response's declared
// length short of its actual bytes; this repo fixes that, since an
// accurate Content-Length is required for the recipient to even parse the
// response, not an optional embellishment.
func (l *Loop) buildCacheHitResponse(resp *httpmsg.Response, age float64) ([]byte, error) {
	offset, ok := httpmsg.HeaderComplete(resp.Raw)
	if !ok {
		return nil, fmt.Errorf("%w: cached response missing header terminator", ErrBadGateway)
	}
	header := append([]byte(nil), resp.Raw[:offset]...)
	body := resp.Raw[offset:]

	if isHTML(resp.ContentType) {
		newBody := recolor.Rewrite(body, l.Cache.KeyList())
		h, err := httpmsg.AddOrReplaceField(header, "Content-Length", strconv.Itoa(len(newBody)))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadGateway, err)
		}
		header = h
		body = newBody
	}

	header, err := httpmsg.AddOrReplaceField(header, "Age", strconv.Itoa(int(age)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadGateway, err)
	}

	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out, nil
}

// handleConnect implements spec §4.6's CONNECT dispatch: plaintext tunnel
// by default, or TLS interception when enabled and a CA is configured.
func (l *Loop) handleConnect(ctx context.Context, cl *client, req *httpmsg.Request) error {
	if l.Filter != nil && l.Filter.Blocks(req.Host, req.Port, req.Path) {
		return ErrForbidden
	}

	addr := net.JoinHostPort(req.Host, req.Port)
	upstream, err := (&net.Dialer{Timeout: l.DialTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", ErrBadGateway, addr, err)
	}

	if _, err := cl.Conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		upstream.Close()
		return fmt.Errorf("%w: writing CONNECT reply: %v", ErrBadGateway, err)
	}

	if !l.Intercept || l.CA == nil {
		cl.State = ClientTunnel
		l.activeTunnels.Add(1)
		defer l.activeTunnels.Add(-1)
		return l.relay(cl.Conn, upstream)
	}

	cl.State = ClientSSL
	serverCfg := l.CA.ServerTLSConfig()
	serverCfg.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		// A client dialing an IP literal sends no SNI; mint for the
		// CONNECT target instead.
		if hello.ServerName == "" {
			h := *hello
			h.ServerName = req.Host
			hello = &h
		}
		return l.CA.GetCertificate(hello)
	}
	serverConn := tls.Server(cl.Conn, serverCfg)
	if err := serverConn.HandshakeContext(ctx); err != nil {
		upstream.Close()
		return fmt.Errorf("%w: accept-side handshake for %s: %v", ErrTLS, req.Host, err)
	}

	upstreamTLS := tls.Client(upstream, &tls.Config{ServerName: req.Host, MinVersion: tls.VersionTLS12})
	if err := upstreamTLS.HandshakeContext(ctx); err != nil {
		serverConn.Close()
		return fmt.Errorf("%w: connect-side handshake to %s: %v", ErrTLS, req.Host, err)
	}

	cl.Conn = serverConn
	cl.State = ClientQuery
	return l.interceptLoop(ctx, cl, upstreamTLS)
}

// interceptLoop drives the decrypted inner traffic of an intercepted
// CONNECT tunnel: it re-enters QUERY (spec §4.6: "re-enter QUERY to read a
// decrypted inner request"), reusing the single upstream TLS connection
// across requests rather than dialing fresh each time.
func (l *Loop) interceptLoop(ctx context.Context, cl *client, upstream net.Conn) error {
	defer upstream.Close()
	r := bufio.NewReader(cl.Conn)
	upstreamR := bufio.NewReader(upstream)
	var pending []byte

	for {
		req, rest, err := bufferedReadLoop(cl.Conn, r, l.InactivityTimeout, pending, httpmsg.ParseRequest)
		if err != nil {
			return nil
		}
		pending = append([]byte(nil), rest...)
		cl.touch()

		if req.Method == httpmsg.MethodHalt {
			l.initiateHalt()
			return nil
		}
		if req.Method != httpmsg.MethodGet {
			l.writeStatus(cl.Conn, 501, "Not Implemented")
			return nil
		}

		key := req.Key()
		if resp, age, ok := l.Cache.GetWithAge(key); ok {
			out, err := l.buildCacheHitResponse(resp, age)
			if err != nil {
				return nil
			}
			if _, err := cl.Conn.Write(out); err != nil {
				return nil
			}
			if wantsClose(req.Raw) {
				return nil
			}
			continue
		}

		if l.Filter != nil && l.Filter.Blocks(req.Host, req.Port, req.Path) {
			l.writeStatus(cl.Conn, 403, "Forbidden")
			return nil
		}

		if _, err := upstream.Write(req.Raw); err != nil {
			return nil
		}
		resp, err := recvResponse(upstream, upstreamR, l.InactivityTimeout, l.DefaultMaxAge)
		if err != nil {
			return nil
		}
		if _, err := cl.Conn.Write(resp.Raw); err != nil {
			return nil
		}
		if resp.Cacheable() {
			l.Cache.Put(key, resp, resp.MaxAge)
		}
		if wantsClose(req.Raw) {
			return nil
		}
	}
}

// relay is the bidirectional byte-shovel for a plaintext CONNECT tunnel
// (spec §4.6 TUNNEL state): copy in both directions until either side
// closes, then close both.
func (l *Loop) relay(a, b net.Conn) error {
	var g errgroup.Group
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			a.Close()
			b.Close()
		})
	}
	g.Go(func() error {
		defer closeBoth()
		_, _ = io.Copy(a, b)
		return nil
	})
	g.Go(func() error {
		defer closeBoth()
		_, _ = io.Copy(b, a)
		return nil
	})
	return g.Wait()
}

func (l *Loop) writeStatus(conn net.Conn, code int, text string) {
	line := httpmsg.BuildResponseStatusLine("HTTP/1.1", code, text)
	conn.Write([]byte(line + "\r\nContent-Length: 0\r\n\r\n"))
}

// writeErrorStatus maps a sentinel error to the corresponding user-visible
// status and writes it, best-effort, before the caller closes the
// connection.
func (l *Loop) writeErrorStatus(conn net.Conn, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		l.writeStatus(conn, 403, "Forbidden")
	case errors.Is(err, ErrTLS):
		l.writeStatus(conn, 502, "Bad Gateway")
	case errors.Is(err, ErrBadGateway):
		l.writeStatus(conn, 502, "Bad Gateway")
	case isParseError(err):
		l.writeStatus(conn, 400, "Bad Request")
	default:
		l.writeStatus(conn, 500, "Internal Server Error")
	}
}

// wantsClose reports whether the request's header section carries a
// "Connection: close" field, the one piece of persistent-connection
// negotiation this proxy honors.
func wantsClose(raw []byte) bool {
	offset, ok := httpmsg.HeaderComplete(raw)
	if !ok {
		return false
	}
	header := strings.ToLower(string(raw[:offset]))
	return strings.Contains(header, "connection: close") || strings.Contains(header, "connection:close")
}

// isHTML reports whether a Content-Type value names an HTML media type,
// gating the link recolorer per spec §6: "The recolorer operates only on
// response bodies whose media is HTML."
func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}
