package httpmsg

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/idna"
)

const (
	MethodGet     = "GET"
	MethodConnect = "CONNECT"
	// MethodHalt is the sentinel method token that instructs the proxy to
	// shut down gracefully once in-flight transactions drain.
	MethodHalt = "__halt__"

	headerTerminator = "\r\n\r\n"
	crlf             = "\r\n"
)

// Request is one parsed HTTP/1.1 request. Raw is the exact byte sequence
// (start line through the end of any body) that produced the parsed
// fields; mutating the other fields never desynchronizes Raw, because Raw
// is only ever read, never derived from the other fields after parsing.
type Request struct {
	Method  string
	Target  string // as it appeared on the wire, absolute- or authority-form
	Path    string // path component, set for absolute-form GET targets
	Host    string
	Port    string
	Version string
	Body    []byte
	Raw     []byte
}

// Key returns the cache key for this request: host concatenated with path,
// per spec "key is request.host || request.path".
func (r *Request) Key() string {
	return r.Host + r.Path
}

// ParseRequest parses a request header (and, if Content-Length is present,
// its body) out of buf. It returns the parsed Request and the number of
// bytes of buf consumed. If buf does not yet contain a complete message,
// it returns ErrIncomplete and the caller should read more bytes and retry
// parsing from the start of buf (parsing never partially mutates the
// destination on failure or on ErrIncomplete).
func ParseRequest(buf []byte) (*Request, int, error) {
	termIdx := strings.Index(string(buf), headerTerminator)
	if termIdx < 0 {
		return nil, 0, ErrIncomplete
	}
	headerEnd := termIdx + len(headerTerminator)

	lines := strings.Split(string(buf[:termIdx]), crlf)
	if len(lines) == 0 || lines[0] == "" {
		return nil, 0, ErrInvalidHeader
	}

	req, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, 0, err
	}

	fields, err := parseFields(lines[1:])
	if err != nil {
		return nil, 0, err
	}

	if req.Method != MethodHalt {
		if err := fillRequestAuthority(req, fields); err != nil {
			return nil, 0, err
		}
	}

	bodyLen := 0
	if cl, ok := fields["content-length"]; ok {
		n, convErr := strconv.Atoi(strings.TrimSpace(cl))
		if convErr != nil || n < 0 {
			return nil, 0, fmt.Errorf("%w: bad Content-Length", ErrInvalidHeader)
		}
		bodyLen = n
	}

	total := headerEnd + bodyLen
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}

	req.Body = append([]byte(nil), buf[headerEnd:total]...)
	req.Raw = append([]byte(nil), buf[:total]...)
	return req, total, nil
}

func parseRequestLine(line string) (*Request, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed start line", ErrInvalidHeader)
	}
	method, target, version := parts[0], parts[1], parts[2]

	switch method {
	case MethodGet, MethodConnect, MethodHalt:
	default:
		return nil, ErrBadMethod
	}

	return &Request{Method: method, Target: target, Version: version}, nil
}

func parseFields(lines []string) (map[string]string, error) {
	fields := make(map[string]string, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, fmt.Errorf("%w: malformed field %q", ErrInvalidHeader, line)
		}
		name := strings.ToLower(strings.TrimSpace(line[:colon]))
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: invalid field name %q", ErrInvalidHeader, name)
		}
		value := strings.Trim(line[colon+1:], " \t")
		fields[name] = value
	}
	return fields, nil
}

// fillRequestAuthority derives Host, Port, and Path from the target and the
// Host header, per spec: Host header wins when present, falling back to
// the absolute-form URI; port falls back from host:port, then target
// authority, then a scheme default (80/http, 443/https and CONNECT).
func fillRequestAuthority(req *Request, fields map[string]string) error {
	switch req.Method {
	case MethodConnect:
		host, port, err := splitAuthority(req.Target, "443")
		if err != nil {
			return err
		}
		req.Host, req.Port = normalizeHost(host), port
		return nil
	case MethodGet:
		scheme, host, port, path, err := splitAbsoluteTarget(req.Target)
		if err != nil {
			return err
		}
		req.Path = path

		if hostHeader := fields["host"]; hostHeader != "" {
			h, p, err := splitAuthority(hostHeader, "")
			if err != nil {
				return err
			}
			req.Host = normalizeHost(h)
			if p != "" {
				req.Port = p
			} else if port != "" {
				req.Port = port
			} else {
				req.Port = defaultPortForScheme(scheme)
			}
			return nil
		}

		if host == "" {
			return fmt.Errorf("%w: no Host header and no absolute-form host", ErrBadURL)
		}
		req.Host = normalizeHost(host)
		if port != "" {
			req.Port = port
		} else {
			req.Port = defaultPortForScheme(scheme)
		}
		return nil
	}
	return nil
}

func defaultPortForScheme(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// splitAbsoluteTarget parses scheme://host[:port][/path]. path defaults to
// "/" when omitted, matching how origins treat a bare authority request.
func splitAbsoluteTarget(target string) (scheme, host, port, path string, err error) {
	schemeSep := strings.Index(target, "://")
	if schemeSep < 0 {
		// Not absolute-form; treat the whole thing as an origin-form path
		// with no host (caller falls back to the Host header).
		if !strings.HasPrefix(target, "/") {
			return "", "", "", "", fmt.Errorf("%w: %q", ErrBadURL, target)
		}
		return "", "", "", target, nil
	}
	scheme = strings.ToLower(target[:schemeSep])
	if scheme != "http" && scheme != "https" {
		return "", "", "", "", fmt.Errorf("%w: unsupported scheme %q", ErrBadURL, scheme)
	}
	rest := target[schemeSep+3:]
	path = "/"
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		path = rest[slash:]
		rest = rest[:slash]
	}
	if rest == "" {
		return "", "", "", "", fmt.Errorf("%w: empty authority in %q", ErrBadURL, target)
	}
	host, port, err = splitAuthority(rest, "")
	if err != nil {
		return "", "", "", "", err
	}
	return scheme, host, port, path, nil
}

// splitAuthority parses "host" or "host:port". def is used when no port is
// present and the caller has no better default (pass "" to signal "none").
func splitAuthority(authority string, def string) (host, port string, err error) {
	if authority == "" {
		return "", "", fmt.Errorf("%w: empty authority", ErrBadURL)
	}
	if idx := strings.LastIndexByte(authority, ':'); idx >= 0 {
		host = authority[:idx]
		port = authority[idx+1:]
		if port == "" {
			return "", "", fmt.Errorf("%w: empty port in %q", ErrBadPort, authority)
		}
		for _, c := range port {
			if c < '0' || c > '9' {
				return "", "", fmt.Errorf("%w: non-numeric port %q", ErrBadPort, port)
			}
		}
		n, convErr := strconv.Atoi(port)
		if convErr != nil || n < 1 || n > 65535 {
			return "", "", fmt.Errorf("%w: out of range port %q", ErrBadPort, port)
		}
		return host, port, nil
	}
	return authority, def, nil
}

// normalizeHost lower-cases host and converts internationalized labels to
// their ASCII (punycode) form, so visually distinct Unicode/ASCII spellings
// of the same host collide to a single cache key.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

// BuildRequest emits a raw request suitable for forwarding to an origin
// server, per spec §4.1: start line, optional Host field, terminator, body.
func BuildRequest(method, target, host, port string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(target)
	b.WriteString(" HTTP/1.1")
	b.WriteString(crlf)
	if host != "" {
		b.WriteString("Host: ")
		b.WriteString(host)
		if port != "" {
			b.WriteByte(':')
			b.WriteString(port)
		}
		b.WriteString(crlf)
	}
	b.WriteString(crlf)
	out := []byte(b.String())
	if len(body) > 0 {
		out = append(out, body...)
	}
	return out
}
