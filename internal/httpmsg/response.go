package httpmsg

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Response is one parsed HTTP/1.1 response. Raw is the wire bytes (status
// line through end of body) that produced the parsed fields.
type Response struct {
	Version    string
	StatusCode int
	StatusText string

	CacheControl string
	MaxAge       time.Duration // derived; DefaultMaxAge if absent/malformed
	ContentLen   int           // -1 when Content-Length was absent
	ContentType  string

	Body []byte
	Raw  []byte
}

// DefaultMaxAge is used when Cache-Control has no (valid) max-age directive.
const DefaultMaxAge = 3600 * time.Second

// Cacheable reports whether this response may be stored in the cache.
// Per Open Question (3): a response with no Content-Length is framed by
// connection close and is never cached, because its length is only known
// in hindsight and re-serving it from a byte slice would misrepresent a
// framing the original transaction never had.
func (r *Response) Cacheable() bool {
	return r.ContentLen >= 0
}

// ParseResponse parses a response out of buf. eof indicates the upstream
// connection has closed (no more bytes will ever arrive); it is only
// consulted when Content-Length is absent, to decide whether the
// connection-close-framed body is complete yet.
//
// On success it returns the parsed Response and the number of bytes of buf
// consumed. If the message is not yet complete it returns ErrIncomplete.
func ParseResponse(buf []byte, eof bool, defaultMaxAge time.Duration) (*Response, int, error) {
	termIdx := strings.Index(string(buf), headerTerminator)
	if termIdx < 0 {
		return nil, 0, ErrIncomplete
	}
	headerEnd := termIdx + len(headerTerminator)

	lines := strings.Split(string(buf[:termIdx]), crlf)
	if len(lines) == 0 {
		return nil, 0, ErrInvalidHeader
	}

	resp, err := parseStatusLine(lines[0])
	if err != nil {
		return nil, 0, err
	}

	fields, err := parseFields(lines[1:])
	if err != nil {
		return nil, 0, err
	}

	resp.CacheControl = fields["cache-control"]
	resp.MaxAge = extractMaxAge(resp.CacheControl, defaultMaxAge)
	resp.ContentType = fields["content-type"]

	resp.ContentLen = -1
	if cl, ok := fields["content-length"]; ok {
		n, convErr := strconv.Atoi(strings.TrimSpace(cl))
		if convErr != nil || n < 0 {
			return nil, 0, fmt.Errorf("%w: bad Content-Length", ErrInvalidHeader)
		}
		resp.ContentLen = n
	}

	if resp.ContentLen >= 0 {
		total := headerEnd + resp.ContentLen
		if len(buf) < total {
			return nil, 0, ErrIncomplete
		}
		resp.Body = append([]byte(nil), buf[headerEnd:total]...)
		resp.Raw = append([]byte(nil), buf[:total]...)
		return resp, total, nil
	}

	if !eof {
		return nil, 0, ErrIncomplete
	}
	resp.Body = append([]byte(nil), buf[headerEnd:]...)
	resp.Raw = append([]byte(nil), buf...)
	return resp, len(buf), nil
}

func parseStatusLine(line string) (*Response, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: malformed status line", ErrInvalidHeader)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed status code", ErrInvalidHeader)
	}
	text := ""
	if len(parts) == 3 {
		text = parts[2]
	}
	return &Response{Version: parts[0], StatusCode: code, StatusText: text}, nil
}

// extractMaxAge extracts the unsigned decimal following a max-age= token.
// Missing, malformed, or whitespace-only values yield def, per spec §4.1.
func extractMaxAge(cacheControl string, def time.Duration) time.Duration {
	idx := strings.Index(strings.ToLower(cacheControl), "max-age=")
	if idx < 0 {
		return def
	}
	rest := strings.TrimSpace(cacheControl[idx+len("max-age="):])
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return def
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

// BuildResponseStatusLine renders "HTTP/1.1 200 OK" style status lines for
// synthesized error responses.
func BuildResponseStatusLine(version string, code int, text string) string {
	if version == "" {
		version = "HTTP/1.1"
	}
	return fmt.Sprintf("%s %d %s", version, code, text)
}
