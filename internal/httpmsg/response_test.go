package httpmsg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseResponse_ContentLengthComplete(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nCache-Control: max-age=60\r\n\r\nHELLO")
	resp, n, err := ParseResponse(raw, false, DefaultMaxAge)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, []byte("HELLO"), resp.Body)
	require.Equal(t, 60*time.Second, resp.MaxAge)
	require.True(t, resp.Cacheable())
}

func TestParseResponse_ContentLengthIncomplete(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHEL")
	_, _, err := ParseResponse(raw, false, DefaultMaxAge)
	require.ErrorIs(t, err, ErrIncomplete)
}

func TestParseResponse_ZeroContentLengthNoBody(t *testing.T) {
	raw := []byte("HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n")
	resp, n, err := ParseResponse(raw, false, DefaultMaxAge)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Empty(t, resp.Body)
}

func TestParseResponse_NoContentLengthWaitsForEOF(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\n\r\nsome bytes so far")
	_, _, err := ParseResponse(raw, false, DefaultMaxAge)
	require.ErrorIs(t, err, ErrIncomplete)

	resp, n, err := ParseResponse(raw, true, DefaultMaxAge)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.False(t, resp.Cacheable())
}

func TestExtractMaxAge_DefaultOnWhitespace(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\nCache-Control: max-age=   \r\n\r\n")
	resp, _, err := ParseResponse(raw, false, DefaultMaxAge)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxAge, resp.MaxAge)
}

func TestExtractMaxAge_DefaultOnMissing(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	resp, _, err := ParseResponse(raw, false, DefaultMaxAge)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxAge, resp.MaxAge)
}

func TestParseResponse_ContentType(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\nContent-Type: text/html; charset=utf-8\r\n\r\nbody")
	resp, _, err := ParseResponse(raw, false, DefaultMaxAge)
	require.NoError(t, err)
	require.Equal(t, "text/html; charset=utf-8", resp.ContentType)
}
