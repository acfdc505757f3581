package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequest_AbsoluteFormNoHostHeader(t *testing.T) {
	raw := []byte("GET http://example.com/a HTTP/1.1\r\n\r\n")
	req, n, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Equal(t, "example.com", req.Host)
	require.Equal(t, "80", req.Port)
	require.Equal(t, "/a", req.Path)
}

func TestParseRequest_HostHeaderOverridesPort(t *testing.T) {
	raw := []byte("GET http://example.com/a HTTP/1.1\r\nHost: example.com:8080\r\n\r\n")
	req, _, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Equal(t, "example.com", req.Host)
	require.Equal(t, "8080", req.Port)
}

func TestParseRequest_Connect(t *testing.T) {
	raw := []byte("CONNECT example.com:443 HTTP/1.1\r\n\r\n")
	req, n, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Equal(t, MethodConnect, req.Method)
	require.Equal(t, "example.com", req.Host)
	require.Equal(t, "443", req.Port)
}

func TestParseRequest_ConnectDefaultPort(t *testing.T) {
	raw := []byte("CONNECT example.com HTTP/1.1\r\n\r\n")
	req, _, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Equal(t, "443", req.Port)
}

func TestParseRequest_BadMethod(t *testing.T) {
	raw := []byte("POST http://example.com/a HTTP/1.1\r\n\r\n")
	_, _, err := ParseRequest(raw)
	require.ErrorIs(t, err, ErrBadMethod)
}

func TestParseRequest_Incomplete(t *testing.T) {
	raw := []byte("GET http://example.com/a HTTP/1.1\r\nHost: example.com\r\n")
	_, _, err := ParseRequest(raw)
	require.ErrorIs(t, err, ErrIncomplete)
}

func TestParseRequest_TerminatorAtLastFourBytes(t *testing.T) {
	raw := []byte("GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")
	req, n, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Empty(t, req.Body)
}

func TestParseRequest_HaltSentinel(t *testing.T) {
	raw := []byte("__halt__ / HTTP/1.1\r\n\r\n")
	req, _, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Equal(t, MethodHalt, req.Method)
}

func TestParseRequest_WithBody(t *testing.T) {
	raw := []byte("CONNECT example.com:443 HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	req, n, err := ParseRequest(raw)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Equal(t, []byte("hello"), req.Body)
}

func TestRoundTrip_EmitThenParse(t *testing.T) {
	raw := BuildRequest(MethodGet, "http://example.com/a", "example.com", "", nil)
	req, _, err := ParseRequest(raw)
	require.NoError(t, err)

	raw2, _, err := ParseRequest(req.Raw)
	require.NoError(t, err)
	_ = raw2

	again, _, err := ParseRequest(BuildRequest(req.Method, req.Target, req.Host, req.Port, req.Body))
	require.NoError(t, err)
	require.Equal(t, req.Method, again.Method)
	require.Equal(t, req.Host, again.Host)
	require.Equal(t, req.Port, again.Port)
	require.Equal(t, req.Path, again.Path)
	require.Equal(t, req.Version, again.Version)
	require.Equal(t, req.Body, again.Body)
}

func TestKey(t *testing.T) {
	req := &Request{Host: "example.com", Path: "/a"}
	require.Equal(t, "example.com/a", req.Key())
}
