package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddOrReplaceField_InsertsAfterStartLine(t *testing.T) {
	header := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHELLO")
	out, err := AddOrReplaceField(header, "Age", "12")
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK\r\nAge: 12\r\nContent-Length: 5\r\n\r\nHELLO", string(out))
}

func TestAddOrReplaceField_IdempotentByName(t *testing.T) {
	header := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHELLO")
	once, err := AddOrReplaceField(header, "Age", "12")
	require.NoError(t, err)
	twice, err := AddOrReplaceField(once, "Age", "12")
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestAddOrReplaceField_ReplacesExistingValue(t *testing.T) {
	header := []byte("HTTP/1.1 200 OK\r\nAge: 1\r\nContent-Length: 5\r\n\r\nHELLO")
	out, err := AddOrReplaceField(header, "Age", "99")
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK\r\nAge: 99\r\nContent-Length: 5\r\n\r\nHELLO", string(out))
}

func TestHeaderComplete(t *testing.T) {
	_, ok := HeaderComplete([]byte("GET / HTTP/1.1\r\n"))
	require.False(t, ok)

	off, ok := HeaderComplete([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.True(t, ok)
	require.Equal(t, len("GET / HTTP/1.1\r\n\r\n"), off)
}
