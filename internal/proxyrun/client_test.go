package proxyrun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_StateStrings(t *testing.T) {
	require.Equal(t, "INIT", ClientInit.String())
	require.Equal(t, "QUERY", ClientQuery.String())
	require.Equal(t, "GET", ClientGet.String())
	require.Equal(t, "CONNECT", ClientConnect.String())
	require.Equal(t, "SSL", ClientSSL.String())
	require.Equal(t, "TUNNEL", ClientTunnel.String())
	require.Equal(t, "CLOSE", ClientClose.String())
	require.Equal(t, "UNKNOWN", ClientState(99).String())
}

func TestClient_ClearQueryClosesAndNils(t *testing.T) {
	srvConn, cliConn := net.Pipe()
	defer cliConn.Close()

	c := newClient(srvConn)
	q := newQuery(nil)
	q.Conn = srvConn
	c.query = q

	c.clearQuery()
	require.Nil(t, c.query)
	require.Equal(t, QueryDone, q.State)
}

func TestClient_CloseClearsQueryAndConn(t *testing.T) {
	srvConn, cliConn := net.Pipe()
	defer cliConn.Close()

	c := newClient(srvConn)
	c.close()
	require.Equal(t, ClientClose, c.State)
	require.Nil(t, c.query)
}
