package proxyrun

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// ClientState is the downstream-side state named in spec §4.4.
type ClientState int

const (
	ClientInit ClientState = iota
	ClientQuery
	ClientGet
	ClientConnect
	ClientSSL
	ClientTunnel
	ClientClose
)

func (s ClientState) String() string {
	switch s {
	case ClientInit:
		return "INIT"
	case ClientQuery:
		return "QUERY"
	case ClientGet:
		return "GET"
	case ClientConnect:
		return "CONNECT"
	case ClientSSL:
		return "SSL"
	case ClientTunnel:
		return "TUNNEL"
	case ClientClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// client is one accepted downstream connection. Where the original
// design shared one client list across every fd dispatched by a single
// loop goroutine, here each client is owned start to finish by its own
// goroutine (Loop.handleClient); State still advances through the named
// values, but nothing outside that goroutine ever reads or writes it.
type client struct {
	ID         uuid.UUID
	Conn       net.Conn
	State      ClientState
	LastActive time.Time
	query      *query
}

func newClient(conn net.Conn) *client {
	return &client{
		ID:         uuid.New(),
		Conn:       conn,
		State:      ClientInit,
		LastActive: time.Now(),
	}
}

// touch records the time of the last complete request in LastActive. The
// inactivity timeout itself is the read deadline bufferedReadLoop sets
// before each read.
func (c *client) touch() {
	c.LastActive = time.Now()
}

func (c *client) clearQuery() {
	if c.query != nil {
		c.query.close()
		c.query = nil
	}
}

func (c *client) close() {
	c.clearQuery()
	c.Conn.Close()
	c.State = ClientClose
}
