package broker

import (
	"net"
	"sync"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/protocol"
)

// clientConn is one control-plane connection. It implements registry.Conn.
type clientConn struct {
	conn         net.Conn
	reader       *protocol.Reader
	writeTimeout time.Duration

	id   string
	idMu sync.RWMutex

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newClientConn(conn net.Conn, maxFrameSize int, writeTimeout time.Duration) *clientConn {
	return &clientConn{
		conn:         conn,
		reader:       protocol.NewReader(conn, maxFrameSize),
		writeTimeout: writeTimeout,
	}
}

// Send writes one packet. Concurrent senders are serialized so frames never
// interleave on the wire.
func (c *clientConn) Send(p *models.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return protocol.WriteFrame(c.conn, p)
}

// Close closes the underlying connection once
func (c *clientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address of the connection
func (c *clientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *clientConn) ID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.id
}

func (c *clientConn) setID(id string) {
	c.idMu.Lock()
	c.id = id
	c.idMu.Unlock()
}

// remoteIP returns the host part of a connection address
func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
