package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/protocol"
)

const (
	writeTimeout = 5 * time.Second
	maxFrameSize = 4 << 20
)

// ErrTunnelClosed is returned by Send and Receive after Close
var ErrTunnelClosed = errors.New("p2p tunnel closed")

// Tunnel is an authenticated P2P control link. Either side may send.
type Tunnel struct {
	conn      net.Conn
	reader    *protocol.Reader
	peerID    string
	sessionID string

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newTunnel(conn net.Conn, peerID, sessionID string) *Tunnel {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return &Tunnel{
		conn:      conn,
		reader:    protocol.NewReader(conn, maxFrameSize),
		peerID:    peerID,
		sessionID: sessionID,
	}
}

// Dial connects to a target's listener and sends the hello
func Dial(ctx context.Context, host string, port int, fromID, sessionID string) (*Tunnel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dialing peer: %w", err)
	}

	t := newTunnel(conn, "", sessionID)
	if err := t.Send(&models.P2PHello{FromID: fromID, SessionID: sessionID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	return t, nil
}

// Send writes one packet. It fails with ErrTunnelClosed after Close.
func (t *Tunnel) Send(p models.Payload) error {
	if t.closed.Load() {
		return ErrTunnelClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := protocol.WriteFrame(t.conn, models.NewPacket(p)); err != nil {
		if t.closed.Load() {
			return ErrTunnelClosed
		}
		return err
	}
	return nil
}

// Receive blocks for the next packet from the peer
func (t *Tunnel) Receive() (*models.Packet, error) {
	pkt, err := t.reader.ReadPacket()
	if err != nil && t.closed.Load() {
		return nil, ErrTunnelClosed
	}
	return pkt, err
}

// Close closes the link. Further calls are no-ops.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.conn.Close()
	})
	return err
}

// Closed reports whether Close was called
func (t *Tunnel) Closed() bool {
	return t.closed.Load()
}

// PeerID is the hello sender's id on the listening side, empty on the
// dialing side
func (t *Tunnel) PeerID() string { return t.peerID }

// SessionID is the session the tunnel was opened for
func (t *Tunnel) SessionID() string { return t.sessionID }

// RemoteAddr returns the peer's address
func (t *Tunnel) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
