package p2p

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
)

// Handler takes ownership of an accepted tunnel. Stop waits for running
// handlers to return.
type Handler func(t *Tunnel)

// Listener accepts P2P control links for the current session
type Listener struct {
	state        *SessionState
	helloTimeout time.Duration
	handler      Handler
	logger       *slog.Logger

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewListener creates a listener validating hellos against state
func NewListener(state *SessionState, helloTimeout time.Duration, handler Handler, logger *slog.Logger) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		state:        state,
		helloTimeout: helloTimeout,
		handler:      handler,
		logger:       logger.With("component", "p2p"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start binds addr. An empty addr binds an ephemeral port on all interfaces.
func (l *Listener) Start(addr string) error {
	if addr == "" {
		addr = ":0"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.logger.Info("P2P listener started", "port", l.Port())

	l.wg.Add(1)
	go l.acceptLoop(ln)
	return nil
}

// Port returns the bound port, or 0 when not listening
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return 0
	}
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Stop closes the listener and waits for pending handshakes
func (l *Listener) Stop() error {
	l.cancel()

	l.mu.Lock()
	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	return err
}

func (l *Listener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("P2P accept error", "error", err)
			continue
		}

		l.wg.Add(1)
		go l.handshake(conn)
	}
}

// handshake requires a valid hello as the first packet. Any other first
// packet, a mismatched session, or silence past the timeout closes the
// connection.
func (l *Listener) handshake(conn net.Conn) {
	defer l.wg.Done()

	remote := conn.RemoteAddr().String()
	deadline := time.Now().Add(l.helloTimeout)
	conn.SetReadDeadline(deadline)

	t := newTunnel(conn, "", "")
	pkt, err := t.Receive()
	if err != nil {
		l.logger.Debug("P2P hello not received", "remote", remote, "error", err)
		t.Close()
		return
	}

	hello, ok := pkt.Payload.(*models.P2PHello)
	if !ok {
		l.logger.Warn("P2P first packet is not a hello", "remote", remote, "type", pkt.Type)
		t.Close()
		return
	}

	ctx, cancel := context.WithDeadline(l.ctx, deadline)
	valid := l.state.Wait(ctx, hello.SessionID, hello.FromID)
	cancel()

	if !valid {
		l.logger.Warn("P2P hello rejected", "remote", remote, "from", hello.FromID, "session", hello.SessionID)
		t.Close()
		return
	}

	conn.SetReadDeadline(time.Time{})
	t.peerID = hello.FromID
	t.sessionID = hello.SessionID

	l.logger.Info("P2P tunnel established", "peer", hello.FromID, "session", hello.SessionID)
	l.handler(t)
}
