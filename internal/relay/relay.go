// Package relay forwards video datagrams between paired clients. A
// datagram's sender id also refreshes that sender's known datagram address,
// so every datagram doubles as a registration.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/arqut/arqut-desk/internal/protocol"
	"github.com/arqut/arqut-desk/internal/registry"
)

// readBufferSize covers the largest possible UDP payload
const readBufferSize = 65535

// AddrNotifier is told when a client's datagram address changes
type AddrNotifier interface {
	NotifyUDPAddr(id string)
}

// Stats counts relay activity
type Stats struct {
	Received  uint64 `json:"received"`
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
}

// Server is the datagram relay
type Server struct {
	logger   *slog.Logger
	registry *registry.Registry
	notifier AddrNotifier

	conn *net.UDPConn
	mu   sync.Mutex
	wg   sync.WaitGroup
	ctx  context.Context
	stop context.CancelFunc

	received  atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a relay. notifier may be nil.
func New(reg *registry.Registry, notifier AddrNotifier, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		logger:   logger.With("component", "relay"),
		registry: reg,
		notifier: notifier,
		ctx:      ctx,
		stop:     cancel,
	}
}

// Start binds the relay socket and starts forwarding
func (s *Server) Start(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("Relay listening", "addr", conn.LocalAddr().String())

	s.wg.Add(1)
	go s.readLoop(conn)
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop closes the socket and waits for the read loop
func (s *Server) Stop() error {
	s.stop()

	s.mu.Lock()
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Relay stopped")
	return err
}

// Stats returns a snapshot of the counters
func (s *Server) Stats() Stats {
	return Stats{
		Received:  s.received.Load(),
		Forwarded: s.forwarded.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *Server) readLoop(conn *net.UDPConn) {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Relay read error", "error", err)
			continue
		}

		s.handleDatagram(conn, buf[:n], from)
	}
}

// handleDatagram records the sender's address and forwards the datagram
// verbatim to the sender's partner. Anything undecodable, from an unknown
// sender, or from an unpaired sender is dropped.
func (s *Server) handleDatagram(conn *net.UDPConn, data []byte, from *net.UDPAddr) {
	s.received.Add(1)

	sender, err := protocol.DatagramSender(data)
	if err != nil || sender == "" {
		s.dropped.Add(1)
		s.logger.Debug("Dropping undecodable datagram", "from", from.String(), "error", err)
		return
	}

	if _, ok := s.registry.Get(sender); !ok {
		s.dropped.Add(1)
		s.logger.Debug("Dropping datagram from unknown sender", "sender", sender, "from", from.String())
		return
	}

	if s.registry.UpdateUDPAddr(sender, from) {
		s.logger.Debug("Datagram address updated", "id", sender, "addr", from.String())
		if s.notifier != nil {
			s.notifier.NotifyUDPAddr(sender)
		}
	}

	dest, ok := s.registry.PartnerUDPAddr(sender)
	if !ok {
		s.dropped.Add(1)
		return
	}

	if _, err := conn.WriteToUDP(data, dest); err != nil {
		s.dropped.Add(1)
		s.logger.Debug("Relay write failed", "to", dest.String(), "error", err)
		return
	}
	s.forwarded.Add(1)
}
