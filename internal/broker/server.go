// Package broker implements the control-plane session broker: login,
// pairing, forwarding between partners and disconnect cleanup.
package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arqut/arqut-desk/internal/config"
	"github.com/arqut/arqut-desk/internal/events"
	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/registry"
	"github.com/arqut/arqut-desk/internal/storage"
)

const (
	limiterIdle     = 10 * time.Minute
	cleanupInterval = time.Minute
	addrQueueSize   = 256
)

// Server accepts control connections and brokers sessions between them
type Server struct {
	config     *config.BrokerConfig
	publicHost string
	logger     *slog.Logger
	registry   *registry.Registry
	storage    storage.Storage
	events     events.Publisher
	limiter    *ipLimiter

	// datagram address changes reported by the relay, drained by peerInfoLoop
	addrUpdates chan string

	listener net.Listener
	conns    map[*clientConn]struct{}
	mu       sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	newSessionID func() string
}

// New creates a broker. store and pub may be nil.
func New(cfg *config.BrokerConfig, publicHost string, reg *registry.Registry, store storage.Storage, pub events.Publisher, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:       cfg,
		publicHost:   publicHost,
		logger:       logger.With("component", "broker"),
		registry:     reg,
		storage:      store,
		events:       pub,
		limiter:      newIPLimiter(cfg.RateLimit.Enabled, cfg.RateLimit.Rate, cfg.RateLimit.Burst),
		addrUpdates:  make(chan string, addrQueueSize),
		conns:        make(map[*clientConn]struct{}),
		ctx:          ctx,
		cancel:       cancel,
		newSessionID: uuid.NewString,
	}
}

// Start listens on addr and serves connections in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.logger.Info("Broker listening", "addr", ln.Addr().String())

	go s.Serve(ln)
	return nil
}

// Serve accepts connections on ln until Stop is called
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.wg.Add(2)
	s.mu.Unlock()

	go s.cleanupLoop()
	go s.peerInfoLoop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}

		c := newClientConn(conn, s.config.MaxFrameSize, s.config.WriteTimeout)

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConn(c)
	}
}

// Addr returns the listening address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every connection and waits for their loops
func (s *Server) Stop() error {
	s.logger.Info("Stopping broker")
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("Broker stopped")
	return nil
}

// UpdateRateLimit applies a new login/connect rate limit
func (s *Server) UpdateRateLimit(cfg config.RateLimitConfig) {
	s.limiter.Update(cfg.Enabled, cfg.Rate, cfg.Burst)
	s.logger.Info("Rate limit updated", "enabled", cfg.Enabled, "rate", cfg.Rate, "burst", cfg.Burst)
}

// Kick closes the connection of an online client. Cleanup then runs exactly
// as for a network disconnect.
func (s *Server) Kick(id string) bool {
	client, ok := s.registry.Get(id)
	if !ok {
		return false
	}

	s.logger.Info("Kicking client", "id", id)
	client.Conn.Close()
	return true
}

func (s *Server) handleConn(c *clientConn) {
	defer s.wg.Done()

	remote := c.RemoteAddr().String()
	s.logger.Debug("Connection accepted", "remote", remote)

	defer func() {
		c.Close()
		s.disconnect(c)

		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	if s.config.LoginTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(s.config.LoginTimeout))
	}

	for {
		pkt, err := c.reader.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("Read error", "remote", remote, "id", c.ID(), "error", err)
			}
			return
		}

		s.logger.Debug("Received packet", "from", c.ID(), "type", pkt.Type)

		if !s.handleMessage(c, pkt) {
			return
		}
	}
}

// handleMessage dispatches one packet. It returns false when the connection
// must be closed.
func (s *Server) handleMessage(c *clientConn, pkt *models.Packet) bool {
	if login, ok := pkt.Payload.(*models.LoginRequest); ok {
		return s.handleLogin(c, login)
	}

	if c.ID() == "" {
		s.logger.Debug("Dropping packet before login", "remote", c.RemoteAddr().String(), "type", pkt.Type)
		return true
	}

	switch p := pkt.Payload.(type) {
	case *models.PeerRegister:
		s.handlePeerRegister(c, p)

	case *models.ConnectRequest:
		s.handleConnectRequest(c, p)

	case *models.ChatMessage:
		p.SenderID = c.ID()
		if partner, ok := s.registry.Partner(c.ID()); ok {
			p.ReceiverID = partner.ID
		}
		s.routeToPartner(c, pkt)

	case *models.ControlPayload, *models.ClipboardData, *models.AudioData,
		*models.FileOffer, *models.FileAccept, *models.FileReject,
		*models.FileReq, *models.FileChunk:
		s.routeToPartner(c, pkt)

	case *models.LoginResponse, *models.ConnectResponse, *models.StartStream,
		*models.DisconnectNotice, *models.PeerInfo, *models.P2PHello:
		s.logger.Warn("Unexpected packet from client", "id", c.ID(), "type", pkt.Type)

	default:
		s.logger.Warn("Unknown packet type", "id", c.ID(), "type", pkt.Type)
	}

	return true
}

func (s *Server) handleLogin(c *clientConn, req *models.LoginRequest) bool {
	if c.ID() != "" {
		s.send(c, &models.LoginResponse{Success: false, Message: "Already logged in", UserID: c.ID()})
		return true
	}

	ip := remoteIP(c.RemoteAddr())
	if !s.limiter.Allow(ip) {
		s.logger.Warn("Login rate limited", "remote", ip, "id", req.UserID)
		s.send(c, &models.LoginResponse{Success: false, Message: "Too many requests", UserID: req.UserID})
		return false
	}

	if req.UserID == "" {
		s.send(c, &models.LoginResponse{Success: false, Message: "User ID is required"})
		return false
	}

	if err := s.registry.Register(req.UserID, req.Password, c); err != nil {
		s.logger.Warn("Login rejected", "id", req.UserID, "remote", ip, "error", err)
		s.send(c, &models.LoginResponse{Success: false, Message: "ID already online", UserID: req.UserID})
		s.publish(models.BrokerEvent{Type: models.EventLoginReject, UserID: req.UserID, Reason: err.Error()})
		return false
	}

	c.setID(req.UserID)
	c.conn.SetReadDeadline(time.Time{})

	s.logger.Info("Client logged in", "id", req.UserID, "remote", ip)
	s.send(c, &models.LoginResponse{Success: true, Message: "Login successful", UserID: req.UserID})
	s.publish(models.BrokerEvent{Type: models.EventLogin, UserID: req.UserID})

	return true
}

func (s *Server) handlePeerRegister(c *clientConn, req *models.PeerRegister) {
	if req.ControlPort <= 0 || req.ControlPort > 65535 {
		s.logger.Warn("Invalid control port", "id", c.ID(), "port", req.ControlPort)
		return
	}

	if s.registry.SetControlPort(c.ID(), req.ControlPort) {
		s.logger.Info("Control port registered", "id", c.ID(), "port", req.ControlPort)
	}
}

func (s *Server) handleConnectRequest(c *clientConn, req *models.ConnectRequest) {
	controllerID := c.ID()
	ip := remoteIP(c.RemoteAddr())

	if !s.limiter.Allow(ip) {
		s.logger.Warn("Connect rate limited", "id", controllerID, "remote", ip)
		s.send(c, &models.ConnectResponse{Success: false, Message: "Too many requests"})
		s.recordAttempt(controllerID, req.TargetID, ip, false, "rate limited")
		return
	}

	sessionID := s.newSessionID()
	target, err := s.registry.Connect(controllerID, req.TargetID, req.TargetPass, sessionID)
	if err != nil {
		msg := connectErrorMessage(err)
		s.logger.Info("Connect rejected", "controller", controllerID, "target", req.TargetID, "reason", msg)
		s.send(c, &models.ConnectResponse{Success: false, Message: msg})
		s.recordAttempt(controllerID, req.TargetID, ip, false, msg)
		s.publish(models.BrokerEvent{Type: models.EventConnectFail, UserID: controllerID, PeerID: req.TargetID, Reason: msg})
		return
	}

	s.logger.Info("Session established",
		"session", sessionID,
		"controller", controllerID,
		"target", target.ID,
	)

	s.send(c, &models.ConnectResponse{
		Success:         true,
		Message:         "Connected",
		SessionID:       sessionID,
		PeerHost:        s.advertisedHost(target.Conn.RemoteAddr()),
		PeerControlPort: target.ControlPort,
	})
	s.sendTo(target.Conn, target.ID, &models.StartStream{TargetID: controllerID, SessionID: sessionID})
	s.exchangePeerInfo(controllerID, target.ID)

	if s.storage != nil {
		rec := &models.SessionRecord{
			ID:           sessionID,
			ControllerID: controllerID,
			TargetID:     target.ID,
			ControllerIP: ip,
			StartedAt:    time.Now(),
		}
		if err := s.storage.CreateSession(rec); err != nil {
			s.logger.Error("Failed to record session", "session", sessionID, "error", err)
		}
	}
	s.recordAttempt(controllerID, target.ID, ip, true, "")
	s.publish(models.BrokerEvent{Type: models.EventPaired, UserID: controllerID, PeerID: target.ID, SessionID: sessionID})
}

// exchangePeerInfo tells each partner the other's datagram address when both
// are known
func (s *Server) exchangePeerInfo(a, b string) {
	addrA, okA := s.registry.UDPAddr(a)
	addrB, okB := s.registry.UDPAddr(b)
	if !okA || !okB {
		return
	}

	if ca, ok := s.registry.Get(a); ok {
		s.sendTo(ca.Conn, a, &models.PeerInfo{Host: addrB.IP.String(), Port: addrB.Port})
	}
	if cb, ok := s.registry.Get(b); ok {
		s.sendTo(cb.Conn, b, &models.PeerInfo{Host: addrA.IP.String(), Port: addrA.Port})
	}
}

// NotifyUDPAddr is called by the relay when a client's datagram address
// changes. It never blocks: the PEER_INFO exchange runs on peerInfoLoop so a
// slow control connection cannot stall the relay. When the queue is full the
// update is dropped and the partner keeps the old address until the next
// change.
func (s *Server) NotifyUDPAddr(id string) {
	select {
	case s.addrUpdates <- id:
	default:
		s.logger.Debug("Address update queue full, dropping", "id", id)
	}
}

// peerInfoLoop tells the partner of each client whose datagram address
// changed
func (s *Server) peerInfoLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.addrUpdates:
			partner, ok := s.registry.Partner(id)
			if !ok {
				continue
			}
			s.exchangePeerInfo(id, partner.ID)
		}
	}
}

// routeToPartner forwards a packet verbatim to the sender's partner. Packets
// from unpaired clients are dropped.
func (s *Server) routeToPartner(c *clientConn, pkt *models.Packet) {
	partner, ok := s.registry.Partner(c.ID())
	if !ok {
		s.logger.Debug("Dropping packet, no partner", "from", c.ID(), "type", pkt.Type)
		return
	}

	if err := partner.Conn.Send(pkt); err != nil {
		s.logger.Warn("Failed to forward packet",
			"from", c.ID(),
			"to", partner.ID,
			"type", pkt.Type,
			"error", err,
		)
	}
}

// disconnect removes the connection's registration and ends its session.
// The partner, and only the partner, is notified.
func (s *Server) disconnect(c *clientConn) {
	id := c.ID()
	if id == "" {
		return
	}

	partnerID, sessionID, removed := s.registry.Remove(id, c)
	if !removed {
		return
	}

	s.logger.Info("Client disconnected", "id", id)
	s.publish(models.BrokerEvent{Type: models.EventDisconnect, UserID: id})

	if partnerID == "" {
		return
	}

	if partner, ok := s.registry.Get(partnerID); ok {
		s.sendTo(partner.Conn, partnerID, &models.DisconnectNotice{DisconnectedID: id})
	}

	if s.storage != nil && sessionID != "" {
		if err := s.storage.EndSession(sessionID, id, time.Now()); err != nil {
			s.logger.Error("Failed to close session record", "session", sessionID, "error", err)
		}
	}

	s.logger.Info("Session ended", "session", sessionID, "by", id, "partner", partnerID)
	s.publish(models.BrokerEvent{Type: models.EventSessionEnded, UserID: id, PeerID: partnerID, SessionID: sessionID})
}

func (s *Server) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(limiterIdle); n > 0 {
				s.logger.Debug("Pruned idle rate limiters", "count", n)
			}
		}
	}
}

func (s *Server) send(c *clientConn, p models.Payload) {
	s.sendTo(c, c.ID(), p)
}

func (s *Server) sendTo(conn registry.Conn, id string, p models.Payload) {
	if err := conn.Send(models.NewPacket(p)); err != nil {
		s.logger.Warn("Failed to send packet", "to", id, "type", p.PacketType(), "error", err)
	}
}

func (s *Server) publish(ev models.BrokerEvent) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

func (s *Server) recordAttempt(controllerID, targetID, ip string, success bool, reason string) {
	if s.storage == nil {
		return
	}
	err := s.storage.RecordAttempt(&models.ConnectAttempt{
		ControllerID: controllerID,
		TargetID:     targetID,
		RemoteIP:     ip,
		Success:      success,
		Reason:       reason,
	})
	if err != nil {
		s.logger.Error("Failed to record connect attempt", "error", err)
	}
}

// advertisedHost is the address a controller should dial to reach a
// target's P2P listener
func (s *Server) advertisedHost(addr net.Addr) string {
	host := remoteIP(addr)
	if s.publicHost != "" {
		if ip := net.ParseIP(host); host == "" || (ip != nil && (ip.IsLoopback() || ip.IsUnspecified())) {
			return s.publicHost
		}
	}
	return host
}

func connectErrorMessage(err error) string {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return "Target ID not found or offline"
	case errors.Is(err, registry.ErrWrongPassword):
		return "Wrong password"
	case errors.Is(err, registry.ErrNotP2PReady):
		return "Target is not P2P-ready"
	case errors.Is(err, registry.ErrSelfPair):
		return "Cannot connect to yourself"
	case errors.Is(err, registry.ErrAlreadyPaired):
		return "Target or controller is already in a session"
	default:
		return "Connect failed"
	}
}
