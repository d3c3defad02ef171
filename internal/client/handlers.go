package client

import (
	"context"
	"net"
	"strconv"

	"github.com/arqut/arqut-desk/internal/p2p"
	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/video"
)

// handlePacket dispatches one packet from the broker or, when fromTunnel is
// set, from the P2P tunnel. The tunnel only carries partner traffic.
func (c *Client) handlePacket(pkt *models.Packet, fromTunnel bool) {
	if fromTunnel {
		switch pkt.Payload.(type) {
		case *models.ChatMessage, *models.ControlPayload, *models.ClipboardData, *models.AudioData:
		default:
			c.logger.Warn("Unexpected packet on P2P tunnel", "type", pkt.Type)
			return
		}
	}

	switch p := pkt.Payload.(type) {
	case *models.LoginResponse:
		select {
		case c.loginCh <- p:
		default:
		}

	case *models.ConnectResponse:
		c.onConnectResponse(p)

	case *models.StartStream:
		c.onStartStream(p)

	case *models.PeerInfo:
		c.onPeerInfo(p)

	case *models.DisconnectNotice:
		c.onPartnerLeft(p.DisconnectedID)

	case *models.ChatMessage:
		c.emit(Event{Type: EventChat, PeerID: p.SenderID, Message: p.Message})

	case *models.ControlPayload:
		c.control.Execute(p)

	case *models.ClipboardData:
		if c.clipboard != nil {
			c.clipboard.Apply(p.Content)
		}

	case *models.AudioData:
		c.playAudio(p)

	case *models.FileOffer:
		c.emit(Event{Type: EventFileOffer, FileName: p.FileName, FileSize: p.FileSize})

	case *models.FileAccept:
		if err := c.files.OnAccept(c.ctx, p.FileName); err != nil {
			c.logger.Warn("Ignoring file accept", "file", p.FileName, "error", err)
			return
		}
		c.emit(Event{Type: EventFileAccepted, FileName: p.FileName, Outgoing: true})

	case *models.FileReject:
		if c.files.OnReject(p.FileName) {
			c.emit(Event{Type: EventFileRejected, FileName: p.FileName, Outgoing: true})
		}

	case *models.FileReq:
		c.onFileReq(p)

	case *models.FileChunk:
		c.receiver.HandleChunk(p)

	default:
		c.logger.Warn("Unexpected packet from server", "type", pkt.Type)
	}
}

func (c *Client) onConnectResponse(p *models.ConnectResponse) {
	c.mu.Lock()
	target := c.pendingTarget
	c.pendingTarget = ""

	if !p.Success {
		c.mu.Unlock()
		c.logger.Info("Connect rejected", "target", target, "reason", p.Message)
		c.emit(Event{Type: EventConnectResult, Success: false, Message: p.Message, PeerID: target})
		return
	}

	c.partnerID = target
	c.sessionID = p.SessionID
	c.controller = true
	c.mu.Unlock()

	c.reassembler.Reset()
	c.logger.Info("Session established", "target", target, "session", p.SessionID)
	c.emit(Event{Type: EventConnectResult, Success: true, Message: p.Message, PeerID: target, SessionID: p.SessionID})

	if !c.p2pEnabled.Load() || p.PeerHost == "" || p.PeerControlPort <= 0 {
		return
	}

	c.wg.Add(1)
	go c.dialPeer(p.PeerHost, p.PeerControlPort, p.SessionID, target)
}

// dialPeer opens the controller side of the P2P tunnel and serves it until
// it closes. On failure traffic keeps flowing through the broker.
func (c *Client) dialPeer(host string, port int, sessionID, partnerID string) {
	defer c.wg.Done()

	c.mu.Lock()
	id := c.userID
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.P2P.DialTimeout)
	t, err := p2p.Dial(ctx, host, port, id, sessionID)
	cancel()
	if err != nil {
		c.logger.Warn("P2P dial failed, using server relay", "peer", partnerID, "error", err)
		return
	}

	if !c.setTunnel(t, sessionID) {
		t.Close()
		return
	}

	c.logger.Info("P2P tunnel connected", "peer", partnerID, "addr", t.RemoteAddr().String())
	c.emit(Event{Type: EventP2PConnected, PeerID: partnerID, SessionID: sessionID, Addr: t.RemoteAddr().String()})
	c.serveTunnel(t)
}

// acceptTunnel is the listener handler on the target side. The hello has
// already been validated against the session state.
func (c *Client) acceptTunnel(t *p2p.Tunnel) {
	if !c.setTunnel(t, t.SessionID()) {
		t.Close()
		return
	}

	c.emit(Event{Type: EventP2PConnected, PeerID: t.PeerID(), SessionID: t.SessionID(), Addr: t.RemoteAddr().String()})
	c.serveTunnel(t)
}

func (c *Client) serveTunnel(t *p2p.Tunnel) {
	for {
		pkt, err := t.Receive()
		if err != nil {
			break
		}
		c.handlePacket(pkt, true)
	}
	t.Close()

	c.mu.Lock()
	current := c.tunnel == t
	if current {
		c.tunnel = nil
	}
	c.mu.Unlock()

	if current {
		c.logger.Info("P2P tunnel closed, using server relay", "session", t.SessionID())
		c.emit(Event{Type: EventP2PClosed, SessionID: t.SessionID()})
	}
}

// setTunnel installs t as the active tunnel if sessionID is still current
func (c *Client) setTunnel(t *p2p.Tunnel, sessionID string) bool {
	c.mu.Lock()
	if sessionID == "" || c.sessionID != sessionID {
		c.mu.Unlock()
		return false
	}
	old := c.tunnel
	c.tunnel = t
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return true
}

func (c *Client) onStartStream(p *models.StartStream) {
	c.mu.Lock()
	c.partnerID = p.TargetID
	c.sessionID = p.SessionID
	c.controller = false
	old := c.streamer

	s := video.NewSender(video.SenderConfig{
		SenderID:        c.userID,
		TargetID:        p.TargetID,
		Interval:        c.cfg.Video.Interval,
		ChunkSize:       c.cfg.Video.ChunkSize,
		MaxDatagramSize: c.cfg.Video.MaxDatagramSize,
		QueueSize:       c.cfg.Video.QueueSize,
	}, c.deps.Capture, c.udp, c.videoDestination, c.logger)
	c.streamer = s
	c.mu.Unlock()

	c.session.Set(p.SessionID, p.TargetID)
	if old != nil {
		old.Stop()
	}
	c.reassembler.Reset()
	s.Start(c.ctx)

	c.logger.Info("Streaming to controller", "controller", p.TargetID, "session", p.SessionID)
	c.emit(Event{Type: EventStreamStarted, PeerID: p.TargetID, SessionID: p.SessionID})
}

func (c *Client) onPeerInfo(p *models.PeerInfo) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(p.Host, strconv.Itoa(p.Port)))
	if err != nil {
		c.logger.Warn("Invalid peer address", "host", p.Host, "port", p.Port, "error", err)
		return
	}

	c.mu.Lock()
	c.peerAddr = addr
	c.mu.Unlock()

	c.logger.Info("Partner datagram address learned", "addr", addr.String())
	c.emit(Event{Type: EventPeerInfo, Addr: addr.String()})
}

func (c *Client) onPartnerLeft(id string) {
	partner := c.teardownSession()
	if partner == "" {
		partner = id
	}

	c.logger.Info("Partner disconnected", "peer", partner)
	c.emit(Event{Type: EventPartnerDisconnected, PeerID: partner})
}

// teardownSession ends the local side of the session and returns the
// former partner
func (c *Client) teardownSession() string {
	c.mu.Lock()
	partner := c.partnerID
	streamer := c.streamer
	tunnel := c.tunnel
	c.partnerID = ""
	c.sessionID = ""
	c.pendingTarget = ""
	c.controller = false
	c.peerAddr = nil
	c.streamer = nil
	c.tunnel = nil
	c.mu.Unlock()

	c.session.Clear()
	if streamer != nil {
		streamer.Stop()
	}
	if tunnel != nil {
		tunnel.Close()
	}
	c.reassembler.Reset()
	c.receiver.Cancel()
	return partner
}

// onFileReq starts writing at once when the file was accepted with a
// destination, otherwise asks for one
func (c *Client) onFileReq(p *models.FileReq) {
	c.receiver.Prepare(p)

	c.mu.Lock()
	dir, ok := c.acceptDirs[p.FileName]
	delete(c.acceptDirs, p.FileName)
	c.mu.Unlock()

	if ok {
		if err := c.receiver.Start(dir); err != nil {
			c.logger.Warn("Cannot save incoming file", "file", p.FileName, "error", err)
		}
		return
	}
	c.emit(Event{Type: EventFileIncoming, FileName: p.FileName, FileSize: p.FileSize})
}

func (c *Client) playAudio(p *models.AudioData) {
	if c.deps.Audio == nil {
		return
	}
	n := p.Length
	if n < 0 || n > len(p.Data) {
		n = len(p.Data)
	}
	if err := c.deps.Audio.Play(p.Data[:n]); err != nil {
		c.logger.Debug("Audio playback failed", "error", err)
	}
}
