package client

import (
	"errors"
	"fmt"

	"github.com/arqut/arqut-desk/internal/filetransfer"
	"github.com/arqut/arqut-desk/internal/pkg/models"
)

// Status is a snapshot of the client state
type Status struct {
	UserID        string
	LoggedIn      bool
	PartnerID     string
	SessionID     string
	Controller    bool
	P2PEnabled    bool
	ForceRelay    bool
	P2PActive     bool
	ControlPort   int
	PeerAddr      string
	VideoDest     string
	Streaming     bool
	Incoming      filetransfer.State
	IncomingFile  string
	PendingOffers []string
	DroppedEvents uint64
}

// Status returns the current client state
func (c *Client) Status() Status {
	c.mu.Lock()
	st := Status{
		UserID:     c.userID,
		LoggedIn:   c.loggedIn,
		PartnerID:  c.partnerID,
		SessionID:  c.sessionID,
		Controller: c.controller,
		P2PActive:  c.tunnel != nil,
		Streaming:  c.streamer != nil && c.streamer.Running(),
	}
	if c.peerAddr != nil {
		st.PeerAddr = c.peerAddr.String()
	}
	if c.listener != nil {
		st.ControlPort = c.listener.Port()
	}
	c.mu.Unlock()

	st.P2PEnabled = c.p2pEnabled.Load()
	st.ForceRelay = c.cfg.P2P.ForceRelay
	if c.relayAddr != nil {
		st.VideoDest = c.videoDestination().String()
	}
	st.Incoming, st.IncomingFile = c.receiver.State()
	st.PendingOffers = c.files.Pending()
	st.DroppedEvents = c.dropped.Load()
	return st
}

// RequestControl asks the broker to pair this client, as controller, with
// targetID. The outcome arrives as an EventConnectResult.
func (c *Client) RequestControl(targetID, password string) error {
	if targetID == "" {
		return errors.New("target id is required")
	}

	c.mu.Lock()
	if c.partnerID != "" {
		c.mu.Unlock()
		return ErrAlreadyInSession
	}
	c.pendingTarget = targetID
	c.mu.Unlock()

	return c.sendServer(&models.ConnectRequest{TargetID: targetID, TargetPass: password})
}

// SendChat sends a text message to the partner
func (c *Client) SendChat(text string) error {
	c.mu.Lock()
	me, partner := c.userID, c.partnerID
	c.mu.Unlock()

	if partner == "" {
		return ErrNoSession
	}
	return c.sendPartner(&models.ChatMessage{SenderID: me, ReceiverID: partner, Message: text})
}

// SendControl sends one input event to the partner
func (c *Client) SendControl(ev models.ControlPayload) error {
	if err := ValidateControl(&ev); err != nil {
		return err
	}
	return c.sendPartner(&ev)
}

// SendClipboard sends clipboard text to the partner
func (c *Client) SendClipboard(text string) error {
	return c.sendPartner(&models.ClipboardData{Content: text})
}

func (c *Client) sendClipboardIfPaired(text string) error {
	if _, ok := c.partner(); !ok {
		return nil
	}
	return c.SendClipboard(text)
}

// SendAudio sends raw audio samples to the partner. data is copied.
func (c *Client) SendAudio(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return c.sendPartner(&models.AudioData{Data: buf, Length: len(buf)})
}

// SendVideo pushes one compressed frame into the running stream. It returns
// the number of datagrams queued.
func (c *Client) SendVideo(frame []byte) (int, error) {
	c.mu.Lock()
	s := c.streamer
	c.mu.Unlock()

	if s == nil || !s.Running() {
		return 0, ErrNotStreaming
	}
	return s.SendFrame(frame)
}

// OfferFile offers a local file to the partner
func (c *Client) OfferFile(path string) error {
	if _, ok := c.partner(); !ok {
		return ErrNoSession
	}
	return c.files.Offer(path)
}

// AcceptFile accepts an offered file. It is written into dir, or the
// configured download directory when dir is empty.
func (c *Client) AcceptFile(fileName, dir string) error {
	if dir == "" {
		dir = c.cfg.File.DownloadDir
	}

	c.mu.Lock()
	c.acceptDirs[fileName] = dir
	c.mu.Unlock()

	if err := c.sendServer(&models.FileAccept{FileName: fileName}); err != nil {
		c.mu.Lock()
		delete(c.acceptDirs, fileName)
		c.mu.Unlock()
		return err
	}
	return nil
}

// RejectFile declines an offered file
func (c *Client) RejectFile(fileName string) error {
	return c.sendServer(&models.FileReject{FileName: fileName})
}

// SaveIncoming chooses the destination for a transfer that arrived without
// a prior AcceptFile
func (c *Client) SaveIncoming(dir string) error {
	if dir == "" {
		dir = c.cfg.File.DownloadDir
	}
	if err := c.receiver.Start(dir); err != nil {
		return fmt.Errorf("saving incoming file: %w", err)
	}
	return nil
}

// CancelIncoming discards the incoming transfer
func (c *Client) CancelIncoming() {
	c.receiver.Cancel()
}

// SetP2PEnabled switches between direct and relay-only mode. It affects
// where video goes and whether a new session dials a P2P tunnel.
func (c *Client) SetP2PEnabled(enabled bool) {
	c.p2pEnabled.Store(enabled)
	mode := "relay"
	if enabled {
		mode = "p2p"
	}
	c.logger.Info("Transport mode switched", "mode", mode)
}
