// Package client is the networking layer of a desktop client. It owns the
// broker connection, the datagram socket used for video, the P2P control
// tunnel and the file transfers running over them, and reports what happens
// on a single event channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arqut/arqut-desk/internal/config"
	"github.com/arqut/arqut-desk/internal/filetransfer"
	"github.com/arqut/arqut-desk/internal/p2p"
	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/protocol"
	"github.com/arqut/arqut-desk/internal/video"
)

const (
	writeTimeout    = 5 * time.Second
	maxFrameSize    = 16 << 20
	eventBuffer     = 256
	udpReadBuffer   = 65535
	cleanupInterval = 500 * time.Millisecond
)

var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrLoginRejected     = errors.New("login rejected")
	ErrNoSession         = errors.New("no active session")
	ErrAlreadyInSession  = errors.New("already in a session")
	ErrNotStreaming      = errors.New("video stream not running")
	ErrMissingCredential = errors.New("user id is required")
)

// Client is one desktop endpoint. It is single-use: after Close a new
// Client must be created.
type Client struct {
	cfg    *config.ClientConfig
	deps   Collaborators
	logger *slog.Logger

	conn      net.Conn
	reader    *protocol.Reader
	writeMu   sync.Mutex
	udp       *net.UDPConn
	relayAddr *net.UDPAddr

	session     *p2p.SessionState
	listener    *p2p.Listener
	reassembler *video.Reassembler
	files       *filetransfer.Sender
	receiver    *filetransfer.Receiver
	control     *controlExecutor
	clipboard   *clipboardSync

	p2pEnabled atomic.Bool
	loginCh    chan *models.LoginResponse

	mu            sync.Mutex
	userID        string
	loggedIn      bool
	pendingTarget string
	partnerID     string
	sessionID     string
	controller    bool
	peerAddr      *net.UDPAddr
	tunnel        *p2p.Tunnel
	streamer      *video.Sender
	acceptDirs    map[string]string

	events   chan Event
	evMu     sync.RWMutex
	evClosed bool
	dropped  atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a client. cfg must already carry defaults.
func New(cfg *config.ClientConfig, deps Collaborators, logger *slog.Logger) *Client {
	logger = logger.With("component", "client")
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		session:    p2p.NewSessionState(),
		loginCh:    make(chan *models.LoginResponse, 1),
		acceptDirs: make(map[string]string),
		events:     make(chan Event, eventBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
	c.p2pEnabled.Store(cfg.P2P.Enabled)

	c.reassembler = video.NewReassembler(cfg.Video.FrameTimeout, c.showFrame, logger)
	c.reassembler.SetMaxChunks(video.MaxChunks(cfg.Video.MaxFrameSize, cfg.Video.ChunkSize))
	c.files = filetransfer.NewSender(packetFunc(c.sendServer), filetransfer.SenderOptions{
		ChunkSize: cfg.File.ChunkSize,
		Pacing:    cfg.File.Pacing,
		Progress:  c.progress(true),
		Done:      c.fileSent,
	}, logger)
	c.receiver = filetransfer.NewReceiver(c.fileReceived, c.progress(false), logger)
	c.control = &controlExecutor{sink: deps.Input, logger: logger}

	if deps.Clipboard != nil && cfg.Clipboard.Enabled {
		c.clipboard = newClipboardSync(deps.Clipboard, cfg.Clipboard.PollInterval, c.sendClipboardIfPaired, logger)
	}

	return c
}

// packetFunc adapts a send function to filetransfer.PacketSender
type packetFunc func(p models.Payload) error

func (f packetFunc) SendPacket(p models.Payload) error { return f(p) }

// Connect dials the broker, binds the datagram socket and logs in. It
// returns once the broker accepted or rejected the login.
func (c *Client) Connect(ctx context.Context, userID, password string) error {
	if userID == "" {
		return ErrMissingCredential
	}

	c.writeMu.Lock()
	if c.conn != nil {
		c.writeMu.Unlock()
		return ErrAlreadyConnected
	}

	host := c.cfg.Server.Host
	d := net.Dialer{Timeout: c.cfg.Server.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(c.cfg.Server.Port)))
	if err != nil {
		c.writeMu.Unlock()
		return fmt.Errorf("dialing server: %w", err)
	}

	relayAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(c.cfg.Server.RelayPort)))
	if err != nil {
		conn.Close()
		c.writeMu.Unlock()
		return fmt.Errorf("resolving relay: %w", err)
	}

	udp, err := net.ListenUDP("udp", nil)
	if err != nil {
		conn.Close()
		c.writeMu.Unlock()
		return fmt.Errorf("binding datagram socket: %w", err)
	}

	c.conn = conn
	c.reader = protocol.NewReader(conn, maxFrameSize)
	c.udp = udp
	c.relayAddr = relayAddr
	c.writeMu.Unlock()

	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()

	c.logger.Info("Connected to server",
		"server", conn.RemoteAddr().String(),
		"relay", relayAddr.String(),
		"udp_port", udp.LocalAddr().(*net.UDPAddr).Port,
	)

	g, gctx := errgroup.WithContext(c.ctx)
	c.group = g
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.udpLoop(gctx) })
	g.Go(func() error {
		c.reassembler.Run(gctx, cleanupInterval)
		return nil
	})

	if err := c.sendServer(&models.LoginRequest{UserID: userID, Password: password}); err != nil {
		c.Close()
		return fmt.Errorf("sending login: %w", err)
	}

	resp, err := c.awaitLogin(ctx)
	if err != nil {
		c.Close()
		return err
	}
	if !resp.Success {
		c.Close()
		return fmt.Errorf("%w: %s", ErrLoginRejected, resp.Message)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	c.logger.Info("Logged in", "id", userID)

	c.startListener()
	c.sendRegistration()

	g.Go(func() error { return c.keepaliveLoop(gctx) })
	if c.clipboard != nil {
		g.Go(func() error { return c.clipboard.Run(gctx) })
	}

	c.emit(Event{Type: EventLoggedIn, Success: true, Message: resp.Message, PeerID: userID})
	return nil
}

func (c *Client) awaitLogin(ctx context.Context) (*models.LoginResponse, error) {
	select {
	case resp := <-c.loginCh:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for login: %w", ctx.Err())
	case <-c.ctx.Done():
		// The broker answers a rejected login and then closes
		select {
		case resp := <-c.loginCh:
			return resp, nil
		default:
			return nil, ErrNotConnected
		}
	}
}

// startListener opens the P2P listener and advertises its port. Without it
// the broker treats this client as not P2P-ready.
func (c *Client) startListener() {
	l := p2p.NewListener(c.session, c.cfg.P2P.HelloTimeout, c.acceptTunnel, c.logger)
	if err := l.Start(""); err != nil {
		c.logger.Warn("P2P listener unavailable", "error", err)
		return
	}

	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()

	if err := c.sendServer(&models.PeerRegister{ControlPort: l.Port()}); err != nil {
		c.logger.Warn("Failed to register control port", "error", err)
	}
}

// Close disconnects and stops every worker. It is safe to call more than
// once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.teardownSession()

		c.writeMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		if c.udp != nil {
			c.udp.Close()
		}
		c.writeMu.Unlock()

		c.mu.Lock()
		l := c.listener
		c.mu.Unlock()
		if l != nil {
			l.Stop()
		}

		if c.group != nil {
			c.group.Wait()
		}
		c.wg.Wait()
		c.files.Wait()

		c.evMu.Lock()
		c.evClosed = true
		close(c.events)
		c.evMu.Unlock()

		c.logger.Info("Client closed")
	})
	return nil
}

// Events returns the event channel. It is closed by Close. Events are
// dropped when the channel is full.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) emit(ev Event) {
	c.evMu.RLock()
	defer c.evMu.RUnlock()

	if c.evClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	defer c.cancel()

	for {
		pkt, err := c.reader.ReadPacket()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Server connection lost", "error", err)
			c.cancel()
			c.emit(Event{Type: EventDisconnected, Err: err})
			return fmt.Errorf("reading from server: %w", err)
		}

		c.logger.Debug("Received packet", "type", pkt.Type)
		c.handlePacket(pkt, false)
	}
}

// udpLoop feeds video datagrams from the relay or the partner into the
// reassembler
func (c *Client) udpLoop(ctx context.Context) error {
	buf := make([]byte, udpReadBuffer)
	for {
		n, from, err := c.udp.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.logger.Debug("Datagram read error", "error", err)
			continue
		}

		chunk, err := protocol.DecodeDatagram(buf[:n])
		if err != nil {
			c.logger.Debug("Dropping undecodable datagram", "from", from.String(), "error", err)
			continue
		}
		if chunk.IsRegistration() {
			continue
		}

		partner, ok := c.partner()
		if !ok || chunk.SenderID != partner {
			c.logger.Debug("Dropping video from non-partner", "sender", chunk.SenderID)
			continue
		}
		c.reassembler.Add(chunk)
	}
}

func (c *Client) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Video.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sendRegistration()
		}
	}
}

// sendRegistration tells the relay this client's datagram address
func (c *Client) sendRegistration() {
	c.mu.Lock()
	id := c.userID
	c.mu.Unlock()

	data, err := protocol.EncodeDatagram(&models.VideoChunk{SenderID: id})
	if err != nil {
		c.logger.Error("Failed to encode registration", "error", err)
		return
	}
	if _, err := c.udp.WriteToUDP(data, c.relayAddr); err != nil {
		c.logger.Debug("Registration datagram failed", "error", err)
	}
}

// sendServer writes one packet on the broker connection
func (c *Client) sendServer(p models.Payload) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil || c.ctx.Err() != nil {
		return ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := protocol.WriteFrame(c.conn, models.NewPacket(p)); err != nil {
		return fmt.Errorf("sending %s: %w", p.PacketType(), err)
	}
	return nil
}

// sendPartner prefers the P2P tunnel and falls back to the broker
func (c *Client) sendPartner(p models.Payload) error {
	c.mu.Lock()
	paired := c.partnerID != ""
	t := c.tunnel
	c.mu.Unlock()

	if !paired {
		return ErrNoSession
	}

	if t != nil {
		err := t.Send(p)
		if err == nil {
			return nil
		}
		c.logger.Debug("P2P send failed, using server", "type", p.PacketType(), "error", err)
	}
	return c.sendServer(p)
}

// videoDestination picks the partner's datagram address when direct video
// is allowed and known, otherwise the relay
func (c *Client) videoDestination() *net.UDPAddr {
	if c.p2pEnabled.Load() && !c.cfg.P2P.ForceRelay {
		c.mu.Lock()
		addr := c.peerAddr
		c.mu.Unlock()
		if addr != nil {
			return addr
		}
	}
	return c.relayAddr
}

func (c *Client) partner() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partnerID, c.partnerID != ""
}

func (c *Client) showFrame(f video.Frame) {
	if c.deps.Display != nil {
		c.deps.Display.ShowFrame(f)
	}
}

func (c *Client) progress(outgoing bool) filetransfer.Progress {
	return func(name string, done, total int64) {
		c.emit(Event{Type: EventFileProgress, FileName: name, Done: done, FileSize: total, Outgoing: outgoing})
	}
}

func (c *Client) fileSent(name string, err error) {
	c.emit(Event{Type: EventFileSent, FileName: name, Outgoing: true, Success: err == nil, Err: err})
}

func (c *Client) fileReceived(res filetransfer.Result) {
	c.emit(Event{
		Type:     EventFileReceived,
		FileName: res.FileName,
		Path:     res.Path,
		FileSize: res.Size,
		Success:  res.Err == nil,
		Err:      res.Err,
	})
}
