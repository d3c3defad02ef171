package registry

import (
	"crypto/subtle"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
)

var (
	ErrAlreadyOnline = errors.New("user id is already online")
	ErrNotFound      = errors.New("user is not online")
	ErrWrongPassword = errors.New("wrong password")
	ErrNotP2PReady   = errors.New("target is not P2P-ready")
	ErrAlreadyPaired = errors.New("already in a session")
	ErrSelfPair      = errors.New("cannot connect to yourself")
)

// Conn is the control-plane handle of a registered client
type Conn interface {
	Send(p *models.Packet) error
	Close() error
	RemoteAddr() net.Addr
}

// Client is a snapshot of one registration
type Client struct {
	ID          string
	Conn        Conn
	ControlPort int
	PartnerID   string
	SessionID   string
	ConnectedAt time.Time

	password string
}

// Registry is the broker's store of online clients, pairings and datagram
// addresses. All methods are safe for concurrent use; every check-and-set
// happens under a single lock.
type Registry struct {
	clients  map[string]*Client
	udpAddrs map[string]*net.UDPAddr
	sessions map[string]*models.SessionInfo
	mu       sync.RWMutex
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		clients:  make(map[string]*Client),
		udpAddrs: make(map[string]*net.UDPAddr),
		sessions: make(map[string]*models.SessionInfo),
	}
}

// Register creates a registration. An id that is already online is rejected
// and the existing registration is left untouched.
func (r *Registry) Register(id, password string, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[id]; exists {
		return ErrAlreadyOnline
	}

	r.clients[id] = &Client{
		ID:          id,
		Conn:        conn,
		ConnectedAt: time.Now(),
		password:    password,
	}
	return nil
}

// Get returns a snapshot of a registration
func (r *Registry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[id]
	if !exists {
		return Client{}, false
	}
	return *c, true
}

// Remove deletes the registration owned by conn and unpairs it. It returns
// the former partner id and session id, if any. A conn that does not own the
// registration (for example a rejected duplicate login) removes nothing.
func (r *Registry) Remove(id string, conn Conn) (partnerID, sessionID string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[id]
	if !exists || (conn != nil && c.Conn != conn) {
		return "", "", false
	}

	partnerID, sessionID = r.unpairLocked(c)
	delete(r.clients, id)
	delete(r.udpAddrs, id)

	return partnerID, sessionID, true
}

// SetControlPort records the advertised P2P control port
func (r *Registry) SetControlPort(id string, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[id]
	if !exists {
		return false
	}
	c.ControlPort = port
	return true
}

// UpdateUDPAddr records the last-seen datagram address of id and reports
// whether it changed
func (r *Registry) UpdateUDPAddr(id string, addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.udpAddrs[id]; exists && old.IP.Equal(addr.IP) && old.Port == addr.Port {
		return false
	}
	r.udpAddrs[id] = addr
	return true
}

// UDPAddr returns the last-seen datagram address of id
func (r *Registry) UDPAddr(id string) (*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, exists := r.udpAddrs[id]
	return addr, exists
}

// PartnerUDPAddr resolves the datagram address of id's current partner
func (r *Registry) PartnerUDPAddr(id string) (*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[id]
	if !exists || c.PartnerID == "" {
		return nil, false
	}
	addr, exists := r.udpAddrs[c.PartnerID]
	return addr, exists
}

// Connect validates a connect-request and pairs controller with target in one
// step. Checks run in order: target online, password, P2P readiness, then
// exclusive pairing of both sides.
func (r *Registry) Connect(controllerID, targetID, password, sessionID string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, exists := r.clients[targetID]
	if !exists {
		return Client{}, ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(target.password), []byte(password)) != 1 {
		return Client{}, ErrWrongPassword
	}
	if target.ControlPort <= 0 {
		return Client{}, ErrNotP2PReady
	}
	if err := r.pairLocked(controllerID, targetID, sessionID); err != nil {
		return Client{}, err
	}
	return *target, nil
}

func (r *Registry) pairLocked(controllerID, targetID, sessionID string) error {
	if controllerID == targetID {
		return ErrSelfPair
	}
	controller, exists := r.clients[controllerID]
	if !exists {
		return ErrNotFound
	}
	target, exists := r.clients[targetID]
	if !exists {
		return ErrNotFound
	}
	if controller.PartnerID != "" || target.PartnerID != "" {
		return ErrAlreadyPaired
	}

	controller.PartnerID, controller.SessionID = targetID, sessionID
	target.PartnerID, target.SessionID = controllerID, sessionID
	r.sessions[sessionID] = &models.SessionInfo{
		ID:           sessionID,
		ControllerID: controllerID,
		TargetID:     targetID,
		StartedAt:    time.Now(),
	}
	return nil
}

func (r *Registry) unpairLocked(c *Client) (partnerID, sessionID string) {
	partnerID, sessionID = c.PartnerID, c.SessionID
	if partnerID == "" {
		return "", ""
	}
	if partner, exists := r.clients[partnerID]; exists && partner.PartnerID == c.ID {
		partner.PartnerID, partner.SessionID = "", ""
	}
	c.PartnerID, c.SessionID = "", ""
	delete(r.sessions, sessionID)
	return partnerID, sessionID
}

// Partner returns the current partner of id and its connection
func (r *Registry) Partner(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[id]
	if !exists || c.PartnerID == "" {
		return Client{}, false
	}
	partner, exists := r.clients[c.PartnerID]
	if !exists {
		return Client{}, false
	}
	return *partner, true
}

// Session returns a live session by id
func (r *Registry) Session(sessionID string) (models.SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return models.SessionInfo{}, false
	}
	return *s, true
}

// Sessions returns all live sessions ordered by start time
func (r *Registry) Sessions() []models.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]models.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, *s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions
}

// Clients returns the admin view of every registration ordered by id
func (r *Registry) Clients() []models.ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]models.ClientInfo, 0, len(r.clients))
	for id, c := range r.clients {
		clients = append(clients, r.infoLocked(id, c))
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ID < clients[j].ID
	})
	return clients
}

// ClientInfo returns the admin view of one registration
func (r *Registry) ClientInfo(id string) (models.ClientInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[id]
	if !exists {
		return models.ClientInfo{}, false
	}
	return r.infoLocked(id, c), true
}

func (r *Registry) infoLocked(id string, c *Client) models.ClientInfo {
	info := models.ClientInfo{
		ID:          id,
		ControlPort: c.ControlPort,
		PartnerID:   c.PartnerID,
		SessionID:   c.SessionID,
		ConnectedAt: c.ConnectedAt,
	}
	if c.Conn != nil && c.Conn.RemoteAddr() != nil {
		info.RemoteAddr = c.Conn.RemoteAddr().String()
	}
	if addr, exists := r.udpAddrs[id]; exists {
		info.UDPAddr = addr.String()
	}
	return info
}

// Count returns the number of online clients
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}
