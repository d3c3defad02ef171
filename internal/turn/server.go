package turn

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/arqut/arqut-desk/internal/config"
	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/pion/turn/v4"
)

// ErrRESTDisabled is returned when credentials are requested in static mode
var ErrRESTDisabled = errors.New("turn REST credentials are not enabled")

// Server is the optional embedded STUN/TURN service. Clients behind NAT use
// it to gather candidates for the direct video and P2P tunnel paths.
type Server struct {
	config      *config.TurnConfig
	logger      *slog.Logger
	authHandler *AuthHandler
	turnServer  *turn.Server
	udpConn     net.PacketConn
	tcpListener net.Listener
}

// New creates a new TURN server instance
func New(cfg *config.TurnConfig, logger *slog.Logger) *Server {
	staticUsers := make(map[string]string)
	for _, user := range cfg.Auth.StaticUsers {
		staticUsers[user.Username] = user.Password
	}

	return &Server{
		config: cfg,
		logger: logger.With("component", "turn"),
		authHandler: NewAuthHandler(
			cfg.Auth.Mode,
			cfg.Auth.Secret,
			cfg.Auth.TTLSeconds,
			staticUsers,
			logger.With("component", "turn-auth"),
		),
	}
}

// Start opens the UDP and TCP listeners on the configured port
func (s *Server) Start() error {
	relayIP := net.ParseIP(s.config.PublicIP)
	if relayIP == nil {
		relayIP = net.ParseIP("127.0.0.1")
	}
	relayGen := &turn.RelayAddressGeneratorStatic{
		RelayAddress: relayIP,
		Address:      "0.0.0.0",
	}

	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(s.config.Port))

	udpConn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return fmt.Errorf("creating UDP listener: %w", err)
	}

	tcpListener, err := net.Listen("tcp4", addr)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("creating TCP listener: %w", err)
	}

	turnServer, err := turn.NewServer(turn.ServerConfig{
		Realm:       s.config.Realm,
		AuthHandler: s.authHandler.AuthenticateRequest,
		PacketConnConfigs: []turn.PacketConnConfig{{
			PacketConn:            udpConn,
			RelayAddressGenerator: relayGen,
		}},
		ListenerConfigs: []turn.ListenerConfig{{
			Listener:              tcpListener,
			RelayAddressGenerator: relayGen,
		}},
	})
	if err != nil {
		udpConn.Close()
		tcpListener.Close()
		return fmt.Errorf("creating TURN server: %w", err)
	}

	s.udpConn = udpConn
	s.tcpListener = tcpListener
	s.turnServer = turnServer

	s.logger.Info("TURN server started",
		"udp", udpConn.LocalAddr().String(),
		"tcp", tcpListener.Addr().String(),
		"realm", s.config.Realm,
		"auth", s.config.Auth.Mode,
	)
	return nil
}

// UDPAddr returns the bound UDP address, nil before Start
func (s *Server) UDPAddr() net.Addr {
	if s.udpConn == nil {
		return nil
	}
	return s.udpConn.LocalAddr()
}

// Stop closes the TURN server and its listeners
func (s *Server) Stop() error {
	if s.turnServer == nil {
		return nil
	}
	s.logger.Info("Stopping TURN server")

	if err := s.turnServer.Close(); err != nil {
		s.logger.Error("Error closing TURN server", "error", err)
		return err
	}
	return nil
}

// UpdateSecret hot-swaps the REST secret and credential TTL
func (s *Server) UpdateSecret(secret string, ttl int) {
	s.authHandler.UpdateSecret(secret, ttl)
}

// Credentials mints REST credentials for a desk user. ttl <= 0 uses the
// configured lifetime.
func (s *Server) Credentials(userID string, ttl int) (*models.TurnCredentials, error) {
	if s.config.Auth.Mode != "rest" {
		return nil, ErrRESTDisabled
	}

	secret, defTTL := s.authHandler.Secret()
	if ttl <= 0 {
		ttl = defTTL
	}
	if time.Duration(ttl)*time.Second > maxCredentialLifetime {
		return nil, fmt.Errorf("ttl exceeds %s", maxCredentialLifetime)
	}

	expiry := time.Now().Add(time.Duration(ttl) * time.Second)
	username := Username("desk", userID, expiry)
	port := s.config.Port
	if a, ok := s.UDPAddr().(*net.UDPAddr); ok && port == 0 {
		port = a.Port
	}

	host := net.JoinHostPort(s.config.PublicIP, strconv.Itoa(port))
	return &models.TurnCredentials{
		Username: username,
		Password: Password(secret, username),
		TTL:      ttl,
		Expires:  expiry.UTC().Format(time.RFC3339),
		URLs: []string{
			"stun:" + host,
			"turn:" + host + "?transport=udp",
			"turn:" + host + "?transport=tcp",
		},
	}, nil
}
