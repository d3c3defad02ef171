package api

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/arqut/arqut-desk/internal/apikey"
	"github.com/arqut/arqut-desk/internal/config"
	"github.com/arqut/arqut-desk/internal/middleware"
	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/arqut/arqut-desk/internal/relay"
	"github.com/arqut/arqut-desk/internal/storage"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Directory is the read side of the broker store
type Directory interface {
	Clients() []models.ClientInfo
	ClientInfo(id string) (models.ClientInfo, bool)
	Sessions() []models.SessionInfo
	Count() int
}

// Kicker disconnects an online client
type Kicker interface {
	Kick(id string) bool
}

// CredentialIssuer mints TURN credentials
type CredentialIssuer interface {
	Credentials(userID string, ttl int) (*models.TurnCredentials, error)
}

// EventSource streams broker events
type EventSource interface {
	Subscribe(buffer int) (<-chan models.BrokerEvent, func())
}

// RelayStats reports datagram relay counters
type RelayStats interface {
	Stats() relay.Stats
}

// Deps are the components the API reads from. Storage, Turn, Events and
// Relay may be nil when the matching feature is disabled.
type Deps struct {
	Directory Directory
	Kicker    Kicker
	Storage   storage.Storage
	Turn      CredentialIssuer
	Events    EventSource
	Relay     RelayStats
}

// Server represents the admin REST API server
type Server struct {
	app     *fiber.App
	cfg     *config.APIConfig
	deps    Deps
	started time.Time
	logger  *slog.Logger
}

// New creates a new API server
func New(cfg *config.APIConfig, deps Deps, log *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Arqut Desk Admin API",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} ARQUT-DESK [INFO] [API] ${status} ${method} ${path} ${latency}\n",
		TimeFormat: "2006/01/02 15:04:05",
	}))

	if len(cfg.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowMethods: "GET,POST,DELETE",
			AllowHeaders: "Origin,Content-Type,Accept,Authorization",
		}))
	}

	s := &Server{
		app:     app,
		cfg:     cfg,
		deps:    deps,
		started: time.Now(),
		logger:  log.With("component", "api"),
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	api := s.app.Group("/api/v1")

	// Public
	api.Get("/health", s.handleHealth)

	protected := api.Group("", middleware.APIKeyAuth(apikey.NewVerifier(s.cfg.APIKey.Hash)))
	{
		protected.Get("/stats", s.handleStats)

		protected.Get("/clients", s.handleListClients)
		protected.Get("/clients/:id", s.handleGetClient)
		protected.Delete("/clients/:id", s.handleKickClient)

		protected.Get("/sessions", s.handleListSessions)
		protected.Get("/sessions/active", s.handleActiveSessions)
		protected.Get("/attempts", s.handleListAttempts)

		protected.Post("/credentials", s.handleGenerateCredentials)

		if s.deps.Events != nil {
			protected.Get("/events/ws", requireUpgrade, websocket.New(s.handleEventStream))
		}
	}
}

func requireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// Start listens on the configured bind address and port
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
	s.logger.Info("Starting admin API", "addr", addr)
	return s.app.Listen(addr)
}

// Serve runs the API on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting admin API", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Stop gracefully stops the API server
func (s *Server) Stop() error {
	s.logger.Info("Stopping admin API")
	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}
	return nil
}

// App returns the underlying Fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// errorHandler is the global error handler
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(&ApiResponse{
		Success: false,
		Error: &ApiError{
			Code:    code,
			Message: message,
		},
	})
}
