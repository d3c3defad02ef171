package api

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	eventBuffer = 64
	pingPeriod  = 30 * time.Second
	writeWait   = 10 * time.Second
)

// Health check endpoint
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return SuccessResp(c, fiber.Map{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats := fiber.Map{
		"clients":  s.deps.Directory.Count(),
		"sessions": len(s.deps.Directory.Sessions()),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Relay != nil {
		stats["relay"] = s.deps.Relay.Stats()
	}
	return SuccessResp(c, stats)
}

func (s *Server) handleListClients(c *fiber.Ctx) error {
	clients := s.deps.Directory.Clients()
	return SuccessResp(c, clients, ApiResponseMeta{Total: len(clients)})
}

func (s *Server) handleGetClient(c *fiber.Ctx) error {
	info, ok := s.deps.Directory.ClientInfo(c.Params("id"))
	if !ok {
		return ErrorNotFoundResp(c, "Client not found")
	}
	return SuccessResp(c, info)
}

// handleKickClient closes a client's control connection. The broker then
// runs its normal disconnect path, notifying any partner.
func (s *Server) handleKickClient(c *fiber.Ctx) error {
	id := c.Params("id")
	if s.deps.Kicker == nil || !s.deps.Kicker.Kick(id) {
		return ErrorNotFoundResp(c, "Client not found")
	}

	s.logger.Info("Client kicked via API", "id", id)
	return SuccessResp(c, fiber.Map{"message": "Client disconnected"})
}

func (s *Server) handleActiveSessions(c *fiber.Ctx) error {
	sessions := s.deps.Directory.Sessions()
	return SuccessResp(c, sessions, ApiResponseMeta{Total: len(sessions)})
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	if s.deps.Storage == nil {
		return ErrorUnavailableResp(c, "Session history is disabled")
	}

	records, err := s.deps.Storage.ListSessions(listLimit(c))
	if err != nil {
		s.logger.Error("Failed to list sessions", "error", err)
		return ErrorInternalServerErrorResp(c, "Failed to list sessions")
	}
	return SuccessResp(c, records, ApiResponseMeta{Total: len(records)})
}

func (s *Server) handleListAttempts(c *fiber.Ctx) error {
	if s.deps.Storage == nil {
		return ErrorUnavailableResp(c, "Session history is disabled")
	}

	attempts, err := s.deps.Storage.ListAttempts(listLimit(c))
	if err != nil {
		s.logger.Error("Failed to list attempts", "error", err)
		return ErrorInternalServerErrorResp(c, "Failed to list attempts")
	}
	return SuccessResp(c, attempts, ApiResponseMeta{Total: len(attempts)})
}

// Generate TURN credentials for a desk user
func (s *Server) handleGenerateCredentials(c *fiber.Ctx) error {
	if s.deps.Turn == nil {
		return ErrorUnavailableResp(c, "TURN is disabled")
	}

	var req struct {
		UserID string `json:"user_id"`
		TTL    int    `json:"ttl,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return ErrorBadRequestResp(c, "Invalid request body")
	}
	if req.UserID == "" {
		return ErrorBadRequestResp(c, "user_id is required")
	}
	if req.TTL < 0 {
		return ErrorBadRequestResp(c, "ttl must not be negative")
	}

	creds, err := s.deps.Turn.Credentials(req.UserID, req.TTL)
	if err != nil {
		return ErrorBadRequestResp(c, err.Error())
	}
	return SuccessResp(c, creds)
}

// handleEventStream pushes broker events as JSON text frames until the
// peer goes away
func (s *Server) handleEventStream(conn *websocket.Conn) {
	events, cancel := s.deps.Events.Subscribe(eventBuffer)
	defer cancel()
	defer conn.Close()

	s.logger.Debug("Event stream opened", "remote", conn.RemoteAddr().String())

	// Reads only detect close; anything the peer sends is ignored
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			s.logger.Debug("Event stream closed", "remote", conn.RemoteAddr().String())
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func listLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
