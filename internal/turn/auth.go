package turn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/turn/v4"
)

// maxCredentialLifetime caps how far in the future a REST credential may expire
const maxCredentialLifetime = 48 * time.Hour

// AuthHandler manages TURN authentication
type AuthHandler struct {
	mode   string
	logger *slog.Logger

	// REST auth, guarded for hot reload
	mu     sync.RWMutex
	secret string
	ttl    int

	staticUsers map[string]string // username -> password
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(mode, secret string, ttl int, staticUsers map[string]string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		mode:        mode,
		logger:      logger,
		secret:      secret,
		ttl:         ttl,
		staticUsers: staticUsers,
	}
}

// AuthenticateRequest is the pion/turn auth callback
func (h *AuthHandler) AuthenticateRequest(username, realm string, srcAddr net.Addr) ([]byte, bool) {
	switch h.mode {
	case "rest":
		return h.restAuth(username, realm, srcAddr)
	case "static":
		return h.staticAuth(username, realm, srcAddr)
	default:
		h.logger.Error("Unknown auth mode", "mode", h.mode)
		return nil, false
	}
}

// restAuth accepts coturn-style ephemeral credentials.
// Username: <kind>:<userID>:<unix_expiry>
// Password: base64(HMAC-SHA256(secret, username))
func (h *AuthHandler) restAuth(username, realm string, srcAddr net.Addr) ([]byte, bool) {
	kind, userID, expiry, err := ParseUsername(username)
	if err != nil {
		h.logger.Warn("REST auth failed", "username", username, "addr", srcAddr.String(), "error", err)
		return nil, false
	}

	now := time.Now()
	if !expiry.After(now) {
		h.logger.Warn("REST auth failed: credential expired", "username", username, "expired_at", expiry)
		return nil, false
	}
	if expiry.After(now.Add(maxCredentialLifetime)) {
		h.logger.Warn("REST auth failed: expiry too far in future", "username", username, "expiry", expiry)
		return nil, false
	}

	h.mu.RLock()
	secret := h.secret
	h.mu.RUnlock()

	if secret == "" {
		h.logger.Warn("REST auth failed: no secret configured", "username", username)
		return nil, false
	}

	h.logger.Debug("REST auth accepted", "kind", kind, "user", userID, "addr", srcAddr.String())
	return turn.GenerateAuthKey(username, realm, Password(secret, username)), true
}

func (h *AuthHandler) staticAuth(username, realm string, srcAddr net.Addr) ([]byte, bool) {
	password, exists := h.staticUsers[username]
	if !exists {
		h.logger.Warn("Static auth failed: user not found", "username", username, "addr", srcAddr.String())
		return nil, false
	}
	return turn.GenerateAuthKey(username, realm, password), true
}

// UpdateSecret swaps the REST secret and default TTL without a restart
func (h *AuthHandler) UpdateSecret(secret string, ttl int) {
	h.mu.Lock()
	h.secret = secret
	h.ttl = ttl
	h.mu.Unlock()

	h.logger.Info("TURN secret updated", "ttl", ttl)
}

// Secret returns the current REST secret and default TTL
func (h *AuthHandler) Secret() (string, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.secret, h.ttl
}

// Username builds a REST username
func Username(kind, userID string, expiry time.Time) string {
	return fmt.Sprintf("%s:%s:%d", kind, userID, expiry.Unix())
}

// Password derives the REST password for username
func Password(secret, username string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseUsername splits a REST username into its parts
func ParseUsername(username string) (kind, userID string, expiry time.Time, err error) {
	parts := strings.SplitN(username, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", time.Time{}, fmt.Errorf("invalid username format, expected kind:id:expiry")
	}

	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("invalid expiry timestamp: %w", err)
	}
	return parts[0], parts[1], time.Unix(ts, 0), nil
}
