package middleware

import (
	"strings"

	"github.com/arqut/arqut-desk/internal/apikey"
	"github.com/gofiber/fiber/v2"
)

// APIError represents a structured API error (for middleware use)
type APIError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// APIResponse is the standard API response structure (for middleware use)
type APIResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error,omitempty"`
}

// ErrorUnauthorizedResp returns a 401 Unauthorized error response
func ErrorUnauthorizedResp(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(&APIResponse{
		Success: false,
		Error: &APIError{
			Code:    fiber.StatusUnauthorized,
			Message: message,
		},
	})
}

// APIKeyAuth validates the admin API key from the Authorization header.
// Websocket upgrades may pass it as the token query parameter instead,
// since browsers cannot set headers on them.
func APIKeyAuth(v *apikey.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, msg := bearerKey(c)
		if key == "" {
			return ErrorUnauthorizedResp(c, msg)
		}

		if !apikey.ValidateFormat(key) {
			return ErrorUnauthorizedResp(c, "Invalid API key format")
		}
		if !v.Verify(key) {
			return ErrorUnauthorizedResp(c, "Invalid API key")
		}

		return c.Next()
	}
}

func bearerKey(c *fiber.Ctx) (string, string) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		if isUpgrade(c) {
			if token := c.Query("token"); token != "" {
				return token, ""
			}
		}
		return "", "Missing Authorization header"
	}

	scheme, key, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || key == "" {
		return "", "Invalid Authorization header format. Expected: Bearer <api_key>"
	}
	return key, ""
}

func isUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket")
}
