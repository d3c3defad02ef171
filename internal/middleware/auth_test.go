package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/arqut/arqut-desk/internal/apikey"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t testing.TB) (*fiber.App, string) {
	key, hash, err := apikey.GenerateWithHash()
	require.NoError(t, err)

	app := fiber.New()
	app.Use(APIKeyAuth(apikey.NewVerifier(hash)))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})
	return app, key
}

func TestAPIKeyAuth_Success(t *testing.T) {
	app, key := setupTestApp(t)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "success", string(body))
}

func TestAPIKeyAuth_Rejected(t *testing.T) {
	app, key := setupTestApp(t)
	wrongKey, err := apikey.Generate()
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "Missing Authorization header"},
		{"missing Bearer prefix", key, "Invalid Authorization header format. Expected: Bearer <api_key>"},
		{"wrong scheme", "Basic " + key, "Invalid Authorization header format. Expected: Bearer <api_key>"},
		{"malformed key", "Bearer invalid_key_format", "Invalid API key format"},
		{"wrong key", "Bearer " + wrongKey, "Invalid API key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

			var body APIResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}

func TestAPIKeyAuth_QueryTokenOnlyForUpgrade(t *testing.T) {
	app, key := setupTestApp(t)

	// Plain request: query token is ignored
	req := httptest.NewRequest("GET", "/test?token="+key, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	// Websocket upgrade: query token is accepted
	req = httptest.NewRequest("GET", "/test?token="+key, nil)
	req.Header.Set("Upgrade", "websocket")
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAPIKeyAuth_MultipleRequests(t *testing.T) {
	app, key := setupTestApp(t)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+key)

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func BenchmarkAPIKeyAuth(b *testing.B) {
	app, key := setupTestApp(b)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+key)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, _ := app.Test(req)
		resp.Body.Close()
	}
}
