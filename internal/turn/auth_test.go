package turn

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pion/turn/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

var testAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}

func TestAuthHandler_RESTAuth(t *testing.T) {
	secret := "test-secret-2025"
	handler := NewAuthHandler("rest", secret, 86400, nil, testLogger())

	username := Username("desk", "100001", time.Now().Add(time.Hour))
	key, ok := handler.AuthenticateRequest(username, "desk.test", testAddr)

	require.True(t, ok)
	assert.Equal(t, turn.GenerateAuthKey(username, "desk.test", Password(secret, username)), key)
}

func TestAuthHandler_RESTAuth_Rejections(t *testing.T) {
	handler := NewAuthHandler("rest", "secret", 86400, nil, testLogger())

	tests := []struct {
		name     string
		username string
	}{
		{"expired", Username("desk", "100001", time.Now().Add(-time.Hour))},
		{"too far ahead", Username("desk", "100001", time.Now().Add(72*time.Hour))},
		{"missing parts", "desk:100001"},
		{"empty id", fmt.Sprintf("desk::%d", time.Now().Add(time.Hour).Unix())},
		{"bad timestamp", "desk:100001:soon"},
		{"plain name", "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := handler.AuthenticateRequest(tt.username, "desk.test", testAddr)
			assert.False(t, ok)
			assert.Nil(t, key)
		})
	}
}

func TestAuthHandler_RESTAuth_BoundaryExpiry(t *testing.T) {
	handler := NewAuthHandler("rest", "secret", 86400, nil, testLogger())

	tests := []struct {
		name     string
		expiry   time.Time
		shouldOk bool
	}{
		{"exactly now", time.Now(), false},
		{"2 seconds from now", time.Now().Add(2 * time.Second), true},
		{"47 hours", time.Now().Add(47 * time.Hour), true},
		{"48h 2s", time.Now().Add(48*time.Hour + 2*time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := handler.AuthenticateRequest(Username("desk", "peer", tt.expiry), "desk.test", testAddr)
			assert.Equal(t, tt.shouldOk, ok)
		})
	}
}

func TestAuthHandler_RESTAuth_NoSecret(t *testing.T) {
	handler := NewAuthHandler("rest", "", 86400, nil, testLogger())

	_, ok := handler.AuthenticateRequest(Username("desk", "peer", time.Now().Add(time.Hour)), "desk.test", testAddr)
	assert.False(t, ok)
}

func TestAuthHandler_StaticAuth(t *testing.T) {
	users := map[string]string{"alice": "wonderland", "bob": "builder"}
	handler := NewAuthHandler("static", "", 0, users, testLogger())

	for name, pw := range users {
		key, ok := handler.AuthenticateRequest(name, "desk.test", testAddr)
		require.True(t, ok, name)
		assert.Equal(t, turn.GenerateAuthKey(name, "desk.test", pw), key)
	}

	_, ok := handler.AuthenticateRequest("mallory", "desk.test", testAddr)
	assert.False(t, ok)
}

func TestAuthHandler_UnknownMode(t *testing.T) {
	handler := NewAuthHandler("oauth", "secret", 86400, nil, testLogger())

	_, ok := handler.AuthenticateRequest("user", "desk.test", testAddr)
	assert.False(t, ok)
}

func TestAuthHandler_UpdateSecret(t *testing.T) {
	handler := NewAuthHandler("rest", "old-secret", 86400, nil, testLogger())
	handler.UpdateSecret("new-secret", 43200)

	secret, ttl := handler.Secret()
	assert.Equal(t, "new-secret", secret)
	assert.Equal(t, 43200, ttl)

	username := Username("desk", "peer", time.Now().Add(time.Hour))
	key, ok := handler.AuthenticateRequest(username, "desk.test", testAddr)
	require.True(t, ok)
	assert.Equal(t, turn.GenerateAuthKey(username, "desk.test", Password("new-secret", username)), key)
}

func TestAuthHandler_ConcurrentAccess(t *testing.T) {
	handler := NewAuthHandler("rest", "secret", 86400, nil, testLogger())
	expiry := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			handler.AuthenticateRequest(Username("desk", fmt.Sprintf("peer%d", i), expiry), "desk.test", testAddr)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			handler.UpdateSecret(fmt.Sprintf("secret%d", i), 86400)
		}
	}()
	wg.Wait()
}

func TestUsernameRoundTrip(t *testing.T) {
	expiry := time.Unix(1700000000, 0)
	username := Username("desk", "100001", expiry)
	assert.Equal(t, "desk:100001:1700000000", username)

	kind, id, at, err := ParseUsername(username)
	require.NoError(t, err)
	assert.Equal(t, "desk", kind)
	assert.Equal(t, "100001", id)
	assert.True(t, expiry.Equal(at))

	_, err = base64.StdEncoding.DecodeString(Password("secret", username))
	assert.NoError(t, err)
}
