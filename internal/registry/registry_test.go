package registry

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	addr net.Addr
}

func (c *fakeConn) Send(*models.Packet) error { return nil }
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) RemoteAddr() net.Addr      { return c.addr }

func newFakeConn() *fakeConn {
	return &fakeConn{addr: &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 50000}}
}

// setupPair registers two users with control ports and returns the registry
func setupPair(t *testing.T) *Registry {
	reg := New()
	require.NoError(t, reg.Register("ctrl", "pc", newFakeConn()))
	require.NoError(t, reg.Register("target", "pt", newFakeConn()))
	require.True(t, reg.SetControlPort("target", 41000))
	return reg
}

func TestNew(t *testing.T) {
	reg := New()
	require.NotNil(t, reg)
	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.Sessions())
}

func TestRegistry_Register(t *testing.T) {
	reg := New()
	conn := newFakeConn()

	require.NoError(t, reg.Register("user-1", "secret", conn))
	assert.Equal(t, 1, reg.Count())

	c, exists := reg.Get("user-1")
	require.True(t, exists)
	assert.Equal(t, "user-1", c.ID)
	assert.Same(t, conn, c.Conn)
	assert.False(t, c.ConnectedAt.IsZero())
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := New()
	first := newFakeConn()
	second := newFakeConn()

	require.NoError(t, reg.Register("user-1", "secret", first))
	err := reg.Register("user-1", "other", second)
	assert.ErrorIs(t, err, ErrAlreadyOnline)

	// The rejected connection must not remove the original registration
	_, _, removed := reg.Remove("user-1", second)
	assert.False(t, removed)

	c, exists := reg.Get("user-1")
	require.True(t, exists)
	assert.Same(t, first, c.Conn)
}

func TestRegistry_Connect(t *testing.T) {
	t.Run("target offline", func(t *testing.T) {
		reg := setupPair(t)
		_, err := reg.Connect("ctrl", "ghost", "pt", "s1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("wrong password", func(t *testing.T) {
		reg := setupPair(t)
		_, err := reg.Connect("ctrl", "target", "nope", "s1")
		assert.ErrorIs(t, err, ErrWrongPassword)
	})

	t.Run("password checked before p2p readiness", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register("ctrl", "pc", newFakeConn()))
		require.NoError(t, reg.Register("target", "pt", newFakeConn()))

		_, err := reg.Connect("ctrl", "target", "nope", "s1")
		assert.ErrorIs(t, err, ErrWrongPassword)

		_, err = reg.Connect("ctrl", "target", "pt", "s1")
		assert.ErrorIs(t, err, ErrNotP2PReady)
	})

	t.Run("self connect", func(t *testing.T) {
		reg := setupPair(t)
		require.True(t, reg.SetControlPort("ctrl", 42000))
		_, err := reg.Connect("ctrl", "ctrl", "pc", "s1")
		assert.ErrorIs(t, err, ErrSelfPair)
	})

	t.Run("success pairs both sides", func(t *testing.T) {
		reg := setupPair(t)
		target, err := reg.Connect("ctrl", "target", "pt", "s1")
		require.NoError(t, err)
		assert.Equal(t, 41000, target.ControlPort)

		partner, ok := reg.Partner("ctrl")
		require.True(t, ok)
		assert.Equal(t, "target", partner.ID)

		partner, ok = reg.Partner("target")
		require.True(t, ok)
		assert.Equal(t, "ctrl", partner.ID)

		session, ok := reg.Session("s1")
		require.True(t, ok)
		assert.Equal(t, "ctrl", session.ControllerID)
		assert.Equal(t, "target", session.TargetID)
	})
}

func TestRegistry_PairingExclusive(t *testing.T) {
	reg := setupPair(t)
	require.NoError(t, reg.Register("other", "po", newFakeConn()))
	require.True(t, reg.SetControlPort("other", 43000))

	_, err := reg.Connect("ctrl", "target", "pt", "s1")
	require.NoError(t, err)

	// ctrl is busy: pairing ctrl with other must fail
	_, err = reg.Connect("ctrl", "other", "po", "s2")
	assert.ErrorIs(t, err, ErrAlreadyPaired)

	// target is busy: pairing other with target must fail
	_, err = reg.Connect("other", "target", "pt", "s3")
	assert.ErrorIs(t, err, ErrAlreadyPaired)

	partner, ok := reg.Partner("ctrl")
	require.True(t, ok)
	assert.Equal(t, "target", partner.ID)
	assert.Len(t, reg.Sessions(), 1)
}

func TestRegistry_PairingExclusive_Concurrent(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register("target", "pt", newFakeConn()))
	require.True(t, reg.SetControlPort("target", 41000))

	const controllers = 50
	for i := 0; i < controllers; i++ {
		require.NoError(t, reg.Register(fmt.Sprintf("ctrl-%d", i), "p", newFakeConn()))
	}

	var wg sync.WaitGroup
	var successes atomic.Int32
	start := make(chan struct{})

	for i := 0; i < controllers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if _, err := reg.Connect(fmt.Sprintf("ctrl-%d", i), "target", "pt", fmt.Sprintf("s-%d", i)); err == nil {
				successes.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrAlreadyPaired)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Len(t, reg.Sessions(), 1)
}

func TestRegistry_Remove(t *testing.T) {
	reg := setupPair(t)
	ctrl, _ := reg.Get("ctrl")

	_, err := reg.Connect("ctrl", "target", "pt", "s1")
	require.NoError(t, err)
	reg.UpdateUDPAddr("ctrl", &net.UDPAddr{IP: net.ParseIP("192.0.2.10"), Port: 6000})

	partnerID, sessionID, removed := reg.Remove("ctrl", ctrl.Conn)
	require.True(t, removed)
	assert.Equal(t, "target", partnerID)
	assert.Equal(t, "s1", sessionID)

	_, exists := reg.Get("ctrl")
	assert.False(t, exists)
	_, exists = reg.UDPAddr("ctrl")
	assert.False(t, exists)
	_, exists = reg.Session("s1")
	assert.False(t, exists)

	// The survivor is free to pair again
	_, ok := reg.Partner("target")
	assert.False(t, ok)
	require.NoError(t, reg.Register("next", "pn", newFakeConn()))
	_, err = reg.Connect("next", "target", "pt", "s2")
	assert.NoError(t, err)
}

func TestRegistry_Remove_NonExistent(t *testing.T) {
	reg := New()
	_, _, removed := reg.Remove("ghost", nil)
	assert.False(t, removed)
}

func TestRegistry_UDPAddr(t *testing.T) {
	reg := setupPair(t)
	addr := &net.UDPAddr{IP: net.ParseIP("198.51.100.7"), Port: 7000}

	assert.True(t, reg.UpdateUDPAddr("target", addr))
	assert.False(t, reg.UpdateUDPAddr("target", &net.UDPAddr{IP: net.ParseIP("198.51.100.7"), Port: 7000}))
	assert.True(t, reg.UpdateUDPAddr("target", &net.UDPAddr{IP: net.ParseIP("198.51.100.7"), Port: 7001}))

	got, ok := reg.UDPAddr("target")
	require.True(t, ok)
	assert.Equal(t, 7001, got.Port)

	// No partner yet
	_, ok = reg.PartnerUDPAddr("ctrl")
	assert.False(t, ok)

	_, err := reg.Connect("ctrl", "target", "pt", "s1")
	require.NoError(t, err)

	got, ok = reg.PartnerUDPAddr("ctrl")
	require.True(t, ok)
	assert.Equal(t, 7001, got.Port)
}

func TestRegistry_Clients(t *testing.T) {
	reg := setupPair(t)
	_, err := reg.Connect("ctrl", "target", "pt", "s1")
	require.NoError(t, err)

	clients := reg.Clients()
	require.Len(t, clients, 2)
	assert.Equal(t, "ctrl", clients[0].ID)
	assert.Equal(t, "target", clients[0].PartnerID)
	assert.Equal(t, "s1", clients[1].SessionID)
	assert.Equal(t, 41000, clients[1].ControlPort)
	assert.Equal(t, "192.0.2.10:50000", clients[1].RemoteAddr)

	info, ok := reg.ClientInfo("target")
	require.True(t, ok)
	assert.Equal(t, "ctrl", info.PartnerID)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", i)
			conn := newFakeConn()
			if err := reg.Register(id, "p", conn); err != nil {
				return
			}
			reg.SetControlPort(id, 40000+i)
			reg.UpdateUDPAddr(id, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000 + i})
			reg.Clients()
			reg.Remove(id, conn)
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 0, reg.Count())
}
