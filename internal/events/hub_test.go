package events

import (
	"testing"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()

	ch1, cancel1 := hub.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(4)
	defer cancel2()
	assert.Equal(t, 2, hub.Subscribers())

	hub.Publish(models.BrokerEvent{Type: models.EventLogin, UserID: "a"})

	for _, ch := range []<-chan models.BrokerEvent{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, models.EventLogin, ev.Type)
		assert.Equal(t, "a", ev.UserID)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestHub_FullSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(models.BrokerEvent{Type: models.EventLogin, UserID: "1"})
	hub.Publish(models.BrokerEvent{Type: models.EventLogin, UserID: "2"})

	ev := <-ch
	assert.Equal(t, "1", ev.UserID)
	assert.Equal(t, uint64(1), hub.Dropped())
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestHub_Cancel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)

	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())

	assert.NotPanics(t, func() {
		hub.Publish(models.BrokerEvent{Type: models.EventDisconnect})
	})
}
