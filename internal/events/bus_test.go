package events

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEventManager() (*Manager, *Bus) {
	log := zerolog.Nop()
	bus := NewBus(log)
	return NewManager(bus, log), bus
}

func TestBus_DeliversTypedEvent(t *testing.T) {
	manager, bus := setupEventManager()
	received := make(chan Event, 1)
	_ = bus.Subscribe(ListingValuated, func(event *Event) {
		received <- *event
	})

	manager.EmitTyped(ListingValuated, "listings", &ListingValuatedData{
		ListingID: 42,
		NewPrice:  "32.5",
	})

	select {
	case event := <-received:
		assert.Equal(t, ListingValuated, event.Type)
		assert.Equal(t, "listings", event.Module)
		assert.Equal(t, float64(42), event.Data["listing_id"])

		data, ok := event.GetTypedData().(*ListingValuatedData)
		require.True(t, ok)
		assert.Equal(t, "32.5", data.NewPrice)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_OnlyMatchingSubscribersReceive(t *testing.T) {
	manager, bus := setupEventManager()
	other := make(chan struct{}, 1)
	_ = bus.Subscribe(AlertMatched, func(*Event) { other <- struct{}{} })

	manager.Emit(SnipeScheduled, "snipes", nil)

	select {
	case <-other:
		t.Fatal("subscriber of another type received the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	_, bus := setupEventManager()
	id := bus.Subscribe(ErrorOccurred, func(*Event) {})
	_ = bus.Subscribe(ErrorOccurred, func(*Event) {})
	require.Equal(t, 2, bus.SubscriberCount(ErrorOccurred))

	bus.Unsubscribe(id)
	assert.Equal(t, 1, bus.SubscriberCount(ErrorOccurred))

	bus.Unsubscribe(id)
	assert.Equal(t, 1, bus.SubscriberCount(ErrorOccurred))
}

func TestBus_PanickingHandlerDoesNotAffectOthers(t *testing.T) {
	manager, bus := setupEventManager()
	ok := make(chan string, 1)
	_ = bus.Subscribe(ErrorOccurred, func(*Event) { panic("boom") })
	_ = bus.Subscribe(ErrorOccurred, func(e *Event) { ok <- e.Data["error"].(string) })

	manager.EmitError("test", errors.New("disk full"), nil)

	select {
	case msg := <-ok:
		assert.Equal(t, "disk full", msg)
	case <-time.After(time.Second):
		t.Fatal("healthy handler not called")
	}
}
