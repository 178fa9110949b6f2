package pubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHubPublishesInRegistrationOrder(t *testing.T) {
	hub := NewHub[int]()

	var got []string
	hub.Subscribe(func(v int) { got = append(got, "a") })
	hub.Subscribe(func(v int) { got = append(got, "b") })
	hub.Subscribe(func(v int) { got = append(got, "c") })

	hub.Publish(1)
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub[string]()

	var calls int
	unsubscribe := hub.Subscribe(func(string) { calls++ })
	hub.Publish("first")
	unsubscribe()
	unsubscribe()
	hub.Publish("second")

	require.Equal(t, 1, calls)
	require.Equal(t, 0, hub.Len())
}

func TestHubUnsubscribeDuringPublish(t *testing.T) {
	hub := NewHub[int]()

	var (
		order       []string
		unsubSecond func()
	)
	hub.Subscribe(func(int) {
		order = append(order, "first")
		unsubSecond()
	})
	unsubSecond = hub.Subscribe(func(int) { order = append(order, "second") })
	hub.Subscribe(func(int) { order = append(order, "third") })

	require.NotPanics(t, func() { hub.Publish(1) })
	// The pass that started before the unsubscribe still reaches every listener.
	require.Equal(t, []string{"first", "second", "third"}, order)

	order = nil
	hub.Publish(2)
	require.Equal(t, []string{"first", "third"}, order)
}

func TestHubSelfUnsubscribe(t *testing.T) {
	hub := NewHub[int]()

	var (
		calls int
		unsub func()
	)
	unsub = hub.Subscribe(func(int) {
		calls++
		unsub()
	})
	var tail int
	hub.Subscribe(func(int) { tail++ })

	hub.Publish(1)
	hub.Publish(2)
	require.Equal(t, 1, calls)
	require.Equal(t, 2, tail)
}

func TestHubSubscribeNil(t *testing.T) {
	hub := NewHub[int]()
	unsub := hub.Subscribe(nil)
	require.NotNil(t, unsub)
	unsub()
	require.Equal(t, 0, hub.Len())
}
