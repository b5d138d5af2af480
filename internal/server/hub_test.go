package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/scanrun/internal/run"
)

func TestHubFansOutInOrder(t *testing.T) {
	h := NewHub(8, nil)
	var _ run.Sink = h
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelA()
	defer cancelB()

	h.OnLine("one")
	h.OnProgress(10, "Running • 00:24")
	h.OnStatus(run.Status{State: run.StateDone})

	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, Event{Type: "line", Line: "one"}, ev)
		ev = <-ch
		assert.Equal(t, "progress", ev.Type)
		assert.Equal(t, 10, ev.Percent)
		ev = <-ch
		require.NotNil(t, ev.Status)
		assert.Equal(t, run.StateDone, ev.Status.State)
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub(1, nil)
	slow, cancel := h.Subscribe()

	h.OnLine("fits")
	h.OnLine("overflows")

	assert.Equal(t, 0, h.Subscribers())
	ev, ok := <-slow
	require.True(t, ok)
	assert.Equal(t, "fits", ev.Line)
	_, ok = <-slow
	assert.False(t, ok, "dropped subscriber's channel is closed")

	cancel() // after a drop
	cancel()
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub(0, nil)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())
	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, ok := <-ch
	assert.False(t, ok)

	// publishing with nobody listening is fine
	h.OnLine("nobody")
}
