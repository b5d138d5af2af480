package server

import (
	"log/slog"
	"sync"

	"github.com/loykin/scanrun/internal/run"
)

const DefaultHubBuffer = 256

// Event is one sink callback as sent to stream subscribers.
type Event struct {
	Type    string      `json:"type"` // line, status or progress
	Line    string      `json:"line,omitempty"`
	Status  *run.Status `json:"status,omitempty"`
	Percent int         `json:"percent,omitempty"`
	Label   string      `json:"label,omitempty"`
}

// Hub is a run.Sink that fans events out to stream subscribers. A
// subscriber whose buffer is full is dropped rather than blocking the run.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	buffer int
	log    *slog.Logger
}

func NewHub(buffer int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer, log: log}
}

// Subscribe registers a subscriber. The channel is closed when the
// subscriber is dropped or cancel is called; cancel is idempotent.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		h.removeLocked(ch)
		h.mu.Unlock()
	}
}

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) removeLocked(ch chan Event) {
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.removeLocked(ch)
			h.log.Warn("dropping slow stream subscriber", "buffer", h.buffer)
		}
	}
}

func (h *Hub) OnLine(text string) { h.publish(Event{Type: "line", Line: text}) }

func (h *Hub) OnStatus(st run.Status) { h.publish(Event{Type: "status", Status: &st}) }

func (h *Hub) OnProgress(percent int, label string) {
	h.publish(Event{Type: "progress", Percent: percent, Label: label})
}
