// Package realtime is the websocket channel that groups connections by
// room code and pushes room events to them.
package realtime

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrBackpressure is returned by TrySend when a connection's send buffer is full.
var ErrBackpressure = errors.New("send buffer full")

// Sender is one realtime connection as seen by the hub.
type Sender interface {
	ID() string
	TrySend(frame []byte) error
}

// Hub is a publish/subscribe group of connections keyed by room code.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[string]Sender
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		groups: make(map[string]map[string]Sender),
	}
}

// Subscribe adds s to the room's group.
func (h *Hub) Subscribe(s Sender, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[roomCode]
	if !ok {
		group = make(map[string]Sender)
		h.groups[roomCode] = group
	}
	group[s.ID()] = s
	log.Debug().Str("module", "realtime.hub").Str("room", roomCode).Str("conn", s.ID()).Msg("subscribed")
}

// Unsubscribe removes s from the room's group. Empty groups are dropped.
func (h *Hub) Unsubscribe(s Sender, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[roomCode]
	if !ok {
		return
	}
	delete(group, s.ID())
	if len(group) == 0 {
		delete(h.groups, roomCode)
	}
	log.Debug().Str("module", "realtime.hub").Str("room", roomCode).Str("conn", s.ID()).Msg("unsubscribed")
}

// Subscribers returns the number of connections in the room's group.
func (h *Hub) Subscribers(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[roomCode])
}

// Broadcast pushes an event to every connection subscribed to the room.
// Connections with a full buffer miss the event.
func (h *Hub) Broadcast(roomCode, event string, payload any) {
	frame, err := encode(Envelope{Type: event, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "realtime.hub").Str("event", event).Msg("encode event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent, dropped := 0, 0
	for _, s := range h.groups[roomCode] {
		if err := s.TrySend(frame); err != nil {
			dropped++
			continue
		}
		sent++
	}
	log.Debug().
		Str("module", "realtime.hub").
		Str("room", roomCode).
		Str("event", event).
		Int("sent_to", sent).
		Int("dropped", dropped).
		Msg("broadcast")
}
