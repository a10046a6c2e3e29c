// Package realtime carries room events over websocket connections.
package realtime

import (
	"slices"
	"sync"

	"github.com/bananalabs-oss/retro/internal/retro"
	"github.com/rs/zerolog"
)

// Hub tracks live connections and the room each one listens to. It
// implements retro.Router.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]struct{}
	roomOf  map[string]string
	log     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
		roomOf:  make(map[string]string),
		log:     logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID)
	delete(h.clients, connID)
}

// Join moves connID into roomID's multicast group.
func (h *Hub) Join(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[connID]; !ok {
		return
	}
	h.leaveLocked(connID)

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	h.roomOf[connID] = roomID
}

func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID)
}

func (h *Hub) leaveLocked(connID string) {
	roomID, ok := h.roomOf[connID]
	if !ok {
		return
	}
	delete(h.roomOf, connID)

	members := h.rooms[roomID]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// Broadcast queues ev for every connection in roomID except the listed ones.
func (h *Hub) Broadcast(roomID string, ev retro.Event, except ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID := range h.rooms[roomID] {
		if slices.Contains(except, connID) {
			continue
		}
		if c, ok := h.clients[connID]; ok {
			h.deliver(c, ev)
		}
	}
}

// Send queues ev for a single connection. Unknown connections are ignored.
func (h *Hub) Send(connID string, ev retro.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if c, ok := h.clients[connID]; ok {
		h.deliver(c, ev)
	}
}

func (h *Hub) deliver(c *Client, ev retro.Event) {
	if !c.enqueue(ev) {
		h.log.Warn().Str("conn", c.id).Str("event", ev.Name).Msg("dropping event for closed or slow connection")
	}
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) roomMembers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
