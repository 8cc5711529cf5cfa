package ws

import (
	"context"
	"log"
	"sync"

	"gathering-service/internal/models"
	"gathering-service/internal/observability"
)

const (
	wsKind        = "gathering"
	wsRoutingKey  = "ws_events.gatherings"
	sendQueueSize = 64
)

// Hub tracks gathering rooms and per-user channels. Publishing holds the hub
// lock while frames are queued, so every subscriber of a room observes that
// room's events in publish order.
type Hub struct {
	mu    sync.Mutex
	rooms map[int]map[*Client]struct{}
	users map[int]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[int]map[*Client]struct{}),
		users: make(map[int]map[*Client]struct{}),
	}
}

// Register attaches c to its user's channel.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[c.info.UserID]; !ok {
		h.users[c.info.UserID] = make(map[*Client]struct{})
	}
	h.users[c.info.UserID][c] = struct{}{}
}

// Unregister detaches c everywhere and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	for id := range c.rooms {
		if conns, ok := h.rooms[id]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.rooms, id)
			}
		}
	}
	c.rooms = nil
	if conns, ok := h.users[c.info.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.info.UserID)
		}
	}
	close(c.send)
}

// JoinRoom subscribes c to a gathering's room.
func (h *Hub) JoinRoom(c *Client, gatheringID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := h.rooms[gatheringID]; !ok {
		h.rooms[gatheringID] = make(map[*Client]struct{})
	}
	h.rooms[gatheringID][c] = struct{}{}
	c.rooms[gatheringID] = struct{}{}
}

// LeaveRoom unsubscribes c from a gathering's room.
func (h *Hub) LeaveRoom(c *Client, gatheringID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[gatheringID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, gatheringID)
		}
	}
	delete(c.rooms, gatheringID)
}

// RoomSize returns the number of subscribers of a room.
func (h *Hub) RoomSize(gatheringID int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[gatheringID])
}

// PublishRoom sends an event to every subscriber of the gathering's room.
func (h *Hub) PublishRoom(gatheringID int, event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	observability.AddWSFanout("room", event, len(h.rooms[gatheringID]))
	for c := range h.rooms[gatheringID] {
		h.enqueueLocked(c, data)
	}
}

// PublishUser sends an event to every connection of userID.
func (h *Hub) PublishUser(userID int, event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	observability.AddWSFanout("user", event, len(h.users[userID]))
	for c := range h.users[userID] {
		h.enqueueLocked(c, data)
	}
}

// reply sends a frame to a single connection.
func (h *Hub) reply(c *Client, event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(c, data)
}

// enqueueLocked never blocks: a client that cannot keep up is dropped and must
// refetch when it reconnects.
func (h *Hub) enqueueLocked(c *Client, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("websocket send queue full: conn_id=%s user_id=%d", c.info.ConnID, c.info.UserID)
		h.removeLocked(c)
		observability.IncWSDropped()
		go publishWSEvent(context.Background(), c.info, "ws_dropped", "send queue full")
	}
}

func encode(event string, payload any) ([]byte, bool) {
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		log.Printf("websocket frame encode failed: event=%s err=%v", event, err)
		return nil, false
	}
	data, err := frameJSON(frame)
	if err != nil {
		log.Printf("websocket frame encode failed: event=%s err=%v", event, err)
		return nil, false
	}
	return data, true
}

func publishWSEvent(ctx context.Context, info ConnInfo, event, reason string) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	envelope := observability.WSEvent{
		Kind:        wsKind,
		Event:       event,
		ConnID:      info.ConnID,
		UserID:      info.UserID,
		DeviceID:    info.DeviceID,
		IP:          info.IP,
		ConnectedAt: info.ConnectedAt,
		Reason:      reason,
	}.Envelope()
	if err := observability.PublishEvent(ctx, wsRoutingKey, envelope, headers); err != nil {
		log.Printf("ws event publish failed: event=%s conn_id=%s err=%v", event, info.ConnID, err)
	}
	observability.IncWSEvent(wsKind, event)
}
