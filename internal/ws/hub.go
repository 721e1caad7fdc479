package ws

import (
	"sync"
)

// conn is the subset of *websocket.Conn the hub needs; tests substitute an
// in-memory fake.
type conn interface {
	WriteJSON(v any) error
	Close() error
}

// Client is one authenticated realtime connection. The user identity is
// bound once, at registration, and never changes for the connection's
// lifetime.
type Client struct {
	UserID   int64
	Username string

	conn    conn
	writeMu sync.Mutex
}

// Send writes a JSON payload to the connection. Writes are serialized so
// room broadcasts and direct replies never interleave on the wire. A failed
// write closes the connection; the read loop notices and unregisters it.
func (c *Client) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}

// Relay fans payloads out to conversation rooms with the scoping the
// signaling layer needs. The Hub is the single-process implementation; the
// Redis fabric wraps it for multi-process deployments. Components receive a
// Relay by injection, never through package-level state.
type Relay interface {
	ToRoom(roomID int64, payload any)
	ToRoomExcept(roomID, exceptUserID int64, payload any)
	ToRoomUser(roomID, userID int64, payload any)
}

// Hub tracks active connections and their room memberships. Rooms are keyed
// by conversation id and exist only while at least one connection is joined;
// nothing about them is persisted.
type Hub struct {
	mu     sync.RWMutex
	byUser map[int64]map[*Client]struct{}
	rooms  map[int64]map[*Client]struct{}
	joined map[*Client]map[int64]struct{}
}

func NewHub() *Hub {
	return &Hub{
		byUser: make(map[int64]map[*Client]struct{}),
		rooms:  make(map[int64]map[*Client]struct{}),
		joined: make(map[*Client]map[int64]struct{}),
	}
}

var _ Relay = (*Hub)(nil)

// Register binds an authenticated identity to a new connection.
func (h *Hub) Register(userID int64, username string, c conn) *Client {
	client := &Client{
		UserID:   userID,
		Username: username,
		conn:     c,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*Client]struct{})
	}
	h.byUser[userID][client] = struct{}{}
	h.joined[client] = make(map[int64]struct{})
	return client
}

// Unregister removes the client from the hub and implicitly from every room
// it had joined. It returns the ids of those rooms so the caller can run
// per-room teardown (such as ending calls the departing user was party to).
func (h *Hub) Unregister(client *Client) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var roomIDs []int64
	for roomID := range h.joined[client] {
		roomIDs = append(roomIDs, roomID)
		if members, ok := h.rooms[roomID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	delete(h.joined, client)

	if conns, ok := h.byUser[client.UserID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.byUser, client.UserID)
		}
	}
	return roomIDs
}

// Join idempotently adds the client to a room.
func (h *Hub) Join(client *Client, roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	if h.joined[client] == nil {
		h.joined[client] = make(map[int64]struct{})
	}
	h.joined[client][roomID] = struct{}{}
}

// InRoom reports whether the client has joined the room.
func (h *Hub) InRoom(client *Client, roomID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[client][roomID]
	return ok
}

// RoomOccupied reports whether any connection is currently joined to the room.
func (h *Hub) RoomOccupied(roomID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID]) > 0
}

func (h *Hub) roomMembers(roomID int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		members = append(members, c)
	}
	return members
}

// ToRoom sends the payload to every connection joined to the room, the
// sender's own connections included.
func (h *Hub) ToRoom(roomID int64, payload any) {
	for _, c := range h.roomMembers(roomID) {
		_ = c.Send(payload)
	}
}

// ToRoomExcept sends the payload to every room member except connections
// bound to the given user.
func (h *Hub) ToRoomExcept(roomID, exceptUserID int64, payload any) {
	for _, c := range h.roomMembers(roomID) {
		if c.UserID == exceptUserID {
			continue
		}
		_ = c.Send(payload)
	}
}

// ToRoomUser sends the payload to the given user's connections within the
// room only.
func (h *Hub) ToRoomUser(roomID, userID int64, payload any) {
	for _, c := range h.roomMembers(roomID) {
		if c.UserID != userID {
			continue
		}
		_ = c.Send(payload)
	}
}

// BroadcastAll sends the payload to every registered connection, joined to a
// room or not. Used for presence announcements.
func (h *Hub) BroadcastAll(payload any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.joined))
	for c := range h.joined {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		_ = c.Send(payload)
	}
}
