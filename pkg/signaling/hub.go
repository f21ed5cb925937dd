package signaling

import (
	"sync"
)

// Connections grouped by the room they joined, used to notify the other members of a room.
type hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Connection]struct{}
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[*Connection]struct{})}
}

func (h *hub) add(roomID string, connection *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, found := h.rooms[roomID]
	if !found {
		members = make(map[*Connection]struct{})
		h.rooms[roomID] = members
	}

	members[connection] = struct{}{}
}

func (h *hub) remove(roomID string, connection *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[roomID]
	delete(members, connection)

	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// Sends the response to every connection in the room except the given one.
func (h *hub) broadcast(roomID string, except *Connection, response Response) {
	h.mu.Lock()
	recipients := make([]*Connection, 0, len(h.rooms[roomID]))
	for connection := range h.rooms[roomID] {
		if connection != except {
			recipients = append(recipients, connection)
		}
	}
	h.mu.Unlock()

	for _, connection := range recipients {
		connection.send(response)
	}
}
