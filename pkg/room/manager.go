package room

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/sirupsen/logrus"
)

// Creates the router a new room is scoped to.
type RouterFactory func(roomID string) (media.Router, error)

// Summary of a room.
type Info struct {
	ID      string   `json:"id"`
	Kind    Kind     `json:"kind"`
	Members []string `json:"members"`
}

// Manager keeps track of the rooms of the process.
type Manager struct {
	config    Config
	resolver  *codec.Resolver
	newRouter RouterFactory
	logger    *logrus.Entry

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewManager(config Config, resolver *codec.Resolver, newRouter RouterFactory, logger *logrus.Entry) *Manager {
	return &Manager{
		config:    config,
		resolver:  resolver,
		newRouter: newRouter,
		logger:    logger,
		rooms:     make(map[string]*Room),
	}
}

// GetOrCreate returns the room with the given ID, creating it with the given kind if it does not exist.
// The kind of an existing room is never changed.
func (m *Manager) GetOrCreate(id string, kind Kind) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getOrCreate(id, kind)
}

// Join the participant to the room, creating the room if needed. Both happen under the manager lock
// so that an ephemeral room can't be removed in between.
func (m *Manager) Join(roomID string, kind Kind, participantID string) (*Room, *Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, err := m.getOrCreate(roomID, kind)
	if err != nil {
		return nil, nil, err
	}

	return room, room.Join(participantID), nil
}

func (m *Manager) Get(id string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, found := m.rooms[id]
	return room, found
}

// List the rooms sorted by ID.
func (m *Manager) List() []Info {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, Info{ID: room.ID(), Kind: room.Kind(), Members: room.Members()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos
}

// Remove closes the room and forgets about it.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	room, found := m.rooms[id]
	delete(m.rooms, id)
	m.mu.Unlock()

	if found {
		room.Close()
	}
}

// Close every room.
func (m *Manager) Close() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, room := range rooms {
		room.Close()
	}
}

func (m *Manager) getOrCreate(id string, kind Kind) (*Room, error) {
	if room, found := m.rooms[id]; found {
		return room, nil
	}

	router, err := m.newRouter(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create router for room %s: %w", id, err)
	}

	room := New(id, kind, router, m.resolver, m.config, m.logger)
	if kind.Ephemeral() {
		room.setOnEmpty(m.removeIfEmpty)
	}

	m.rooms[id] = room
	room.logger.Info("room created")

	return room, nil
}

func (m *Manager) removeIfEmpty(room *Room) {
	m.mu.Lock()
	if m.rooms[room.ID()] != room || room.Len() != 0 {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, room.ID())
	m.mu.Unlock()

	room.logger.Info("last participant left, removing the room")
	room.Close()
}
