// Package rooms tracks which conversation rooms the session should be
// subscribed to and restores them after every reconnect.
package rooms

import (
	"context"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Commander dispatches room commands on the stream.
type Commander interface {
	Connected() bool
	Epoch() uint64
	JoinChat(ctx context.Context, conversationID string) transport.Dispatch
	LeaveChat(ctx context.Context, conversationID string) transport.Dispatch
}

// MembersChange is the payload of bus.RoomMembersChanged.
type MembersChange struct {
	ConversationID string
	UserID         string
	Joined         bool
}

// Manager owns the joined-room set. The set is the only record of what must
// be subscribed after a reconnect.
type Manager struct {
	cmd    Commander
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	joined map[string]uint64 // room -> epoch it was last joined in; 0 = pending
}

// New creates an empty manager.
func New(cmd Commander, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cmd:    cmd,
		bus:    b,
		logger: logger,
		joined: make(map[string]uint64),
	}
}

// Join adds the room. It is dispatched now if connected, otherwise on the next
// successful connect.
func (m *Manager) Join(ctx context.Context, conversationID string) transport.Dispatch {
	m.mu.Lock()
	defer m.mu.Unlock()

	epoch, ok := m.joined[conversationID]
	if !ok {
		m.joined[conversationID] = 0
	}
	if !m.cmd.Connected() {
		return transport.NotDispatched
	}
	current := m.cmd.Epoch()
	if ok && epoch == current {
		return transport.Dispatched
	}
	d := m.cmd.JoinChat(ctx, conversationID)
	if d == transport.Dispatched {
		m.joined[conversationID] = current
		m.logger.Debug("joined room", zap.String("conversation_id", conversationID), zap.Uint64("epoch", current))
	}
	return d
}

// Leave removes the room and dispatches a leave if connected.
func (m *Manager) Leave(ctx context.Context, conversationID string) transport.Dispatch {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.joined[conversationID]; !ok {
		return transport.NotDispatched
	}
	delete(m.joined, conversationID)
	if !m.cmd.Connected() {
		return transport.NotDispatched
	}
	return m.cmd.LeaveChat(ctx, conversationID)
}

// Replay dispatches one join per room for the connection identified by epoch.
// Rooms already joined in that epoch are skipped.
func (m *Manager) Replay(ctx context.Context, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.sortedLocked()
	var sent int
	for _, id := range ids {
		if m.joined[id] == epoch {
			continue
		}
		if m.cmd.JoinChat(ctx, id) == transport.Dispatched {
			m.joined[id] = epoch
			sent++
		} else {
			m.joined[id] = 0
		}
	}
	if len(ids) > 0 {
		m.logger.Info("replayed rooms", zap.Int("rooms", len(ids)), zap.Int("joined", sent), zap.Uint64("epoch", epoch))
	}
}

// Rooms returns the joined set, sorted.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}

// Has reports whether the room is in the joined set.
func (m *Manager) Has(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.joined[conversationID]
	return ok
}

// ApplyMembership publishes a participant joining or leaving a room.
func (m *Manager) ApplyMembership(conversationID, userID string, joined bool) {
	m.logger.Debug("room membership",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID),
		zap.Bool("joined", joined),
	)
	m.bus.Emit(bus.RoomMembersChanged, MembersChange{ConversationID: conversationID, UserID: userID, Joined: joined})
}

func (m *Manager) sortedLocked() []string {
	ids := make([]string, 0, len(m.joined))
	for id := range m.joined {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
