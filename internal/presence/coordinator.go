// Package presence tracks who is online and who is typing, including the
// local user's own typing indicator and its automatic expiry.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// DefaultTypingTimeout is how long the local typing indicator stays on
// without another StartTyping call.
const DefaultTypingTimeout = 3 * time.Second

// Commander dispatches typing commands on the stream.
type Commander interface {
	StartTyping(ctx context.Context, conversationID string) transport.Dispatch
	StopTyping(ctx context.Context, conversationID string) transport.Dispatch
}

// TypingChange is the payload of bus.TypingChanged. Local is set when the
// change concerns the local user's indicator.
type TypingChange struct {
	ConversationID string
	UserIDs        []string
	Local          bool
	Typing         bool
}

// OnlineChange is the payload of bus.PresenceChanged.
type OnlineChange struct {
	UserID string
	Online bool
}

type localTyping struct {
	timer *time.Timer
	gen   uint64
}

// Coordinator is the Presence & Typing Coordinator of a session.
type Coordinator struct {
	cmd     Commander
	timeout time.Duration
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	gen    uint64
	local  map[string]*localTyping
	remote map[string][]string
	online map[string]bool
}

// New creates a coordinator. A non-positive timeout uses DefaultTypingTimeout.
func New(cmd Commander, timeout time.Duration, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cmd:     cmd,
		timeout: timeout,
		bus:     b,
		logger:  logger,
		local:   make(map[string]*localTyping),
		remote:  make(map[string][]string),
		online:  make(map[string]bool),
	}
}

// StartTyping marks the local user as typing. typing_start is dispatched on
// the Idle to Typing edge; every call re-arms the expiry timer.
func (c *Coordinator) StartTyping(ctx context.Context, conversationID string) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	st, typing := c.local[conversationID]
	if typing {
		st.timer.Stop()
		st.gen = gen
	} else {
		st = &localTyping{gen: gen}
		c.local[conversationID] = st
	}
	st.timer = time.AfterFunc(c.timeout, func() { c.expire(conversationID, gen) })
	c.mu.Unlock()

	if typing {
		return
	}
	d := c.cmd.StartTyping(ctx, conversationID)
	c.logger.Debug("typing started", zap.String("conversation_id", conversationID), zap.Stringer("dispatch", d))
	c.bus.Emit(bus.TypingChanged, TypingChange{ConversationID: conversationID, Local: true, Typing: true})
}

// StopTyping returns the local indicator to Idle and dispatches typing_stop.
// It is a no-op when already Idle.
func (c *Coordinator) StopTyping(ctx context.Context, conversationID string) {
	c.mu.Lock()
	st, ok := c.local[conversationID]
	if ok {
		st.timer.Stop()
		delete(c.local, conversationID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.stopped(ctx, conversationID)
}

func (c *Coordinator) expire(conversationID string, gen uint64) {
	c.mu.Lock()
	st, ok := c.local[conversationID]
	if !ok || st.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.local, conversationID)
	c.mu.Unlock()

	c.logger.Debug("typing expired", zap.String("conversation_id", conversationID))
	c.stopped(context.Background(), conversationID)
}

func (c *Coordinator) stopped(ctx context.Context, conversationID string) {
	c.cmd.StopTyping(ctx, conversationID)
	c.bus.Emit(bus.TypingChanged, TypingChange{ConversationID: conversationID, Local: true, Typing: false})
}

// IsTyping reports whether the local user is typing in the conversation.
func (c *Coordinator) IsTyping(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.local[conversationID]
	return ok
}

// ApplyTyping replaces the conversation's typing set with userIDs.
func (c *Coordinator) ApplyTyping(conversationID string, userIDs []string) {
	set := slices.Clone(userIDs)
	slices.Sort(set)
	set = slices.Compact(set)

	c.mu.Lock()
	if len(set) == 0 {
		delete(c.remote, conversationID)
	} else {
		c.remote[conversationID] = set
	}
	c.mu.Unlock()

	c.bus.Emit(bus.TypingChanged, TypingChange{ConversationID: conversationID, UserIDs: slices.Clone(set), Typing: len(set) > 0})
}

// Typing returns who the server reports as typing in the conversation.
func (c *Coordinator) Typing(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.remote[conversationID])
}

// ApplyOnline records a global presence change.
func (c *Coordinator) ApplyOnline(userID string, online bool) {
	c.mu.Lock()
	was := c.online[userID]
	if online {
		c.online[userID] = true
	} else {
		delete(c.online, userID)
	}
	c.mu.Unlock()

	if was != online {
		c.bus.Emit(bus.PresenceChanged, OnlineChange{UserID: userID, Online: online})
	}
}

// IsOnline reports the last known presence of userID.
func (c *Coordinator) IsOnline(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[userID]
}

// Online returns the online users, sorted.
func (c *Coordinator) Online() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.online))
	for id := range c.online {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// TypingSnapshot returns every non-empty remote typing set.
func (c *Coordinator) TypingSnapshot() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]string, len(c.remote))
	for id, users := range c.remote {
		out[id] = slices.Clone(users)
	}
	return out
}

// Close disarms every local typing timer without dispatching.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, st := range c.local {
		st.timer.Stop()
		delete(c.local, id)
	}
}
