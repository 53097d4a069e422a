// Package conversations maintains the conversation list: summaries ordered by
// recency, unread counters and the folding of live messages into them.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// previewLen bounds the last-message preview, in runes.
const previewLen = 80

// Backend is the REST surface the list needs.
type Backend interface {
	ListChats(ctx context.Context) ([]api.Chat, error)
	CreateOrGetChat(ctx context.Context, req api.CreateChatRequest) (*api.CreatedChat, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// ReadDispatcher sends the streamed read acknowledgment.
type ReadDispatcher interface {
	MarkRead(ctx context.Context, conversationID string) transport.Dispatch
}

// Reason explains where a list came from when it is not fresh.
type Reason string

const (
	ReasonFresh         Reason = ""
	ReasonCached        Reason = "cached"
	ReasonFallback      Reason = "fallback"
	ReasonNoAccountLink Reason = "no_account_link"
)

// ListResult is the outcome of Refresh. Err holds the fetch failure when the
// list was degraded.
type ListResult struct {
	Conversations []store.Conversation
	Reason        Reason
	Err           error
}

// Manager is the Conversation List Manager of a session.
type Manager struct {
	db       *store.DB
	backend  Backend
	stream   ReadDispatcher
	actorID  string
	fallback []store.Conversation
	bus      *bus.Bus
	logger   *zap.Logger

	mu sync.Mutex
}

// New creates a manager. fallback is served when the backend is unreachable
// and nothing is cached.
func New(db *store.DB, backend Backend, stream ReadDispatcher, actorID string, fallback []store.Conversation, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:       db,
		backend:  backend,
		stream:   stream,
		actorID:  actorID,
		fallback: fallback,
		bus:      b,
		logger:   logger,
	}
}

// Refresh fetches the list from the backend. Failures degrade rather than
// fail: to the cached list, then to the configured fallback. A missing
// account link yields an empty list.
func (m *Manager) Refresh(ctx context.Context) (ListResult, error) {
	chats, err := m.backend.ListChats(ctx)
	if err != nil {
		return m.degrade(err)
	}

	m.mu.Lock()
	for _, chat := range chats {
		c := m.toConversation(chat)
		if err := m.db.UpsertConversation(&c); err != nil {
			m.mu.Unlock()
			return ListResult{}, fmt.Errorf("store conversation %s: %w", c.ID, err)
		}
	}
	list, err := m.db.ListConversations()
	m.mu.Unlock()
	if err != nil {
		return ListResult{}, err
	}

	m.logger.Info("conversations loaded", zap.Int("count", len(list)))
	m.bus.Emit(bus.ConversationsLoaded, ListResult{Conversations: list})
	return ListResult{Conversations: list}, nil
}

func (m *Manager) degrade(cause error) (ListResult, error) {
	if errors.Is(cause, chaterr.ErrNoAccountLink) {
		m.logger.Warn("no linked account, conversation list is empty")
		res := ListResult{Reason: ReasonNoAccountLink, Err: cause}
		m.bus.Emit(bus.ConversationsLoaded, res)
		return res, nil
	}

	cached, err := m.List()
	if err != nil {
		return ListResult{}, err
	}
	res := ListResult{Conversations: cached, Reason: ReasonCached, Err: cause}
	if len(cached) == 0 {
		res.Conversations = append([]store.Conversation(nil), m.fallback...)
		res.Reason = ReasonFallback
	}
	m.logger.Warn("conversation list degraded", zap.String("reason", string(res.Reason)), zap.Error(cause))
	m.bus.Emit(bus.ConversationsLoaded, res)
	return res, nil
}

// List returns the known conversations, most recent first.
func (m *Manager) List() ([]store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.ListConversations()
}

// Get returns one conversation, or nil.
func (m *Manager) Get(conversationID string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.GetConversation(conversationID)
}

// TotalUnread sums unread counters across the list.
func (m *Manager) TotalUnread() (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.TotalUnread()
}

// ApplyIncomingMessage folds a live message into its conversation. Messages
// from the local user never raise the unread counter, and a server id already
// folded in is not counted again. Messages for conversations not in the list
// are dropped.
func (m *Manager) ApplyIncomingMessage(msg protocol.Message) (bool, error) {
	return m.ApplyMessage(msg.ToStoreMessage())
}

// ApplyMessage folds a stored message into its conversation summary.
func (m *Manager) ApplyMessage(msg *store.Message) (bool, error) {
	conv := msg.ConversationID
	var inc uint
	if msg.SenderID != m.actorID {
		inc = 1
	}

	m.mu.Lock()
	var (
		found   bool
		applied = true
		err     error
	)
	if msg.ID != "" {
		found, applied, err = m.db.ApplyMessageOnce(conv, msg.ID, Preview(msg.Content), msg.CreatedAt, inc)
	} else {
		found, err = m.db.ApplyMessage(conv, Preview(msg.Content), msg.CreatedAt, inc)
	}
	m.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("apply message to %s: %w", conv, err)
	}
	if !found {
		m.logger.Debug("dropping message for unknown conversation", zap.String("conversation_id", conv))
		return false, nil
	}
	if !applied {
		m.logger.Debug("message already applied", zap.String("conversation_id", conv), zap.String("msg_id", msg.ID))
		return true, nil
	}
	m.bus.Emit(bus.ConversationUpdated, conv)
	return true, nil
}

// CreateOrGet returns the conversation with counterpartID, creating it on the
// backend if needed. The local row is only inserted when absent.
func (m *Manager) CreateOrGet(ctx context.Context, counterpartID, displayName, role string) (*store.Conversation, bool, error) {
	res, err := m.backend.CreateOrGetChat(ctx, api.CreateChatRequest{
		ParticipantID:   counterpartID,
		ParticipantName: displayName,
		ParticipantRole: role,
	})
	if err != nil {
		return nil, false, err
	}

	c := m.toConversation(res.Chat)
	if c.CounterpartID == "" {
		c.CounterpartID = counterpartID
	}
	if c.CounterpartRole == "" && role != "" {
		c.CounterpartRole = role
		c.Avatar = Avatar(role)
	}
	if p, ok := res.Chat.Counterpart(m.actorID); displayName != "" && (!ok || p.Name == "") {
		c.DisplayName = displayName
	}

	m.mu.Lock()
	inserted, err := m.db.InsertConversationIfAbsent(&c)
	var stored *store.Conversation
	if err == nil {
		stored, err = m.db.GetConversation(c.ID)
	}
	m.mu.Unlock()
	if err != nil {
		return nil, false, fmt.Errorf("store conversation %s: %w", c.ID, err)
	}
	if inserted {
		m.logger.Info("conversation created", zap.String("conversation_id", c.ID), zap.Bool("created_remotely", res.Created))
		m.bus.Emit(bus.ConversationUpdated, c.ID)
	}
	return stored, inserted, nil
}

// MarkAsRead zeroes the unread counter right away, then tells the backend.
// The local reset is kept even when the backend call fails.
func (m *Manager) MarkAsRead(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return chaterr.Invalid("missing conversation id")
	}
	m.mu.Lock()
	found, err := m.db.ResetUnread(conversationID)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("reset unread of %s: %w", conversationID, err)
	}
	if found {
		m.bus.Emit(bus.ConversationUpdated, conversationID)
	}

	if m.stream != nil && m.stream.MarkRead(ctx, conversationID) == transport.Dispatched {
		return nil
	}
	if err := m.backend.MarkRead(ctx, conversationID); err != nil {
		m.logger.Warn("mark read failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return err
	}
	return nil
}

// ApplyRead handles a messages_read echo. A receipt from the local user,
// possibly from another device, is the authoritative unread reset.
func (m *Manager) ApplyRead(conversationID, readerID string) (bool, error) {
	if readerID == "" || readerID != m.actorID {
		return false, nil
	}
	m.mu.Lock()
	found, err := m.db.ResetUnread(conversationID)
	m.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("reset unread of %s: %w", conversationID, err)
	}
	if found {
		m.bus.Emit(bus.ConversationUpdated, conversationID)
	}
	return found, nil
}

func (m *Manager) toConversation(chat api.Chat) store.Conversation {
	c := store.Conversation{
		ID:          string(chat.ID),
		DisplayName: string(chat.ID),
		Avatar:      Avatar(""),
		UnreadCount: uint(max(chat.UnreadCount, 0)),
	}
	if p, ok := chat.Counterpart(m.actorID); ok {
		c.CounterpartID = string(p.ID)
		c.CounterpartRole = p.Role
		c.Avatar = Avatar(p.Role)
		switch {
		case p.Name != "":
			c.DisplayName = p.Name
		case p.ID != "":
			c.DisplayName = string(p.ID)
		}
	}
	if lm := chat.LastMessage; lm != nil {
		c.LastMessagePreview = Preview(lm.Content)
		c.LastMessageTime = lm.CreatedAt
	}
	return c
}

var avatars = map[string]string{
	"teacher": "🎓",
	"student": "📚",
	"admin":   "🛡",
}

// Avatar returns the glyph shown for a counterpart role.
func Avatar(role string) string {
	if a, ok := avatars[strings.ToLower(role)]; ok {
		return a
	}
	return "💬"
}

// Preview collapses whitespace and truncates content for the list.
func Preview(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}
	r := []rune(s)
	return string(r[:previewLen-1]) + "…"
}
