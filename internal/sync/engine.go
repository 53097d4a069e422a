// Package sync holds the per-session engine: it routes typed transport events
// to the components that own each piece of state and exposes the commands
// and snapshots callers use.
package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conversations"
	"github.com/matheus3301/chatsync/internal/messages"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/rooms"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Identity supplies the local user's id.
type Identity interface {
	ActorID() string
}

// StaticIdentity is an Identity with a fixed id.
type StaticIdentity string

// ActorID returns the id.
func (s StaticIdentity) ActorID() string { return string(s) }

// Transport is the part of the streaming channel the engine drives.
type Transport interface {
	SetHandler(h transport.Handler)
	OnConnect(hook transport.ConnectHook)
	Connect(ctx context.Context) error
	Close()
	State() status.State
	SessionID() string
}

// Deps are the components of one session.
type Deps struct {
	Transport     Transport
	Rooms         *rooms.Manager
	Messages      *messages.Store
	Sender        *outbox.Sender
	Conversations *conversations.Manager
	Presence      *presence.Coordinator
	Bus           *bus.Bus
	Identity      Identity
	PageSize      int
	Logger        *zap.Logger
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	State         status.State
	SessionID     string
	ActorID       string
	Rooms         []string
	Conversations []store.Conversation
	TotalUnread   uint
	Active        string
	Messages      []store.Message
	LocalTyping   bool
	Typing        map[string][]string
	Online        []string
}

// Engine is the context object of one chat session. Nothing in it is global;
// two engines never share state.
type Engine struct {
	tr       Transport
	rooms    *rooms.Manager
	msgs     *messages.Store
	sender   *outbox.Sender
	convs    *conversations.Manager
	presence *presence.Coordinator
	recon    *Reconciler
	bus      *bus.Bus
	identity Identity
	pageSize int
	logger   *zap.Logger

	mu      gosync.Mutex
	pages   map[string]int
	hasMore map[string]bool
	cancel  context.CancelFunc
}

// NewEngine wires the components together and installs the event handler
// and on-connect hooks on the transport.
func NewEngine(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := d.PageSize
	if pageSize <= 0 {
		pageSize = messages.DefaultPageSize
	}
	e := &Engine{
		tr:       d.Transport,
		rooms:    d.Rooms,
		msgs:     d.Messages,
		sender:   d.Sender,
		convs:    d.Conversations,
		presence: d.Presence,
		bus:      d.Bus,
		identity: d.Identity,
		pageSize: pageSize,
		logger:   logger,
		pages:    make(map[string]int),
		hasMore:  make(map[string]bool),
	}
	e.tr.SetHandler(e.Handle)
	e.tr.OnConnect(e.rooms.Replay)
	e.recon = NewReconciler(d.Conversations, d.Messages, e.catchUp, logger.Named("reconciler"))
	e.tr.OnConnect(e.recon.OnConnect)
	return e
}

// Start loads the conversation list and connects the transport. A failed
// first connection is not an error: the transport keeps retrying and every
// command has a REST fallback.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	res, err := e.convs.Refresh(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("load conversations: %w", err)
	}
	e.logger.Info("engine started",
		zap.Int("conversations", len(res.Conversations)),
		zap.String("list_reason", string(res.Reason)),
	)

	if err := e.tr.Connect(ctx); err != nil {
		e.logger.Warn("stream unavailable, using fallback until reconnect", zap.Error(err))
	}
	return nil
}

// Stop closes the transport and disarms typing timers.
func (e *Engine) Stop() {
	e.tr.Close()
	e.presence.Close()
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()
}

// Handle routes one transport event. Events are handled one at a time in
// arrival order.
func (e *Engine) Handle(evt protocol.Event) {
	switch ev := evt.(type) {
	case protocol.Connected:
		e.logger.Info("stream session established", zap.String("session_id", ev.SessionID))

	case protocol.Disconnected:
		e.logger.Warn("server closed the stream", zap.String("reason", ev.Reason))

	case protocol.ConnectError:
		e.logger.Error("stream handshake rejected", zap.String("message", ev.Message))
		e.bus.Emit(bus.TransportError, ev)

	case protocol.NewMessage:
		e.handleNewMessage(ev.Message)

	case protocol.UserJoinedChat:
		e.rooms.ApplyMembership(ev.ConversationID, ev.UserID, true)

	case protocol.UserLeftChat:
		e.rooms.ApplyMembership(ev.ConversationID, ev.UserID, false)

	case protocol.MessagesRead:
		if _, err := e.msgs.MarkConversationRead(ev.ConversationID, ev.ReaderID); err != nil {
			e.logger.Error("failed to apply read receipt", zap.String("conversation_id", ev.ConversationID), zap.Error(err))
		}
		if _, err := e.convs.ApplyRead(ev.ConversationID, ev.ReaderID); err != nil {
			e.logger.Error("failed to reset unread", zap.String("conversation_id", ev.ConversationID), zap.Error(err))
		}

	case protocol.UserTyping:
		e.presence.ApplyTyping(ev.ConversationID, ev.UserIDs)

	case protocol.UserOnlineStatus:
		e.presence.ApplyOnline(ev.UserID, ev.Online)

	case protocol.ServerError:
		e.logger.Error("server error", zap.String("code", ev.Code), zap.String("message", ev.Message))
		e.bus.Emit(bus.TransportError, ev)

	case protocol.ConnectionStatus:
		e.logger.Info("connection status", zap.String("from", string(ev.From)), zap.String("to", string(ev.To)))

	case protocol.TransportError:
		e.logger.Debug("transport error", zap.String("op", ev.Op), zap.Error(ev.Err))
		e.bus.Emit(bus.TransportError, ev)

	default:
		e.logger.Warn("unhandled event", zap.String("type", fmt.Sprintf("%T", evt)))
	}
}

func (e *Engine) handleNewMessage(m protocol.Message) {
	log := e.logger.With(zap.String("conversation_id", string(m.ConversationID)), zap.String("msg_id", string(m.ID)))
	if m.ID == "" {
		log.Warn("dropping live message without id")
		return
	}
	if _, err := e.msgs.OnLiveMessage(m); err != nil {
		log.Error("failed to store live message", zap.Error(err))
	}
	if _, err := e.convs.ApplyIncomingMessage(m); err != nil {
		log.Error("failed to update conversation", zap.Error(err))
	}
}

// OpenConversation joins the room, makes the conversation active and loads
// its newest page. The page load may fail while the join stays recorded.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) (hasMore bool, err error) {
	e.rooms.Join(ctx, conversationID)
	e.msgs.Open(conversationID)

	hasMore, err = e.msgs.LoadPage(ctx, conversationID, 1, e.pageSize)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	e.pages[conversationID] = 1
	e.hasMore[conversationID] = hasMore
	e.mu.Unlock()
	return hasMore, nil
}

// catchUp reloads the newest page of conversationID after a reconnect. A
// reset of the stored history restarts the paging cursor with it.
func (e *Engine) catchUp(ctx context.Context, conversationID string) error {
	return e.msgs.CatchUp(ctx, conversationID, e.pageSize, func(hasMore bool) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, opened := e.pages[conversationID]; opened {
			e.pages[conversationID] = 1
			e.hasMore[conversationID] = hasMore
		}
	})
}

// CloseConversation leaves the room and stops local typing in it.
func (e *Engine) CloseConversation(ctx context.Context, conversationID string) {
	e.presence.StopTyping(ctx, conversationID)
	e.rooms.Leave(ctx, conversationID)
	e.msgs.CloseActive(conversationID)
}

// LoadOlder loads the next older page of an opened conversation.
func (e *Engine) LoadOlder(ctx context.Context, conversationID string) (hasMore bool, err error) {
	e.mu.Lock()
	page, opened := e.pages[conversationID]
	more := e.hasMore[conversationID]
	e.mu.Unlock()
	if !opened || !more {
		return false, nil
	}

	hasMore, err = e.msgs.LoadPage(ctx, conversationID, page+1, e.pageSize)
	if err != nil {
		return more, err
	}
	e.mu.Lock()
	e.pages[conversationID] = page + 1
	e.hasMore[conversationID] = hasMore
	e.mu.Unlock()
	return hasMore, nil
}

// Send sends a message; see outbox.Sender.Send. A message acknowledged over
// REST is folded into the conversation list since no stream echo follows.
func (e *Engine) Send(ctx context.Context, conversationID, content string) (*outbox.Outcome, error) {
	out, err := e.sender.Send(ctx, conversationID, content)
	e.applySent(out)
	return out, err
}

// Retry re-sends a failed message.
func (e *Engine) Retry(ctx context.Context, clientID string) (*outbox.Outcome, error) {
	out, err := e.sender.Retry(ctx, clientID)
	e.applySent(out)
	return out, err
}

func (e *Engine) applySent(out *outbox.Outcome) {
	if out == nil || out.Route != outbox.ViaRest || out.Message == nil {
		return
	}
	if _, err := e.convs.ApplyMessage(out.Message); err != nil {
		e.logger.Error("failed to update conversation", zap.String("conversation_id", out.Message.ConversationID), zap.Error(err))
	}
}

// Discard removes a failed message.
func (e *Engine) Discard(clientID string) (bool, error) {
	return e.msgs.Discard(clientID)
}

// MarkAsRead resets the unread counter and acknowledges the conversation.
func (e *Engine) MarkAsRead(ctx context.Context, conversationID string) error {
	return e.convs.MarkAsRead(ctx, conversationID)
}

// StartTyping turns the local typing indicator on.
func (e *Engine) StartTyping(ctx context.Context, conversationID string) {
	e.presence.StartTyping(ctx, conversationID)
}

// StopTyping turns the local typing indicator off.
func (e *Engine) StopTyping(ctx context.Context, conversationID string) {
	e.presence.StopTyping(ctx, conversationID)
}

// Refresh reloads the conversation list.
func (e *Engine) Refresh(ctx context.Context) (conversations.ListResult, error) {
	return e.convs.Refresh(ctx)
}

// CreateOrGet returns the conversation with a counterpart, creating it if
// needed.
func (e *Engine) CreateOrGet(ctx context.Context, counterpartID, displayName, role string) (*store.Conversation, bool, error) {
	return e.convs.CreateOrGet(ctx, counterpartID, displayName, role)
}

// Messages returns the stored window of a conversation in display order.
func (e *Engine) Messages(conversationID string) ([]store.Message, error) {
	return e.msgs.Messages(conversationID)
}

// Search finds loaded messages containing query, newest first.
func (e *Engine) Search(query, conversationID string, limit int) ([]store.Message, error) {
	return e.msgs.Search(query, conversationID, limit)
}

// HasMore reports whether an opened conversation has older pages.
func (e *Engine) HasMore(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMore[conversationID]
}

// Subscribe returns engine notifications whose kind starts with prefix.
func (e *Engine) Subscribe(prefix string, bufSize int) (<-chan bus.Event, func()) {
	return e.bus.Subscribe(prefix, bufSize)
}

// Snapshot copies the current session state.
func (e *Engine) Snapshot() (*Snapshot, error) {
	convs, err := e.convs.List()
	if err != nil {
		return nil, err
	}
	total, err := e.convs.TotalUnread()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		State:         e.tr.State(),
		SessionID:     e.tr.SessionID(),
		Rooms:         e.rooms.Rooms(),
		Conversations: convs,
		TotalUnread:   total,
		Active:        e.msgs.Active(),
		Typing:        e.presence.TypingSnapshot(),
		Online:        e.presence.Online(),
	}
	if e.identity != nil {
		snap.ActorID = e.identity.ActorID()
	}
	if snap.Active != "" {
		if snap.Messages, err = e.msgs.Messages(snap.Active); err != nil {
			return nil, err
		}
		snap.LocalTyping = e.presence.IsTyping(snap.Active)
	}
	return snap, nil
}
