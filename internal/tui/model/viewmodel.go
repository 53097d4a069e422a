// Package model caches daemon state for the TUI and tells it what to redraw.
package model

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/matheus3301/chatsync/internal/control"
)

var errNoActive = errors.New("no conversation open")

// Backend is the part of the control client the TUI uses.
type Backend interface {
	Status(ctx context.Context) (*control.Status, error)
	Conversations(ctx context.Context, refresh bool) (*control.ConversationList, error)
	Create(ctx context.Context, req control.CreateRequest) (*control.CreateResult, error)
	Open(ctx context.Context, conversationID string) (*control.History, error)
	History(ctx context.Context, conversationID string) (*control.History, error)
	Older(ctx context.Context, conversationID string) (*control.History, error)
	CloseConversation(ctx context.Context, conversationID string) error
	Send(ctx context.Context, conversationID, content string) (*control.SendResult, error)
	Retry(ctx context.Context, clientID string) (*control.SendResult, error)
	Discard(ctx context.Context, clientID string) error
	MarkRead(ctx context.Context, conversationID string) error
	Typing(ctx context.Context, conversationID string, typing bool) error
	Search(ctx context.Context, query, conversationID string, limit int) (*control.History, error)
	Events(ctx context.Context, prefix string) (<-chan control.Event, error)
}

// Change is a set of state areas that need a redraw.
type Change uint8

const (
	ChangeStatus Change = 1 << iota
	ChangeConversations
	ChangeMessages
)

// Has reports whether c includes o.
func (c Change) Has(o Change) bool { return c&o != 0 }

// changeFor maps an event kind to the state it invalidates.
func changeFor(kind string) Change {
	switch {
	case strings.HasPrefix(kind, "message."):
		// Read receipts and new messages also move unread counters.
		return ChangeMessages | ChangeConversations
	case strings.HasPrefix(kind, "conversation."):
		return ChangeConversations
	case strings.HasPrefix(kind, "connection."), strings.HasPrefix(kind, "presence."), strings.HasPrefix(kind, "room."):
		return ChangeStatus
	}
	return 0
}

// ViewModel caches state read from the daemon and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	backend       Backend
	status        *control.Status
	conversations []control.Conversation
	listReason    string
	active        string
	history       *control.History

	changes chan Change
}

// NewViewModel creates a view model for a daemon backend.
func NewViewModel(b Backend) *ViewModel {
	return &ViewModel{
		backend: b,
		changes: make(chan Change, 16),
	}
}

// Changes delivers the areas to redraw after each load.
func (vm *ViewModel) Changes() <-chan Change {
	return vm.changes
}

func (vm *ViewModel) signal(c Change) {
	if c == 0 {
		return
	}
	select {
	case vm.changes <- c:
	default:
	}
}

// LoadStatus fetches the session status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.backend.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	vm.signal(ChangeStatus)
	return nil
}

// LoadConversations fetches the conversation list, reloading it from the
// chat backend first when refresh is set. A degraded list still replaces
// the cached one; its error is returned for display.
func (vm *ViewModel) LoadConversations(ctx context.Context, refresh bool) (reason string, err error) {
	list, err := vm.backend.Conversations(ctx, refresh)
	if err != nil {
		return "", err
	}
	vm.mu.Lock()
	vm.conversations = list.Conversations
	vm.listReason = list.Reason
	vm.mu.Unlock()
	vm.signal(ChangeConversations)
	if list.Error != "" {
		return list.Reason, &ListError{Reason: list.Reason, Message: list.Error}
	}
	return list.Reason, nil
}

// ListError reports a conversation list served from cache or fallback.
type ListError struct {
	Reason  string
	Message string
}

func (e *ListError) Error() string {
	return "showing " + e.Reason + " conversations: " + e.Message
}

// Open makes a conversation active and loads its newest page.
func (vm *ViewModel) Open(ctx context.Context, conversationID string) error {
	h, err := vm.backend.Open(ctx, conversationID)
	if err != nil {
		return err
	}
	vm.setHistory(conversationID, h)
	return nil
}

// Older loads the next older page of the active conversation.
func (vm *ViewModel) Older(ctx context.Context) error {
	id := vm.Active()
	if id == "" {
		return nil
	}
	h, err := vm.backend.Older(ctx, id)
	if err != nil {
		return err
	}
	vm.setHistory(id, h)
	return nil
}

// ReloadMessages re-reads the active conversation's window.
func (vm *ViewModel) ReloadMessages(ctx context.Context) error {
	id := vm.Active()
	if id == "" {
		return nil
	}
	h, err := vm.backend.History(ctx, id)
	if err != nil {
		return err
	}
	vm.setHistory(id, h)
	return nil
}

func (vm *ViewModel) setHistory(conversationID string, h *control.History) {
	vm.mu.Lock()
	vm.active = conversationID
	vm.history = h
	vm.mu.Unlock()
	vm.signal(ChangeMessages)
}

// Close leaves the active conversation.
func (vm *ViewModel) Close(ctx context.Context) error {
	id := vm.Active()
	if id == "" {
		return nil
	}
	vm.mu.Lock()
	vm.active = ""
	vm.history = nil
	vm.mu.Unlock()
	vm.signal(ChangeMessages)
	return vm.backend.CloseConversation(ctx, id)
}

// Send sends text to the active conversation and reloads its window.
func (vm *ViewModel) Send(ctx context.Context, text string) (*control.SendResult, error) {
	id := vm.Active()
	if id == "" {
		return nil, errNoActive
	}
	res, err := vm.backend.Send(ctx, id, text)
	if err != nil {
		return nil, err
	}
	return res, vm.ReloadMessages(ctx)
}

// RetryLastFailed re-sends the newest failed message of the active
// conversation. It returns nil when there is nothing to retry.
func (vm *ViewModel) RetryLastFailed(ctx context.Context) (*control.SendResult, error) {
	m := vm.lastFailed()
	if m == nil {
		return nil, nil
	}
	res, err := vm.backend.Retry(ctx, m.ClientID)
	if err != nil {
		return nil, err
	}
	return res, vm.ReloadMessages(ctx)
}

// DiscardLastFailed drops the newest failed message of the active
// conversation and reports whether there was one.
func (vm *ViewModel) DiscardLastFailed(ctx context.Context) (bool, error) {
	m := vm.lastFailed()
	if m == nil {
		return false, nil
	}
	if err := vm.backend.Discard(ctx, m.ClientID); err != nil {
		return false, err
	}
	return true, vm.ReloadMessages(ctx)
}

func (vm *ViewModel) lastFailed() *control.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.history == nil {
		return nil
	}
	for i := len(vm.history.Messages) - 1; i >= 0; i-- {
		if m := vm.history.Messages[i]; m.Delivery == "failed" {
			return &m
		}
	}
	return nil
}

// MarkRead marks the active conversation read.
func (vm *ViewModel) MarkRead(ctx context.Context) error {
	id := vm.Active()
	if id == "" {
		return nil
	}
	return vm.backend.MarkRead(ctx, id)
}

// SetTyping turns the local typing indicator of the active conversation on
// or off.
func (vm *ViewModel) SetTyping(ctx context.Context, typing bool) error {
	id := vm.Active()
	if id == "" {
		return nil
	}
	return vm.backend.Typing(ctx, id, typing)
}

// Create starts or finds a conversation with a user.
func (vm *ViewModel) Create(ctx context.Context, counterpartID string) (*control.CreateResult, error) {
	res, err := vm.backend.Create(ctx, control.CreateRequest{CounterpartID: counterpartID})
	if err != nil {
		return nil, err
	}
	_, _ = vm.LoadConversations(ctx, false)
	return res, nil
}

// Search finds loaded messages containing query.
func (vm *ViewModel) Search(ctx context.Context, query string) ([]control.Message, error) {
	h, err := vm.backend.Search(ctx, query, "", 50)
	if err != nil {
		return nil, err
	}
	return h.Messages, nil
}

// Watch follows the daemon's event stream and reloads whatever each burst
// of events invalidates, until ctx ends or the stream closes.
func (vm *ViewModel) Watch(ctx context.Context) error {
	events, err := vm.backend.Events(ctx, "")
	if err != nil {
		return err
	}
	for {
		var pending Change
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			pending = changeFor(evt.Kind)
		}
	drain:
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					break drain
				}
				pending |= changeFor(evt.Kind)
			default:
				break drain
			}
		}
		vm.apply(ctx, pending)
	}
}

func (vm *ViewModel) apply(ctx context.Context, c Change) {
	if c.Has(ChangeStatus) {
		_ = vm.LoadStatus(ctx)
	}
	if c.Has(ChangeConversations) {
		_, _ = vm.LoadConversations(ctx, false)
	}
	if c.Has(ChangeMessages) {
		_ = vm.ReloadMessages(ctx)
	}
}

// Status returns the cached session status.
func (vm *ViewModel) Status() *control.Status {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Conversations returns the cached conversation list.
func (vm *ViewModel) Conversations() []control.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// ListReason tells where the cached list came from; empty when fresh.
func (vm *ViewModel) ListReason() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.listReason
}

// Conversation returns a cached conversation by id.
func (vm *ViewModel) Conversation(id string) (control.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return control.Conversation{}, false
}

// Active returns the active conversation id.
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// History returns the cached window of the active conversation.
func (vm *ViewModel) History() *control.History {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.history
}

// TypingUsers returns who else is typing in a conversation.
func (vm *ViewModel) TypingUsers(conversationID string) []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return nil
	}
	return vm.status.Typing[conversationID]
}

// IsOnline reports whether a user has an open stream.
func (vm *ViewModel) IsOnline(userID string) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return false
	}
	return slices.Contains(vm.status.Online, userID)
}
