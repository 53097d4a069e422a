// Package control is the local API between chatsyncd and chatctl. The daemon
// serves it over the session's Unix domain socket.
package control

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// Status summarizes a running session.
type Status struct {
	Session     string              `json:"session"`
	State       string              `json:"state"`
	SessionID   string              `json:"sessionId,omitempty"`
	ActorID     string              `json:"actorId"`
	Rooms       []string            `json:"rooms"`
	TotalUnread uint                `json:"totalUnread"`
	Active      string              `json:"active,omitempty"`
	LocalTyping bool                `json:"localTyping,omitempty"`
	Typing      map[string][]string `json:"typing,omitempty"`
	Online      []string            `json:"online,omitempty"`
}

// Conversation is a row of the conversation list.
type Conversation struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	Avatar          string    `json:"avatar"`
	CounterpartID   string    `json:"counterpartId,omitempty"`
	CounterpartRole string    `json:"counterpartRole,omitempty"`
	Preview         string    `json:"preview,omitempty"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	UnreadCount     uint      `json:"unreadCount"`
}

// ConversationList is the payload of the list endpoints. Reason tells whether
// the rows are fresh, cached or a fallback.
type ConversationList struct {
	Conversations []Conversation `json:"conversations"`
	Reason        string         `json:"reason"`
	Error         string         `json:"error,omitempty"`
}

// Message is a message of the active conversation.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	IsRead         bool      `json:"isRead"`
	Delivery       string    `json:"delivery,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// History is a window of the active conversation.
type History struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
	HasMore        bool      `json:"hasMore"`
}

// SendRequest is the body of the send endpoint.
type SendRequest struct {
	Content string `json:"content"`
}

// SendResult reports how a send attempt ended.
type SendResult struct {
	ClientID string   `json:"clientId"`
	Route    string   `json:"route"`
	Stages   []string `json:"stages"`
	Message  *Message `json:"message,omitempty"`
}

// CreateRequest is the body of the create endpoint.
type CreateRequest struct {
	CounterpartID string `json:"counterpartId"`
	DisplayName   string `json:"displayName,omitempty"`
	Role          string `json:"role,omitempty"`
}

// CreateResult is the payload of the create endpoint.
type CreateResult struct {
	Conversation Conversation `json:"conversation"`
	Created      bool         `json:"created"`
}

// TypingRequest is the body of the typing endpoint.
type TypingRequest struct {
	Typing bool `json:"typing"`
}

// Event is an engine notification relayed on the events stream.
type Event struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// FromConversation converts a store row.
func FromConversation(c store.Conversation) Conversation {
	return Conversation{
		ID:              c.ID,
		DisplayName:     c.DisplayName,
		Avatar:          c.Avatar,
		CounterpartID:   c.CounterpartID,
		CounterpartRole: c.CounterpartRole,
		Preview:         c.LastMessagePreview,
		LastMessageAt:   c.LastMessageTime,
		UnreadCount:     c.UnreadCount,
	}
}

// FromConversations converts store rows, never returning nil.
func FromConversations(cs []store.Conversation) []Conversation {
	out := make([]Conversation, 0, len(cs))
	for _, c := range cs {
		out = append(out, FromConversation(c))
	}
	return out
}

// FromMessage converts a store row.
func FromMessage(m store.Message) Message {
	return Message{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		IsRead:         m.IsRead,
		Delivery:       string(m.Delivery),
		Error:          m.ErrorMessage,
	}
}

// FromMessages converts store rows, never returning nil.
func FromMessages(ms []store.Message) []Message {
	out := make([]Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, FromMessage(m))
	}
	return out
}
