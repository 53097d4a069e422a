package api

import "github.com/matheus3301/chatsync/internal/protocol"

// Envelope is the response wrapper used by every endpoint.
type Envelope[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError is the error body of a failed response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Participant is a member of a chat as described by the backend.
type Participant struct {
	ID   protocol.ID `json:"id"`
	Name string      `json:"name"`
	Role string      `json:"role,omitempty"`
}

// Chat is the backend's conversation summary.
type Chat struct {
	ID           protocol.ID       `json:"id"`
	Participants []Participant     `json:"participants"`
	LastMessage  *protocol.Message `json:"lastMessage,omitempty"`
	UnreadCount  int               `json:"unreadCount"`
}

// Counterpart returns the first participant that is not actorID.
func (c Chat) Counterpart(actorID string) (Participant, bool) {
	for _, p := range c.Participants {
		if string(p.ID) != actorID {
			return p, true
		}
	}
	return Participant{}, false
}

// ChatList is the payload of GET /api/chats.
type ChatList struct {
	Chats []Chat `json:"chats"`
}

// MessagePage is the payload of GET /api/chats/:id/messages.
type MessagePage struct {
	Messages []protocol.Message `json:"messages"`
	HasMore  bool               `json:"hasMore"`
}

// SendMessageRequest is the body of POST /api/chats/:id/messages.
type SendMessageRequest struct {
	Content  string `json:"content"`
	ClientID string `json:"clientId,omitempty"`
}

// SentMessage is the payload of POST /api/chats/:id/messages.
type SentMessage struct {
	Message protocol.Message `json:"message"`
}

// CreateChatRequest is the body of POST /api/chats.
type CreateChatRequest struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName,omitempty"`
	ParticipantRole string `json:"participantRole,omitempty"`
}

// CreatedChat is the payload of POST /api/chats. Created is false when the
// chat already existed.
type CreatedChat struct {
	Chat    Chat `json:"chat"`
	Created bool `json:"created"`
}
