package store

import "time"

// DeliveryState tracks an outgoing message through the send pipeline.
type DeliveryState string

const (
	Pending DeliveryState = "pending"
	Sent    DeliveryState = "sent"
	Failed  DeliveryState = "failed"
)

// Conversation is a row of the chat list.
type Conversation struct {
	ID                 string
	DisplayName        string
	Avatar             string
	CounterpartID      string
	CounterpartRole    string
	LastMessagePreview string
	LastMessageTime    time.Time
	UnreadCount        uint
}

// Message is a message in a conversation. ID is empty until the server has
// persisted it; ClientID is set for messages composed locally.
type Message struct {
	Seq            int64
	ID             string
	ClientID       string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	IsRead         bool
	Delivery       DeliveryState
	ErrorMessage   string
}

// IsOwn reports whether actorID sent the message.
func (m Message) IsOwn(actorID string) bool {
	return actorID != "" && m.SenderID == actorID
}

// Key returns the identity used for reconciliation: the server id when
// assigned, the client id otherwise.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientID
}

// UpsertResult describes what an upsert did to the message list.
type UpsertResult int

const (
	// Inserted added a new row.
	Inserted UpsertResult = iota
	// Updated refreshed a row already known by server id.
	Updated
	// Replaced promoted a local row (matched by client id) to its server form.
	Replaced
)
