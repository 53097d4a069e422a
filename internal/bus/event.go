package bus

import "time"

// Event is a notification published by the engine for reactive callers.
// Kind is dot-namespaced so subscribers can filter by prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Kinds published by the sync components.
const (
	ConnectionStatusChanged = "connection.status_changed"
	TransportError          = "connection.error"

	MessageUpserted    = "message.upserted"
	MessagePageLoaded  = "message.page_loaded"
	MessageScrollToEnd = "message.scroll_to_end"
	MessageSendAck     = "message.send_ack"
	MessageSendFailed  = "message.send_failed"
	MessageDiscarded   = "message.discarded"
	MessagesRead       = "message.read"

	ConversationUpdated = "conversation.updated"
	ConversationsLoaded = "conversation.loaded"

	RoomMembersChanged = "room.members_changed"

	TypingChanged   = "presence.typing_changed"
	PresenceChanged = "presence.online_changed"
)
