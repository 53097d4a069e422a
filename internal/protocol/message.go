package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// ID is a server identifier. The backend emits numeric ids for some entities
// and strings for others; both decode to the same textual form.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Message is the wire shape of a persisted message, shared by the stream and
// the REST API.
type Message struct {
	ID             ID        `json:"id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID ID        `json:"conversationId"`
	SenderID       ID        `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	IsRead         bool      `json:"isRead,omitempty"`
}

// ToStoreMessage converts a wire message to its acknowledged store form.
func (m Message) ToStoreMessage() *store.Message {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &store.Message{
		ID:             strings.TrimSpace(string(m.ID)),
		ClientID:       m.ClientID,
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		Content:        m.Content,
		CreatedAt:      createdAt,
		IsRead:         m.IsRead,
		Delivery:       store.Sent,
	}
}
