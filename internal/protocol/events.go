// Package protocol defines the streaming wire format: the closed set of
// inbound events and outbound commands exchanged with the chat backend.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/status"
)

// Frame is the wire envelope for every event and command.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event names.
const (
	TypeConnect          = "connect"
	TypeDisconnect       = "disconnect"
	TypeConnectError     = "connect_error"
	TypeNewMessage       = "new_message"
	TypeUserJoinedChat   = "user_joined_chat"
	TypeUserLeftChat     = "user_left_chat"
	TypeMessagesRead     = "messages_read"
	TypeUserTyping       = "user_typing"
	TypeUserOnlineStatus = "user_online_status"
	TypeError            = "error"
)

// ErrUnknownEvent is returned by Decode for event names outside the protocol.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is the closed union of everything the transport hands to the engine.
// Only types in this package implement it.
type Event interface {
	isEvent()
}

// Connected is the handshake frame; it carries the server session id.
type Connected struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

// Disconnected is sent by the server before it closes the stream.
type Disconnected struct {
	Reason string `json:"reason,omitempty"`
}

// ConnectError rejects a handshake, typically for a bad token.
type ConnectError struct {
	Message string `json:"message"`
}

// NewMessage delivers a persisted message to members of a joined room.
type NewMessage struct {
	Message Message
}

// UserJoinedChat announces a participant entering a room.
type UserJoinedChat struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// UserLeftChat announces a participant leaving a room.
type UserLeftChat struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MessagesRead reports that ReaderID has read the conversation.
type MessagesRead struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

// UserTyping carries the complete current typing set of a conversation.
type UserTyping struct {
	ConversationID string   `json:"conversationId"`
	UserIDs        []string `json:"userIds"`
}

// UserOnlineStatus reports a global presence change.
type UserOnlineStatus struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// ServerError is a server-side error frame.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ConnectionStatus is synthesized by the transport on every state transition.
type ConnectionStatus struct {
	From status.State
	To   status.State
}

// TransportError is synthesized by the transport for dial, read and write
// failures. It never travels on the wire.
type TransportError struct {
	Op  string
	Err error
}

func (Connected) isEvent()        {}
func (Disconnected) isEvent()     {}
func (ConnectError) isEvent()     {}
func (NewMessage) isEvent()       {}
func (UserJoinedChat) isEvent()   {}
func (UserLeftChat) isEvent()     {}
func (MessagesRead) isEvent()     {}
func (UserTyping) isEvent()       {}
func (UserOnlineStatus) isEvent() {}
func (ServerError) isEvent()      {}
func (ConnectionStatus) isEvent() {}
func (TransportError) isEvent()   {}

// Decode parses one inbound frame into its typed event.
func Decode(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return DecodeFrame(f)
}

// DecodeFrame converts an already-parsed frame into its typed event.
func DecodeFrame(f Frame) (Event, error) {
	switch f.Type {
	case TypeConnect:
		return decodePayload[Connected](f)
	case TypeDisconnect:
		return decodePayload[Disconnected](f)
	case TypeConnectError:
		return decodePayload[ConnectError](f)
	case TypeNewMessage:
		m, err := decodePayload[Message](f)
		if err != nil {
			return nil, err
		}
		return NewMessage{Message: m}, nil
	case TypeUserJoinedChat:
		return decodePayload[UserJoinedChat](f)
	case TypeUserLeftChat:
		return decodePayload[UserLeftChat](f)
	case TypeMessagesRead:
		return decodePayload[MessagesRead](f)
	case TypeUserTyping:
		return decodePayload[UserTyping](f)
	case TypeUserOnlineStatus:
		return decodePayload[UserOnlineStatus](f)
	case TypeError:
		return decodePayload[ServerError](f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}
}

func decodePayload[T any](f Frame) (T, error) {
	var v T
	if len(f.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(f.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return v, nil
}

// EncodeEvent builds the wire frame for an inbound event. It is used by the
// development backend; synthesized events cannot be encoded.
func EncodeEvent(evt Event) ([]byte, error) {
	var (
		typ     string
		payload any = evt
	)
	switch e := evt.(type) {
	case Connected:
		typ = TypeConnect
	case Disconnected:
		typ = TypeDisconnect
	case ConnectError:
		typ = TypeConnectError
	case NewMessage:
		typ, payload = TypeNewMessage, e.Message
	case UserJoinedChat:
		typ = TypeUserJoinedChat
	case UserLeftChat:
		typ = TypeUserLeftChat
	case MessagesRead:
		typ = TypeMessagesRead
	case UserTyping:
		typ = TypeUserTyping
	case UserOnlineStatus:
		typ = TypeUserOnlineStatus
	case ServerError:
		typ = TypeError
	default:
		return nil, fmt.Errorf("%w: %T is not a wire event", ErrUnknownEvent, evt)
	}
	return encodeFrame(typ, payload)
}

func encodeFrame(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(Frame{Type: typ, Payload: raw})
}
