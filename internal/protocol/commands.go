package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound command names.
const (
	CmdJoinChat         = "join_chat"
	CmdLeaveChat        = "leave_chat"
	CmdSendMessage      = "send_message"
	CmdMarkMessagesRead = "mark_messages_read"
	CmdTypingStart      = "typing_start"
	CmdTypingStop       = "typing_stop"
)

// Command is the closed set of client-to-server commands.
type Command interface {
	CommandType() string
}

// JoinChat subscribes the connection to a conversation room.
type JoinChat struct {
	ConversationID string `json:"conversationId"`
}

// LeaveChat unsubscribes the connection from a conversation room.
type LeaveChat struct {
	ConversationID string `json:"conversationId"`
}

// SendMessage asks the server to persist and broadcast a message. ClientID is
// echoed back on the resulting new_message so the sender can reconcile.
type SendMessage struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	ClientID       string `json:"clientId,omitempty"`
}

// MarkMessagesRead acknowledges every message in a conversation.
type MarkMessagesRead struct {
	ConversationID string `json:"conversationId"`
}

// TypingStart announces the local user started typing.
type TypingStart struct {
	ConversationID string `json:"conversationId"`
}

// TypingStop announces the local user stopped typing.
type TypingStop struct {
	ConversationID string `json:"conversationId"`
}

func (JoinChat) CommandType() string         { return CmdJoinChat }
func (LeaveChat) CommandType() string        { return CmdLeaveChat }
func (SendMessage) CommandType() string      { return CmdSendMessage }
func (MarkMessagesRead) CommandType() string { return CmdMarkMessagesRead }
func (TypingStart) CommandType() string      { return CmdTypingStart }
func (TypingStop) CommandType() string       { return CmdTypingStop }

// EncodeCommand renders a command as a wire frame.
func EncodeCommand(cmd Command) ([]byte, error) {
	return encodeFrame(cmd.CommandType(), cmd)
}

// DecodeCommand parses a command frame. It is the server-side counterpart of
// EncodeCommand and is used by the development backend.
func DecodeCommand(data []byte) (Command, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case CmdJoinChat:
		return decodePayload[JoinChat](f)
	case CmdLeaveChat:
		return decodePayload[LeaveChat](f)
	case CmdSendMessage:
		return decodePayload[SendMessage](f)
	case CmdMarkMessagesRead:
		return decodePayload[MarkMessagesRead](f)
	case CmdTypingStart:
		return decodePayload[TypingStart](f)
	case CmdTypingStop:
		return decodePayload[TypingStop](f)
	default:
		return nil, fmt.Errorf("unknown command type %q", f.Type)
	}
}
