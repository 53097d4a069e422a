// Package outbox sends composed messages. Each attempt walks the stages
// TryStream, TryRest and Failed in order; a composed message is never
// dropped.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/messages"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Stage is a step of a send attempt.
type Stage int

const (
	TryStream Stage = iota
	TryRest
	Failed
)

func (s Stage) String() string {
	switch s {
	case TryStream:
		return "try_stream"
	case TryRest:
		return "try_rest"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Route says how a message left the client.
type Route int

const (
	// ViaStream means the command was dispatched; the stored row arrives
	// later as a new_message event.
	ViaStream Route = iota + 1
	// ViaRest means the backend acknowledged the message synchronously.
	ViaRest
)

func (r Route) String() string {
	switch r {
	case ViaStream:
		return "stream"
	case ViaRest:
		return "rest"
	default:
		return "none"
	}
}

// StreamSender dispatches a message on the streaming channel.
type StreamSender interface {
	SendMessage(ctx context.Context, conversationID, content, clientID string) (transport.Dispatch, error)
}

// RestSender persists a message through the request/response API.
type RestSender interface {
	SendMessage(ctx context.Context, conversationID, content, clientID string) (*protocol.Message, error)
}

// TypingStopper ends the local typing indicator.
type TypingStopper interface {
	StopTyping(ctx context.Context, conversationID string)
}

// Outcome describes a finished send attempt.
type Outcome struct {
	ClientID string
	Route    Route
	Stages   []Stage
	// Message is the acknowledged row for ViaRest and the failed row when
	// Route is zero.
	Message *store.Message
}

// SendFailure is the payload of bus.MessageSendFailed.
type SendFailure struct {
	ConversationID string
	ClientID       string
	Error          string
}

// SendAck is the payload of bus.MessageSendAck.
type SendAck struct {
	ConversationID string
	ClientID       string
	Route          Route
	ServerMsgID    string
}

// Sender runs send attempts for a session.
type Sender struct {
	stream StreamSender
	rest   RestSender
	msgs   *messages.Store
	typing TypingStopper
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewSender creates a sender. typing may be nil.
func NewSender(stream StreamSender, rest RestSender, msgs *messages.Store, typing TypingStopper, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		stream:   stream,
		rest:     rest,
		msgs:     msgs,
		typing:   typing,
		bus:      b,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

// Send delivers content to the conversation. Blank content, or a second send
// while one is in flight for the same conversation, is rejected with
// chaterr.ErrEmptyContent before anything is dispatched. When both paths fail
// the message is stored as Failed and the returned error wraps the REST
// failure.
func (s *Sender) Send(ctx context.Context, conversationID, content string) (*Outcome, error) {
	if conversationID == "" {
		return nil, chaterr.Invalid("missing conversation id")
	}
	if strings.TrimSpace(content) == "" {
		return nil, chaterr.ErrEmptyContent
	}
	if !s.acquire(conversationID) {
		return nil, chaterr.ErrEmptyContent
	}
	defer s.release(conversationID)

	return s.run(ctx, conversationID, content, uuid.NewString(), false)
}

// Retry re-sends a Failed message, replacing its row in place.
func (s *Sender) Retry(ctx context.Context, clientID string) (*Outcome, error) {
	m, err := s.msgs.Get(clientID)
	if err != nil {
		return nil, fmt.Errorf("retry %s: %w", clientID, err)
	}
	if m == nil || m.ID != "" || m.Delivery != store.Failed {
		return nil, chaterr.Invalid("no failed message with client id %q", clientID)
	}
	if !s.acquire(m.ConversationID) {
		return nil, chaterr.ErrEmptyContent
	}
	defer s.release(m.ConversationID)

	if _, err := s.msgs.MarkPending(clientID); err != nil {
		return nil, err
	}
	return s.run(ctx, m.ConversationID, m.Content, clientID, true)
}

func (s *Sender) run(ctx context.Context, conversationID, content, clientID string, retry bool) (*Outcome, error) {
	out := &Outcome{ClientID: clientID}
	log := s.logger.With(zap.String("conversation_id", conversationID), zap.String("client_msg_id", clientID))

	var cause error
	stage := TryStream
	for {
		out.Stages = append(out.Stages, stage)
		switch stage {
		case TryStream:
			d, err := s.stream.SendMessage(ctx, conversationID, content, clientID)
			if err != nil {
				return nil, err
			}
			if d == transport.Dispatched {
				out.Route = ViaStream
				s.delivered(ctx, conversationID, clientID, out.Route, "")
				log.Debug("message dispatched on stream")
				return out, nil
			}
			stage = TryRest

		case TryRest:
			msg, err := s.rest.SendMessage(ctx, conversationID, content, clientID)
			if err != nil {
				cause = err
				stage = Failed
				continue
			}
			sm := msg.ToStoreMessage()
			if sm.ClientID == "" {
				sm.ClientID = clientID
			}
			if _, err := s.msgs.Upsert(sm); err != nil {
				return nil, err
			}
			out.Route = ViaRest
			out.Message = sm
			s.delivered(ctx, conversationID, clientID, out.Route, sm.ID)
			log.Info("message sent via fallback", zap.String("server_msg_id", sm.ID))
			return out, nil

		case Failed:
			log.Error("failed to send message", zap.Error(cause))
			var err error
			if retry {
				_, err = s.msgs.MarkFailed(clientID, cause)
				out.Message, _ = s.msgs.Get(clientID)
			} else {
				out.Message, err = s.msgs.AppendFailed(conversationID, clientID, content, cause)
			}
			if err != nil {
				log.Error("failed to record failed message", zap.Error(err))
			}
			s.bus.Emit(bus.MessageSendFailed, SendFailure{
				ConversationID: conversationID,
				ClientID:       clientID,
				Error:          cause.Error(),
			})
			return out, fmt.Errorf("send to %s: %w", conversationID, cause)
		}
	}
}

func (s *Sender) delivered(ctx context.Context, conversationID, clientID string, route Route, serverMsgID string) {
	if s.typing != nil {
		s.typing.StopTyping(ctx, conversationID)
	}
	s.bus.Emit(bus.MessageSendAck, SendAck{
		ConversationID: conversationID,
		ClientID:       clientID,
		Route:          route,
		ServerMsgID:    serverMsgID,
	})
}

func (s *Sender) acquire(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[conversationID] {
		return false
	}
	s.inFlight[conversationID] = true
	return true
}

func (s *Sender) release(conversationID string) {
	s.mu.Lock()
	delete(s.inFlight, conversationID)
	s.mu.Unlock()
}
