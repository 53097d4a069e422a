package devserver

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const clientSendBuffer = 64

type client struct {
	userID  string
	session string
	conn    *websocket.Conn
	send    chan []byte
	rooms   map[string]bool
	closed  bool
	cancel  context.CancelFunc
}

// hub tracks open streams, room membership and typing sets.
type hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	typing  map[string]map[string]bool
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		typing:  make(map[string]map[string]bool),
	}
}

// register adds a client and reports whether it is the user's first stream.
func (h *hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	first := true
	for other := range h.clients {
		if other.userID == c.userID {
			first = false
		}
	}
	h.clients[c] = struct{}{}
	return first
}

// unregister removes a client and reports whether it was the user's last
// stream. Rooms whose typing set changed are returned.
func (h *hub) unregister(c *client) (last bool, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false, nil
	}
	delete(h.clients, c)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	last = true
	for other := range h.clients {
		if other.userID == c.userID {
			last = false
		}
	}
	if last {
		for room, users := range h.typing {
			if users[c.userID] {
				delete(users, c.userID)
				rooms = append(rooms, room)
			}
		}
	}
	return last, rooms
}

func (h *hub) enqueueLocked(c *client, evt protocol.Event) {
	if c.closed {
		return
	}
	data, err := protocol.EncodeEvent(evt)
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("client send buffer full, dropping stream",
			zap.String("user_id", c.userID),
			zap.String("session_id", c.session),
		)
		c.closed = true
		close(c.send)
		c.cancel()
	}
}

func (h *hub) sendTo(c *client, evt protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(c, evt)
}

func (h *hub) broadcast(evt protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.enqueueLocked(c, evt)
	}
}

func (h *hub) broadcastRoom(room string, evt protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.rooms[room] {
			h.enqueueLocked(c, evt)
		}
	}
}

func (h *hub) sendUsers(userIDs []string, evt protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if slices.Contains(userIDs, c.userID) {
			h.enqueueLocked(c, evt)
		}
	}
}

func (h *hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.rooms[room] = true
}

func (h *hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.rooms, room)
}

// setTyping updates a room's typing set and returns the full set afterwards.
// changed is false when the call was a no-op.
func (h *hub) setTyping(room, userID string, typing bool) (users []string, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.typing[room]
	if set == nil {
		set = make(map[string]bool)
		h.typing[room] = set
	}
	if set[userID] != typing {
		changed = true
		if typing {
			set[userID] = true
		} else {
			delete(set, userID)
		}
	}
	return h.typingLocked(room), changed
}

func (h *hub) typingLocked(room string) []string {
	users := make([]string, 0, len(h.typing[room]))
	for u := range h.typing[room] {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

func (h *hub) typingSet(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.typingLocked(room)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.cancel()
	}
}

func (s *Server) handleStream(ctx *gin.Context) {
	conn, err := websocket.Accept(ctx.Writer, ctx.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("stream upgrade failed", zap.Error(err))
		return
	}

	u, ok := s.userByToken(bearer(ctx.Request))
	if !ok {
		if data, err := protocol.EncodeEvent(protocol.ConnectError{Message: "invalid or missing token"}); err == nil {
			_ = conn.Write(ctx.Request.Context(), websocket.MessageText, data)
		}
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	c := &client{
		userID:  u.ID,
		session: uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, clientSendBuffer),
		rooms:   make(map[string]bool),
		cancel:  cancel,
	}
	log := s.logger.With(zap.String("user_id", c.userID), zap.String("session_id", c.session))

	first := s.hub.register(c)
	s.hub.sendTo(c, protocol.Connected{SessionID: c.session, UserID: c.userID})
	if first {
		s.hub.broadcast(protocol.UserOnlineStatus{UserID: c.userID, Online: true})
	}
	log.Info("stream opened")

	go s.writeLoop(streamCtx, c)
	s.readLoop(streamCtx, c, log)

	cancel()
	last, rooms := s.hub.unregister(c)
	for _, room := range rooms {
		s.hub.broadcastRoom(room, protocol.UserTyping{ConversationID: room, UserIDs: s.hub.typingSet(room)})
	}
	if last {
		s.hub.broadcast(protocol.UserOnlineStatus{UserID: c.userID, Online: false})
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	log.Info("stream closed")
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *client, log *zap.Logger) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("stream read failed", zap.Error(err))
			}
			return
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			s.hub.sendTo(c, protocol.ServerError{Code: "BAD_COMMAND", Message: err.Error()})
			continue
		}
		s.dispatch(c, cmd, log)
	}
}

func (s *Server) dispatch(c *client, cmd protocol.Command, log *zap.Logger) {
	switch cmd := cmd.(type) {
	case protocol.JoinChat:
		if !s.isMember(cmd.ConversationID, c.userID) {
			s.hub.sendTo(c, protocol.ServerError{Code: "FORBIDDEN", Message: "not a member of " + cmd.ConversationID})
			return
		}
		s.hub.join(c, cmd.ConversationID)
		s.hub.broadcastRoom(cmd.ConversationID, protocol.UserJoinedChat{ConversationID: cmd.ConversationID, UserID: c.userID})

	case protocol.LeaveChat:
		s.hub.broadcastRoom(cmd.ConversationID, protocol.UserLeftChat{ConversationID: cmd.ConversationID, UserID: c.userID})
		s.hub.leave(c, cmd.ConversationID)
		if users, changed := s.hub.setTyping(cmd.ConversationID, c.userID, false); changed {
			s.hub.broadcastRoom(cmd.ConversationID, protocol.UserTyping{ConversationID: cmd.ConversationID, UserIDs: users})
		}

	case protocol.SendMessage:
		if _, err := s.appendMessage(cmd.ConversationID, c.userID, cmd.Content, cmd.ClientID); err != nil {
			s.hub.sendTo(c, protocol.ServerError{Code: "SEND_FAILED", Message: err.Error()})
			return
		}
		if users, changed := s.hub.setTyping(cmd.ConversationID, c.userID, false); changed {
			s.hub.broadcastRoom(cmd.ConversationID, protocol.UserTyping{ConversationID: cmd.ConversationID, UserIDs: users})
		}

	case protocol.MarkMessagesRead:
		if err := s.markRead(cmd.ConversationID, c.userID); err != nil {
			s.hub.sendTo(c, protocol.ServerError{Code: "READ_FAILED", Message: err.Error()})
		}

	case protocol.TypingStart:
		if users, changed := s.hub.setTyping(cmd.ConversationID, c.userID, true); changed {
			s.hub.broadcastRoom(cmd.ConversationID, protocol.UserTyping{ConversationID: cmd.ConversationID, UserIDs: users})
		}

	case protocol.TypingStop:
		if users, changed := s.hub.setTyping(cmd.ConversationID, c.userID, false); changed {
			s.hub.broadcastRoom(cmd.ConversationID, protocol.UserTyping{ConversationID: cmd.ConversationID, UserIDs: users})
		}

	default:
		log.Warn("unhandled command", zap.String("type", cmd.CommandType()))
	}
}

func (s *Server) isMember(conversationID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[conversationID]
	return ok && c.has(userID)
}
