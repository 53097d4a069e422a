// Package devserver is an in-memory chat backend speaking the same REST and
// streaming protocol as production. It backs local development and the
// end-to-end tests.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/protocol"
	"go.uber.org/zap"
)

// User is an account known to the backend. Users without a linked account
// are rejected with NO_ACCOUNT_LINK on the REST API.
type User struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Role     string `toml:"role"`
	Token    string `toml:"token"`
	Unlinked bool   `toml:"unlinked"`
}

type chat struct {
	id           string
	participants []api.Participant
	messages     []protocol.Message
	unread       map[string]int
}

func (c *chat) has(userID string) bool {
	return slices.ContainsFunc(c.participants, func(p api.Participant) bool { return string(p.ID) == userID })
}

func (c *chat) memberIDs() []string {
	ids := make([]string, len(c.participants))
	for i, p := range c.participants {
		ids[i] = string(p.ID)
	}
	return ids
}

func (c *chat) summary(userID string) api.Chat {
	out := api.Chat{
		ID:           protocol.ID(c.id),
		Participants: slices.Clone(c.participants),
		UnreadCount:  c.unread[userID],
	}
	if n := len(c.messages); n > 0 {
		last := c.messages[n-1]
		out.LastMessage = &last
	}
	return out
}

// Server is the development backend.
type Server struct {
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
	hub    *hub

	mu       sync.Mutex
	users    map[string]*User
	tokens   map[string]string
	chats    map[string]*chat
	nextMsg  int64
	nextChat int
	now      func() time.Time
}

// New creates a backend listening on addr once Start is called.
func New(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		logger: logger,
		router: router,
		server: &http.Server{Addr: addr, Handler: router},
		hub:    newHub(logger),
		users:  make(map[string]*User),
		tokens: make(map[string]string),
		chats:  make(map[string]*chat),
		now:    time.Now,
	}
	s.registerRoutes(router)
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	group := router.Group("/api", s.authenticate)
	{
		group.GET("/chats", s.handleListChats)
		group.POST("/chats", s.handleCreateChat)
		group.GET("/chats/:id/messages", s.handleListMessages)
		group.POST("/chats/:id/messages", s.handleSendMessage)
		group.POST("/chats/:id/read", s.handleMarkRead)
	}
	router.GET("/ws", s.handleStream)
}

// Handler returns the HTTP handler, for tests that serve it themselves.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("dev backend listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down and drops every stream.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.closeAll()
	return s.server.Shutdown(ctx)
}

// AddUser registers an account.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
	if u.Token != "" {
		s.tokens[u.Token] = u.ID
	}
}

// CreateChat creates a chat between two users, or returns the existing one.
func (s *Server) CreateChat(a, b string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, _, err := s.createChatLocked(a, b)
	if err != nil {
		return "", err
	}
	return c.id, nil
}

// Post stores a message as if userID had sent it and delivers it to every
// participant's open streams.
func (s *Server) Post(conversationID, userID, content string) (protocol.Message, error) {
	return s.appendMessage(conversationID, userID, content, "")
}

func (s *Server) createChatLocked(a, b string) (*chat, bool, error) {
	ua, ok := s.users[a]
	if !ok {
		return nil, false, fmt.Errorf("unknown user %q", a)
	}
	ub, ok := s.users[b]
	if !ok {
		return nil, false, fmt.Errorf("unknown user %q", b)
	}
	for _, c := range s.chats {
		if len(c.participants) == 2 && c.has(a) && c.has(b) {
			return c, false, nil
		}
	}
	s.nextChat++
	c := &chat{
		id: fmt.Sprintf("chat-%d", s.nextChat),
		participants: []api.Participant{
			{ID: protocol.ID(ua.ID), Name: ua.Name, Role: ua.Role},
			{ID: protocol.ID(ub.ID), Name: ub.Name, Role: ub.Role},
		},
		unread: make(map[string]int),
	}
	s.chats[c.id] = c
	return c, true, nil
}

func (s *Server) appendMessage(conversationID, senderID, content, clientID string) (protocol.Message, error) {
	if strings.TrimSpace(content) == "" {
		return protocol.Message{}, chaterr.ErrEmptyContent
	}
	s.mu.Lock()
	c, ok := s.chats[conversationID]
	if !ok || !c.has(senderID) {
		s.mu.Unlock()
		return protocol.Message{}, fmt.Errorf("%w: no chat %q for %q", chaterr.ErrInvalidArgument, conversationID, senderID)
	}
	s.nextMsg++
	members := c.memberIDs()
	msg := protocol.Message{
		ID:             protocol.ID(fmt.Sprint(s.nextMsg)),
		ClientID:       clientID,
		ConversationID: protocol.ID(conversationID),
		SenderID:       protocol.ID(senderID),
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}
	c.messages = append(c.messages, msg)
	for _, p := range c.participants {
		if string(p.ID) != senderID {
			c.unread[string(p.ID)]++
		}
	}
	s.mu.Unlock()

	s.hub.sendUsers(members, protocol.NewMessage{Message: msg})
	return msg, nil
}

func (s *Server) markRead(conversationID, readerID string) error {
	s.mu.Lock()
	c, ok := s.chats[conversationID]
	if !ok || !c.has(readerID) {
		s.mu.Unlock()
		return fmt.Errorf("%w: no chat %q for %q", chaterr.ErrInvalidArgument, conversationID, readerID)
	}
	members := c.memberIDs()
	c.unread[readerID] = 0
	for i := range c.messages {
		if string(c.messages[i].SenderID) != readerID {
			c.messages[i].IsRead = true
		}
	}
	s.mu.Unlock()

	s.hub.sendUsers(members, protocol.MessagesRead{ConversationID: conversationID, ReaderID: readerID})
	return nil
}

func (s *Server) userByToken(token string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	if !ok {
		return nil, false
	}
	u := *s.users[id]
	return &u, true
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
