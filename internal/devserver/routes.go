package devserver

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/protocol"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	userKey          = "user"
)

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, api.Envelope[any]{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, api.Envelope[any]{Error: &api.APIError{Code: code, Message: message}})
}

func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chaterr.ErrInvalidArgument):
		fail(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	default:
		fail(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) authenticate(c *gin.Context) {
	u, ok := s.userByToken(bearer(c.Request))
	if !ok {
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing token")
		return
	}
	if u.Unlinked {
		fail(c, http.StatusForbidden, chaterr.CodeNoAccountLink, "user has no linked chat account")
		return
	}
	c.Set(userKey, u)
	c.Next()
}

func currentUser(c *gin.Context) *User {
	return c.MustGet(userKey).(*User)
}

func (s *Server) handleListChats(c *gin.Context) {
	u := currentUser(c)

	s.mu.Lock()
	chats := make([]api.Chat, 0, len(s.chats))
	for _, ch := range s.chats {
		if ch.has(u.ID) {
			chats = append(chats, ch.summary(u.ID))
		}
	}
	s.mu.Unlock()

	slices.SortFunc(chats, func(a, b api.Chat) int { return strings.Compare(string(a.ID), string(b.ID)) })
	respond(c, http.StatusOK, api.ChatList{Chats: chats})
}

func (s *Server) handleListMessages(c *gin.Context) {
	u := currentUser(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	page = max(page, 1)
	if limit <= 0 {
		limit = defaultPageLimit
	}
	limit = min(limit, maxPageLimit)

	s.mu.Lock()
	ch, ok := s.chats[c.Param("id")]
	if !ok || !ch.has(u.ID) {
		s.mu.Unlock()
		fail(c, http.StatusNotFound, "NOT_FOUND", "chat not found")
		return
	}
	// Page 1 is the newest slice; each page is returned oldest first.
	end := len(ch.messages) - (page-1)*limit
	start := max(end-limit, 0)
	var out []protocol.Message
	if end > 0 {
		out = slices.Clone(ch.messages[start:end])
	}
	s.mu.Unlock()

	if out == nil {
		out = []protocol.Message{}
	}
	respond(c, http.StatusOK, api.MessagePage{Messages: out, HasMore: start > 0})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	u := currentUser(c)
	var req api.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	msg, err := s.appendMessage(c.Param("id"), u.ID, req.Content, req.ClientID)
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusCreated, api.SentMessage{Message: msg})
}

func (s *Server) handleCreateChat(c *gin.Context) {
	u := currentUser(c)
	var req api.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ParticipantID == "" {
		fail(c, http.StatusBadRequest, "INVALID_ARGUMENT", "participantId is required")
		return
	}
	if req.ParticipantID == u.ID {
		fail(c, http.StatusBadRequest, "INVALID_ARGUMENT", "cannot open a chat with yourself")
		return
	}

	s.mu.Lock()
	if _, ok := s.users[req.ParticipantID]; !ok {
		s.users[req.ParticipantID] = &User{ID: req.ParticipantID, Name: req.ParticipantName, Role: req.ParticipantRole}
	}
	ch, created, err := s.createChatLocked(u.ID, req.ParticipantID)
	var out api.CreatedChat
	if err == nil {
		out = api.CreatedChat{Chat: ch.summary(u.ID), Created: created}
	}
	s.mu.Unlock()

	if err != nil {
		failErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond(c, status, out)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	u := currentUser(c)
	if err := s.markRead(c.Param("id"), u.ID); err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"conversationId": c.Param("id")})
}
