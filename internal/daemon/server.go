package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/session"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Server serves the control API for a session daemon.
type Server struct {
	httpServer  *http.Server
	listener    net.Listener
	socketPath  string
	sessionName string
	engine      *intsync.Engine
	logger      *zap.Logger
	done        chan struct{}
}

// NewServer creates a control server bound to the session's Unix domain socket.
func NewServer(p Params, engine *intsync.Engine, logger *zap.Logger) (*Server, error) {
	sessionName := p.SessionName
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(sessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:    listener,
		socketPath:  socketPath,
		sessionName: sessionName,
		engine:      engine,
		logger:      logger,
		done:        make(chan struct{}),
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	s.httpServer = &http.Server{Handler: router}
	return s, nil
}

func (s *Server) registerRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/conversations", s.handleConversations)
		v1.POST("/conversations", s.handleCreate)
		v1.POST("/conversations/refresh", s.handleRefresh)
		v1.POST("/conversations/:id/open", s.handleOpen)
		v1.POST("/conversations/:id/close", s.handleClose)
		v1.POST("/conversations/:id/older", s.handleOlder)
		v1.GET("/conversations/:id/messages", s.handleHistory)
		v1.POST("/conversations/:id/messages", s.handleSend)
		v1.POST("/conversations/:id/read", s.handleRead)
		v1.POST("/conversations/:id/typing", s.handleTyping)
		v1.POST("/messages/:clientId/retry", s.handleRetry)
		v1.DELETE("/messages/:clientId", s.handleDiscard)
		v1.GET("/search", s.handleSearch)
		v1.GET("/events", s.handleEvents)
	}
}

// Start begins serving control requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	close(s.done)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("control server shutdown", zap.Error(err))
	}
	_ = os.Remove(s.socketPath)
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, api.Envelope[any]{Success: true, Data: data})
}

func fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, chaterr.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, chaterr.ErrNoAccountLink):
		status, code = http.StatusForbidden, chaterr.CodeNoAccountLink
	case errors.Is(err, chaterr.ErrRequestFailed):
		status, code = http.StatusBadGateway, "REQUEST_FAILED"
	case errors.Is(err, chaterr.ErrTransportUnavailable):
		status, code = http.StatusServiceUnavailable, "TRANSPORT_UNAVAILABLE"
	}
	c.AbortWithStatusJSON(status, api.Envelope[any]{Error: &api.APIError{Code: code, Message: err.Error()}})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, control.Status{
		Session:     s.sessionName,
		State:       string(snap.State),
		SessionID:   snap.SessionID,
		ActorID:     snap.ActorID,
		Rooms:       snap.Rooms,
		TotalUnread: snap.TotalUnread,
		Active:      snap.Active,
		LocalTyping: snap.LocalTyping,
		Typing:      snap.Typing,
		Online:      snap.Online,
	})
}

func (s *Server) handleConversations(c *gin.Context) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, control.ConversationList{Conversations: control.FromConversations(snap.Conversations), Reason: "local"})
}

func (s *Server) handleRefresh(c *gin.Context) {
	res, err := s.engine.Refresh(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	out := control.ConversationList{
		Conversations: control.FromConversations(res.Conversations),
		Reason:        string(res.Reason),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	ok(c, out)
}

func (s *Server) handleCreate(c *gin.Context) {
	var req control.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, chaterr.Invalid("%v", err))
		return
	}
	conv, created, err := s.engine.CreateOrGet(c.Request.Context(), req.CounterpartID, req.DisplayName, req.Role)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, control.CreateResult{Conversation: control.FromConversation(*conv), Created: created})
}

func (s *Server) history(c *gin.Context, conversationID string) {
	msgs, err := s.engine.Messages(conversationID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, control.History{
		ConversationID: conversationID,
		Messages:       control.FromMessages(msgs),
		HasMore:        s.engine.HasMore(conversationID),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	s.history(c, c.Param("id"))
}

func (s *Server) handleOpen(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.OpenConversation(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	s.history(c, id)
}

func (s *Server) handleOlder(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.LoadOlder(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	s.history(c, id)
}

func (s *Server) handleClose(c *gin.Context) {
	s.engine.CloseConversation(c.Request.Context(), c.Param("id"))
	ok(c, gin.H{})
}

func sendResult(out *outbox.Outcome) control.SendResult {
	res := control.SendResult{ClientID: out.ClientID, Route: out.Route.String()}
	for _, st := range out.Stages {
		res.Stages = append(res.Stages, st.String())
	}
	if out.Message != nil {
		m := control.FromMessage(*out.Message)
		res.Message = &m
	}
	return res
}

func (s *Server) handleSend(c *gin.Context) {
	var req control.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, chaterr.Invalid("%v", err))
		return
	}
	out, err := s.engine.Send(c.Request.Context(), c.Param("id"), req.Content)
	if out == nil {
		fail(c, err)
		return
	}
	// A failed send still yields a stored Failed message the caller can retry.
	ok(c, sendResult(out))
}

func (s *Server) handleRetry(c *gin.Context) {
	out, err := s.engine.Retry(c.Request.Context(), c.Param("clientId"))
	if out == nil {
		fail(c, err)
		return
	}
	ok(c, sendResult(out))
}

func (s *Server) handleDiscard(c *gin.Context) {
	removed, err := s.engine.Discard(c.Param("clientId"))
	if err != nil {
		fail(c, err)
		return
	}
	if !removed {
		fail(c, chaterr.Invalid("no failed message with client id %q", c.Param("clientId")))
		return
	}
	ok(c, gin.H{})
}

func (s *Server) handleRead(c *gin.Context) {
	if err := s.engine.MarkAsRead(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{})
}

func (s *Server) handleTyping(c *gin.Context) {
	var req control.TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, chaterr.Invalid("%v", err))
		return
	}
	if req.Typing {
		s.engine.StartTyping(c.Request.Context(), c.Param("id"))
	} else {
		s.engine.StopTyping(c.Request.Context(), c.Param("id"))
	}
	ok(c, gin.H{})
}

func (s *Server) handleSearch(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	msgs, err := s.engine.Search(c.Query("q"), c.Query("conversation"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, control.History{ConversationID: c.Query("conversation"), Messages: control.FromMessages(msgs)})
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	events, cancel := s.engine.Subscribe(c.Query("prefix"), 256)
	defer cancel()
	ctx := conn.CloseRead(c.Request.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case evt := <-events:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.logger.Debug("skipping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			data, err := json.Marshal(control.Event{Kind: evt.Kind, Timestamp: evt.Timestamp, Payload: payload})
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
