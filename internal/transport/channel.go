// Package transport manages the single streaming connection to the chat
// backend: handshake, reconnection with backoff, heartbeat, and the typed
// event and command flow over it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

// Dispatch reports whether a command was written to the stream. It is never
// an acknowledgment of delivery.
type Dispatch bool

const (
	NotDispatched Dispatch = false
	Dispatched    Dispatch = true
)

func (d Dispatch) String() string {
	if d {
		return "dispatched"
	}
	return "not_dispatched"
}

var errClosed = errors.New("channel closed")

// Config holds the connection parameters.
type Config struct {
	URL                  string
	Token                string
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 = unlimited
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Handler receives every inbound and synthesized event in arrival order.
type Handler func(protocol.Event)

// ConnectHook runs after each successful handshake, before the read loop
// starts. epoch identifies the connection.
type ConnectHook func(ctx context.Context, epoch uint64)

// Channel is the one logical streaming connection of a session.
type Channel struct {
	cfg     Config
	dialer  Dialer
	machine *status.Machine
	recon   *reconnector
	logger  *zap.Logger

	mu        sync.Mutex
	conn      Conn
	sessionID string
	epoch     uint64
	closing   bool
	gen       uint64 // bumped by Connect and Close; retry loops of an older gen are stale
	cancel    context.CancelFunc
	hooks     []ConnectHook

	emitMu  sync.Mutex
	handler Handler
}

// New creates a disconnected channel. A nil dialer dials WebSocket.
func New(cfg Config, dialer Dialer, b *bus.Bus, logger *zap.Logger) *Channel {
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Channel{
		cfg:     cfg,
		dialer:  dialer,
		machine: status.NewMachine(b),
		recon:   newReconnector(cfg),
		logger:  logger,
	}
}

// SetHandler installs the event handler. It must be called before Connect.
func (ch *Channel) SetHandler(h Handler) {
	ch.emitMu.Lock()
	ch.handler = h
	ch.emitMu.Unlock()
}

// OnConnect registers a hook run after every successful handshake.
func (ch *Channel) OnConnect(hook ConnectHook) {
	ch.mu.Lock()
	ch.hooks = append(ch.hooks, hook)
	ch.mu.Unlock()
}

// State returns the connection state.
func (ch *Channel) State() status.State {
	return ch.machine.Current()
}

// Connected reports whether commands can currently be dispatched.
func (ch *Channel) Connected() bool {
	return ch.machine.Is(status.Connected)
}

// SessionID returns the id assigned by the server at the last handshake.
func (ch *Channel) SessionID() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.sessionID
}

// Epoch returns the number of successful handshakes so far.
func (ch *Channel) Epoch() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.epoch
}

// Connect starts the connection. It is a no-op unless the channel is
// Disconnected. ctx bounds the lifetime of the connection and of its
// reconnect loop. A failed first attempt still schedules retries; the
// returned error wraps chaterr.ErrTransportUnavailable.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	if !ch.machine.Is(status.Disconnected) {
		ch.mu.Unlock()
		return nil
	}
	ch.closing = false
	ch.gen++
	ch.recon.reset()
	lifeCtx, cancel := context.WithCancel(ctx)
	ch.cancel = cancel
	change, err := ch.machine.Transition(status.Connecting)
	ch.mu.Unlock()
	if err != nil {
		cancel()
		return err
	}
	ch.emitStatus(change)

	if err := ch.attempt(lifeCtx); err != nil {
		ch.scheduleReconnect(lifeCtx)
		return fmt.Errorf("%w: %w", chaterr.ErrTransportUnavailable, err)
	}
	return nil
}

// Close tears the connection down intentionally. No reconnect follows.
func (ch *Channel) Close() {
	ch.mu.Lock()
	ch.closing = true
	ch.gen++
	conn := ch.conn
	ch.conn = nil
	cancel := ch.cancel
	ch.cancel = nil
	var change status.StatusChange
	var changed bool
	if !ch.machine.Is(status.Disconnected) {
		c, err := ch.machine.Transition(status.Disconnected)
		change, changed = c, err == nil
	}
	ch.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close("client disconnect")
	}
	if changed {
		ch.emitStatus(change)
	}
}

// attempt dials and performs the handshake. On success the connection is
// installed, hooks run and the read loop starts.
func (ch *Channel) attempt(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, ch.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := ch.dialer.Dial(dialCtx, ch.dialURL(), ch.header())
	if err != nil {
		ch.logger.Warn("dial failed", zap.String("url", ch.cfg.URL), zap.Error(err))
		ch.emit(protocol.TransportError{Op: "dial", Err: err})
		return err
	}

	hello, err := ch.handshake(dialCtx, conn)
	if err != nil {
		_ = conn.Close("handshake failed")
		ch.logger.Warn("handshake failed", zap.Error(err))
		ch.emit(protocol.TransportError{Op: "handshake", Err: err})
		return err
	}

	ch.mu.Lock()
	if ch.closing || ctx.Err() != nil {
		ch.mu.Unlock()
		_ = conn.Close("client disconnect")
		return errClosed
	}
	ch.conn = conn
	ch.sessionID = hello.SessionID
	ch.epoch++
	epoch := ch.epoch
	hooks := append([]ConnectHook(nil), ch.hooks...)
	change, err := ch.machine.Transition(status.Connected)
	ch.mu.Unlock()
	if err != nil {
		_ = conn.Close("invalid state")
		return err
	}

	ch.recon.markConnected()
	ch.logger.Info("connected", zap.String("session_id", hello.SessionID), zap.Uint64("epoch", epoch))
	ch.emitStatus(change)
	ch.emit(hello)

	for _, hook := range hooks {
		hook(ctx, epoch)
	}

	connCtx, cancelConn := context.WithCancel(ctx)
	go ch.readLoop(connCtx, cancelConn, conn)
	if ch.cfg.HeartbeatInterval > 0 {
		go ch.heartbeat(connCtx, conn)
	}
	return nil
}

func (ch *Channel) handshake(ctx context.Context, conn Conn) (protocol.Connected, error) {
	data, err := conn.Read(ctx)
	if err != nil {
		return protocol.Connected{}, fmt.Errorf("read handshake: %w", err)
	}
	evt, err := protocol.Decode(data)
	if err != nil {
		return protocol.Connected{}, err
	}
	switch e := evt.(type) {
	case protocol.Connected:
		return e, nil
	case protocol.ConnectError:
		ch.emit(e)
		return protocol.Connected{}, fmt.Errorf("connect rejected: %s", e.Message)
	default:
		return protocol.Connected{}, fmt.Errorf("unexpected handshake frame %T", evt)
	}
}

func (ch *Channel) readLoop(ctx context.Context, cancel context.CancelFunc, conn Conn) {
	defer cancel()
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			ch.dropped(ctx, conn, err)
			return
		}
		evt, err := protocol.Decode(data)
		if err != nil {
			ch.logger.Warn("discarding frame", zap.Error(err))
			ch.emit(protocol.TransportError{Op: "decode", Err: err})
			continue
		}
		ch.emit(evt)
		if d, ok := evt.(protocol.Disconnected); ok {
			ch.dropped(ctx, conn, fmt.Errorf("server disconnect: %s", d.Reason))
			return
		}
	}
}

func (ch *Channel) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(ch.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, ch.cfg.HeartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				ch.logger.Warn("heartbeat failed", zap.Error(err))
				_ = conn.Close("heartbeat timeout")
				return
			}
		}
	}
}

// dropped handles the loss of conn. Losses of a connection that has already
// been replaced or closed are ignored.
func (ch *Channel) dropped(ctx context.Context, conn Conn, cause error) {
	ch.mu.Lock()
	if ch.conn != conn {
		ch.mu.Unlock()
		return
	}
	ch.conn = nil
	closing := ch.closing
	ch.mu.Unlock()

	_ = conn.Close("connection lost")
	if closing || ctx.Err() != nil {
		return
	}
	ch.logger.Warn("connection lost", zap.Error(cause))
	ch.emit(protocol.TransportError{Op: "read", Err: cause})
	ch.scheduleReconnect(ctx)
}

func (ch *Channel) scheduleReconnect(ctx context.Context) {
	ch.mu.Lock()
	if ch.closing || ctx.Err() != nil {
		ch.mu.Unlock()
		return
	}
	change, err := ch.machine.Transition(status.Reconnecting)
	gen := ch.gen
	ch.mu.Unlock()
	if err != nil {
		return
	}
	ch.emitStatus(change)
	go ch.retryLoop(ctx, gen)
}

func (ch *Channel) retryLoop(ctx context.Context, gen uint64) {
	for {
		if !ch.recon.shouldReconnect() {
			ch.logger.Warn("giving up reconnecting")
			ch.giveUp(gen)
			return
		}
		attempt, delay := ch.recon.nextDelay()
		ch.logger.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			ch.giveUp(gen)
			return
		case <-timer.C:
		}

		ch.mu.Lock()
		if ch.closing || ch.gen != gen || ctx.Err() != nil {
			ch.mu.Unlock()
			return
		}
		change, err := ch.machine.Transition(status.Connecting)
		ch.mu.Unlock()
		if err != nil {
			return
		}
		ch.emitStatus(change)

		if err := ch.attempt(ctx); err == nil {
			return
		} else if errors.Is(err, errClosed) {
			return
		}

		ch.mu.Lock()
		if ch.gen != gen {
			ch.mu.Unlock()
			return
		}
		change, err = ch.machine.Transition(status.Reconnecting)
		ch.mu.Unlock()
		if err != nil {
			return
		}
		ch.emitStatus(change)
	}
}

// giveUp ends a retry loop. A loop outlived by Close or by a newer Connect
// leaves the state alone.
func (ch *Channel) giveUp(gen uint64) {
	ch.mu.Lock()
	if ch.closing || ch.gen != gen {
		ch.mu.Unlock()
		return
	}
	change, err := ch.machine.Transition(status.Disconnected)
	ch.mu.Unlock()
	if err == nil {
		ch.emitStatus(change)
	}
}

// JoinChat subscribes to a conversation room.
func (ch *Channel) JoinChat(ctx context.Context, conversationID string) Dispatch {
	return ch.dispatch(ctx, protocol.JoinChat{ConversationID: conversationID})
}

// LeaveChat unsubscribes from a conversation room.
func (ch *Channel) LeaveChat(ctx context.Context, conversationID string) Dispatch {
	return ch.dispatch(ctx, protocol.LeaveChat{ConversationID: conversationID})
}

// SendMessage dispatches a message. Blank content is rejected before
// anything is written.
func (ch *Channel) SendMessage(ctx context.Context, conversationID, content, clientID string) (Dispatch, error) {
	if strings.TrimSpace(content) == "" {
		return NotDispatched, chaterr.ErrEmptyContent
	}
	return ch.dispatch(ctx, protocol.SendMessage{
		ConversationID: conversationID,
		Content:        content,
		ClientID:       clientID,
	}), nil
}

// MarkRead is fire-and-forget; the reset is confirmed by a messages_read echo.
func (ch *Channel) MarkRead(ctx context.Context, conversationID string) Dispatch {
	return ch.dispatch(ctx, protocol.MarkMessagesRead{ConversationID: conversationID})
}

// StartTyping announces local typing in a conversation.
func (ch *Channel) StartTyping(ctx context.Context, conversationID string) Dispatch {
	return ch.dispatch(ctx, protocol.TypingStart{ConversationID: conversationID})
}

// StopTyping announces that local typing ended.
func (ch *Channel) StopTyping(ctx context.Context, conversationID string) Dispatch {
	return ch.dispatch(ctx, protocol.TypingStop{ConversationID: conversationID})
}

func (ch *Channel) dispatch(ctx context.Context, cmd protocol.Command) Dispatch {
	ch.mu.Lock()
	conn := ch.conn
	connected := ch.machine.Is(status.Connected)
	ch.mu.Unlock()
	if conn == nil || !connected {
		return NotDispatched
	}

	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		ch.logger.Error("encode command", zap.String("type", cmd.CommandType()), zap.Error(err))
		return NotDispatched
	}

	writeCtx, cancel := context.WithTimeout(ctx, ch.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, data); err != nil {
		ch.logger.Warn("write failed", zap.String("type", cmd.CommandType()), zap.Error(err))
		return NotDispatched
	}
	return Dispatched
}

func (ch *Channel) emitStatus(change status.StatusChange) {
	ch.emit(protocol.ConnectionStatus{From: change.From, To: change.To})
}

// emit delivers events one at a time. Handlers must not call Connect or
// Close; commands are safe because they never emit.
func (ch *Channel) emit(evt protocol.Event) {
	ch.emitMu.Lock()
	defer ch.emitMu.Unlock()
	if ch.handler != nil {
		ch.handler(evt)
	}
}

func (ch *Channel) dialURL() string {
	if ch.cfg.Token == "" {
		return ch.cfg.URL
	}
	u, err := url.Parse(ch.cfg.URL)
	if err != nil {
		return ch.cfg.URL
	}
	q := u.Query()
	q.Set("token", ch.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (ch *Channel) header() http.Header {
	h := http.Header{}
	if ch.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+ch.cfg.Token)
	}
	return h
}
