package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/chatsync/internal/api"
	"nhooyr.io/websocket"
)

// baseURL is a placeholder host; every request goes to the socket.
const baseURL = "http://chatsyncd"

// Client talks to a session daemon over its Unix domain socket.
type Client struct {
	http *http.Client
}

// New returns a client for the daemon listening on socketPath. No connection
// is made until the first call.
func New(socketPath string) *Client {
	dialer := &net.Dialer{}
	return &Client{http: &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", socketPath)
			},
		},
	}}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Status returns the session summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	return call[Status](ctx, c, http.MethodGet, "/v1/status", nil)
}

// Conversations returns the conversation list, reloading it from the backend
// first when refresh is set.
func (c *Client) Conversations(ctx context.Context, refresh bool) (*ConversationList, error) {
	if refresh {
		return call[ConversationList](ctx, c, http.MethodPost, "/v1/conversations/refresh", nil)
	}
	return call[ConversationList](ctx, c, http.MethodGet, "/v1/conversations", nil)
}

// Create returns the conversation with a counterpart, creating it if needed.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	return call[CreateResult](ctx, c, http.MethodPost, "/v1/conversations", req)
}

// Open makes a conversation active and returns its newest page.
func (c *Client) Open(ctx context.Context, conversationID string) (*History, error) {
	return call[History](ctx, c, http.MethodPost, convPath(conversationID, "/open"), nil)
}

// History returns the loaded window of a conversation without fetching.
func (c *Client) History(ctx context.Context, conversationID string) (*History, error) {
	return call[History](ctx, c, http.MethodGet, convPath(conversationID, "/messages"), nil)
}

// CloseConversation leaves a conversation and clears it as active.
func (c *Client) CloseConversation(ctx context.Context, conversationID string) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodPost, convPath(conversationID, "/close"), nil)
	return err
}

// Older loads the next older page of an open conversation.
func (c *Client) Older(ctx context.Context, conversationID string) (*History, error) {
	return call[History](ctx, c, http.MethodPost, convPath(conversationID, "/older"), nil)
}

// Send sends a message.
func (c *Client) Send(ctx context.Context, conversationID, content string) (*SendResult, error) {
	return call[SendResult](ctx, c, http.MethodPost, convPath(conversationID, "/messages"), SendRequest{Content: content})
}

// MarkRead marks a conversation read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodPost, convPath(conversationID, "/read"), nil)
	return err
}

// Typing turns the local typing indicator on or off.
func (c *Client) Typing(ctx context.Context, conversationID string, typing bool) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodPost, convPath(conversationID, "/typing"), TypingRequest{Typing: typing})
	return err
}

// Retry re-sends a failed message.
func (c *Client) Retry(ctx context.Context, clientID string) (*SendResult, error) {
	return call[SendResult](ctx, c, http.MethodPost, "/v1/messages/"+url.PathEscape(clientID)+"/retry", nil)
}

// Discard drops a failed message.
func (c *Client) Discard(ctx context.Context, clientID string) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodDelete, "/v1/messages/"+url.PathEscape(clientID), nil)
	return err
}

// Search finds loaded messages containing query. An empty conversationID
// searches every conversation.
func (c *Client) Search(ctx context.Context, query, conversationID string, limit int) (*History, error) {
	q := url.Values{}
	q.Set("q", query)
	if conversationID != "" {
		q.Set("conversation", conversationID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return call[History](ctx, c, http.MethodGet, "/v1/search?"+q.Encode(), nil)
}

// Events streams engine notifications whose kind starts with prefix until
// ctx is cancelled or the daemon goes away. The channel is closed at the end.
func (c *Client) Events(ctx context.Context, prefix string) (<-chan Event, error) {
	u := "ws://chatsyncd/v1/events?prefix=" + url.QueryEscape(prefix)
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var evt Event
			if err := json.Unmarshal(data, &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func convPath(conversationID, suffix string) string {
	return "/v1/conversations/" + url.PathEscape(conversationID) + suffix
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env api.Envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if !env.Success {
		if env.Error != nil {
			return nil, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return &env.Data, nil
}
