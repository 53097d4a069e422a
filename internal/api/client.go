// Package api is the request/response client for the chat backend. It is the
// fallback path used when the streaming transport is unavailable, and the
// only path for history and the conversation list.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/protocol"
	"go.uber.org/zap"
)

// DefaultTimeout applies when no HTTP client is supplied.
const DefaultTimeout = 30 * time.Second

// maxBodySize bounds how much of a response is read.
const maxBodySize = 8 << 20

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that never changes.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token() string { return string(t) }

// Client talks to the chat backend's REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is the only timeout
// applied to fallback calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the logger used for request failure details.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     StaticToken(""),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListChats fetches the conversation list.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	list, err := doJSON[ChatList](ctx, c, "list chats", http.MethodGet, "/api/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	return list.Chats, nil
}

// ListMessages fetches one page of a conversation's history. Page 1 is the
// newest page.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page, limit int) (*MessagePage, error) {
	if conversationID == "" {
		return nil, chaterr.Invalid("missing conversation id")
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(max(page, 1)))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return doJSON[MessagePage](ctx, c, "list messages", http.MethodGet,
		"/api/chats/"+url.PathEscape(conversationID)+"/messages", q, nil)
}

// SendMessage persists a message through the fallback path. The returned
// message is acknowledged: it carries the server id.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, clientID string) (*protocol.Message, error) {
	if conversationID == "" {
		return nil, chaterr.Invalid("missing conversation id")
	}
	if strings.TrimSpace(content) == "" {
		return nil, chaterr.ErrEmptyContent
	}
	sent, err := doJSON[SentMessage](ctx, c, "send message", http.MethodPost,
		"/api/chats/"+url.PathEscape(conversationID)+"/messages", nil,
		SendMessageRequest{Content: content, ClientID: clientID})
	if err != nil {
		return nil, err
	}
	if sent.Message.ID == "" {
		return nil, &chaterr.RequestError{Op: "send message", Status: http.StatusOK, Message: "response message has no id"}
	}
	if sent.Message.ConversationID == "" {
		sent.Message.ConversationID = protocol.ID(conversationID)
	}
	return &sent.Message, nil
}

// CreateOrGetChat returns the chat with the participant, creating it if needed.
func (c *Client) CreateOrGetChat(ctx context.Context, req CreateChatRequest) (*CreatedChat, error) {
	if req.ParticipantID == "" {
		return nil, chaterr.Invalid("missing participant id")
	}
	return doJSON[CreatedChat](ctx, c, "create chat", http.MethodPost, "/api/chats", nil, req)
}

// MarkRead acknowledges every message in the conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return chaterr.Invalid("missing conversation id")
	}
	_, err := doJSON[json.RawMessage](ctx, c, "mark read", http.MethodPost,
		"/api/chats/"+url.PathEscape(conversationID)+"/read", nil, nil)
	return err
}

func doJSON[T any](ctx context.Context, c *Client, op, method, path string, query url.Values, body any) (*T, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("op", op), zap.String("url", u), zap.Error(err))
		return nil, &chaterr.RequestError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &chaterr.RequestError{Op: op, Status: resp.StatusCode, Err: err}
	}

	var env Envelope[T]
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || decodeErr != nil || !env.Success {
		reqErr := &chaterr.RequestError{Op: op, Status: resp.StatusCode, Err: decodeErr}
		if decodeErr == nil && env.Error != nil {
			reqErr.Code = env.Error.Code
			reqErr.Message = env.Error.Message
		}
		if reqErr.Message == "" && decodeErr == nil {
			reqErr.Message = "unsuccessful response"
		}
		c.logger.Warn("request rejected",
			zap.String("op", op),
			zap.String("url", u),
			zap.Int("status", resp.StatusCode),
			zap.String("code", reqErr.Code),
			zap.ByteString("body", truncate(data, 512)),
		)
		return nil, reqErr
	}
	return &env.Data, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
