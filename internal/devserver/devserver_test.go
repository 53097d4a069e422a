package devserver

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/transport"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New("", nil)
	srv.AddUser(User{ID: "ana", Name: "Ana", Role: "teacher", Token: "tok-ana"})
	srv.AddUser(User{ID: "bia", Name: "Bia", Role: "student", Token: "tok-bia"})
	srv.AddUser(User{ID: "guest", Name: "Guest", Token: "tok-guest", Unlinked: true})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.hub.closeAll()
		ts.Close()
	})
	return srv, ts
}

func TestRESTFlow(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx := context.Background()
	ana := api.New(ts.URL, api.WithTokenSource(api.StaticToken("tok-ana")))
	bia := api.New(ts.URL, api.WithTokenSource(api.StaticToken("tok-bia")))

	created, err := ana.CreateOrGetChat(ctx, api.CreateChatRequest{ParticipantID: "bia"})
	if err != nil {
		t.Fatal(err)
	}
	if !created.Created {
		t.Error("first create reported an existing chat")
	}
	chatID := string(created.Chat.ID)
	again, err := bia.CreateOrGetChat(ctx, api.CreateChatRequest{ParticipantID: "ana"})
	if err != nil {
		t.Fatal(err)
	}
	if again.Created || string(again.Chat.ID) != chatID {
		t.Errorf("second create = %+v", again)
	}

	for i := range 5 {
		if _, err := srv.Post(chatID, "bia", strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	sent, err := ana.SendMessage(ctx, chatID, "hello", "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if sent.ID == "" || sent.ClientID != "client-1" || sent.SenderID != "ana" {
		t.Errorf("sent = %+v", sent)
	}

	chats, err := ana.ListChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].UnreadCount != 5 || chats[0].LastMessage.Content != "hello" {
		t.Errorf("chats = %+v", chats)
	}

	page, err := ana.ListMessages(ctx, chatID, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 4 || !page.HasMore || page.Messages[3].Content != "hello" {
		t.Errorf("page 1 = %+v", page)
	}
	page, err = ana.ListMessages(ctx, chatID, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 2 || page.HasMore || page.Messages[0].Content != "x" {
		t.Errorf("page 2 = %+v", page)
	}

	if err := ana.MarkRead(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	chats, _ = ana.ListChats(ctx)
	if chats[0].UnreadCount != 0 {
		t.Errorf("unread after read = %d", chats[0].UnreadCount)
	}
}

func TestRESTAuth(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		token      string
		wantStatus int
		wantCode   string
	}{
		{"missing token", "", 401, "UNAUTHORIZED"},
		{"unknown token", "nope", 401, "UNAUTHORIZED"},
		{"unlinked account", "tok-guest", 403, chaterr.CodeNoAccountLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := api.New(ts.URL, api.WithTokenSource(api.StaticToken(tt.token)))
			_, err := c.ListChats(ctx)
			var reqErr *chaterr.RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("err = %v", err)
			}
			if reqErr.Status != tt.wantStatus || reqErr.Code != tt.wantCode {
				t.Errorf("status = %d code = %q", reqErr.Status, reqErr.Code)
			}
		})
	}
}

func TestSendToUnknownChat(t *testing.T) {
	_, ts := newTestServer(t)
	c := api.New(ts.URL, api.WithTokenSource(api.StaticToken("tok-ana")))
	_, err := c.SendMessage(context.Background(), "chat-404", "hi", "")
	var reqErr *chaterr.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != 400 {
		t.Errorf("err = %v", err)
	}
}

type recorder struct {
	events chan protocol.Event
}

func (r *recorder) handle(evt protocol.Event) {
	select {
	case r.events <- evt:
	default:
	}
}

// next returns the first event of type T, skipping others.
func next[T protocol.Event](t *testing.T, r *recorder) T {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-r.events:
			if v, ok := evt.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func dialStream(t *testing.T, ts *httptest.Server, token string, attempts int) (*transport.Channel, *recorder) {
	t.Helper()
	ch := transport.New(transport.Config{
		URL:                  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		Token:                token,
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		MaxReconnectAttempts: attempts,
	}, transport.WebSocketDialer{}, bus.New(), nil)
	rec := &recorder{events: make(chan protocol.Event, 128)}
	ch.SetHandler(rec.handle)
	t.Cleanup(ch.Close)
	return ch, rec
}

func TestStreamRoundTrip(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx := context.Background()
	chatID, err := srv.CreateChat("ana", "bia")
	if err != nil {
		t.Fatal(err)
	}

	ana, anaEvents := dialStream(t, ts, "tok-ana", 3)
	if err := ana.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if got := next[protocol.Connected](t, anaEvents); got.UserID != "ana" || got.SessionID == "" {
		t.Errorf("connected = %+v", got)
	}

	bia, biaEvents := dialStream(t, ts, "tok-bia", 3)
	if err := bia.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	next[protocol.Connected](t, biaEvents)
	if got := next[protocol.UserOnlineStatus](t, anaEvents); got.UserID != "bia" || !got.Online {
		t.Errorf("online = %+v", got)
	}

	if d := ana.JoinChat(ctx, chatID); d != transport.Dispatched {
		t.Fatalf("join = %v", d)
	}
	next[protocol.UserJoinedChat](t, anaEvents)
	bia.JoinChat(ctx, chatID)
	if got := next[protocol.UserJoinedChat](t, anaEvents); got.UserID != "bia" {
		t.Errorf("joined = %+v", got)
	}

	bia.StartTyping(ctx, chatID)
	if got := next[protocol.UserTyping](t, anaEvents); len(got.UserIDs) != 1 || got.UserIDs[0] != "bia" {
		t.Errorf("typing = %+v", got)
	}

	if _, err := bia.SendMessage(ctx, chatID, "oi", "c-1"); err != nil {
		t.Fatal(err)
	}
	msg := next[protocol.NewMessage](t, anaEvents).Message
	if msg.Content != "oi" || msg.ClientID != "c-1" || string(msg.SenderID) != "bia" {
		t.Errorf("message = %+v", msg)
	}
	if got := next[protocol.UserTyping](t, anaEvents); len(got.UserIDs) != 0 {
		t.Errorf("typing after send = %+v", got)
	}
	if echo := next[protocol.NewMessage](t, biaEvents).Message; echo.ClientID != "c-1" {
		t.Errorf("echo = %+v", echo)
	}

	ana.MarkRead(ctx, chatID)
	if got := next[protocol.MessagesRead](t, biaEvents); got.ReaderID != "ana" {
		t.Errorf("read = %+v", got)
	}

	bia.Close()
	if got := next[protocol.UserOnlineStatus](t, anaEvents); got.UserID != "bia" || got.Online {
		t.Errorf("offline = %+v", got)
	}
}

func TestStreamRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t)
	ch, events := dialStream(t, ts, "nope", 1)

	err := ch.Connect(context.Background())
	if !errors.Is(err, chaterr.ErrTransportUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if got := next[protocol.ConnectError](t, events); got.Message == "" {
		t.Errorf("connect error = %+v", got)
	}
}

func TestStreamJoinForeignChat(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.AddUser(User{ID: "caio", Token: "tok-caio"})
	chatID, err := srv.CreateChat("ana", "caio")
	if err != nil {
		t.Fatal(err)
	}
	bia, events := dialStream(t, ts, "tok-bia", 1)
	if err := bia.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	bia.JoinChat(context.Background(), chatID)
	if got := next[protocol.ServerError](t, events); got.Code != "FORBIDDEN" {
		t.Errorf("error = %+v", got)
	}
}
