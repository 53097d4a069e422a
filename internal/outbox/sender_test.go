package outbox

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/messages"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
)

// mockStream records dispatches and reports a fixed result.
type mockStream struct {
	mu       sync.Mutex
	dispatch transport.Dispatch
	calls    []string
}

func (m *mockStream) SendMessage(_ context.Context, conv, content, clientID string) (transport.Dispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, content)
	return m.dispatch, nil
}

// mockRest records calls and returns configurable results.
type mockRest struct {
	mu      sync.Mutex
	calls   []restCall
	err     error
	id      string
	release chan struct{}
}

type restCall struct {
	Conversation string
	Content      string
	ClientID     string
}

func (m *mockRest) SendMessage(_ context.Context, conv, content, clientID string) (*protocol.Message, error) {
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, restCall{conv, content, clientID})
	if m.err != nil {
		return nil, m.err
	}
	return &protocol.Message{
		ID:             protocol.ID(m.id),
		ConversationID: protocol.ID(conv),
		SenderID:       "me",
		Content:        content,
		CreatedAt:      time.Now(),
	}, nil
}

type typingRecorder struct {
	mu    sync.Mutex
	stops []string
}

func (r *typingRecorder) StopTyping(_ context.Context, conv string) {
	r.mu.Lock()
	r.stops = append(r.stops, conv)
	r.mu.Unlock()
}

type fixture struct {
	stream *mockStream
	rest   *mockRest
	typing *typingRecorder
	msgs   *messages.Store
	bus    *bus.Bus
	sender *Sender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		stream: &mockStream{},
		rest:   &mockRest{id: "42"},
		typing: &typingRecorder{},
		bus:    bus.New(),
	}
	f.msgs = messages.New(db, nil, "me", f.bus, nil)
	f.msgs.Open("c1")
	f.sender = NewSender(f.stream, f.rest, f.msgs, f.typing, f.bus, nil)
	return f
}

func (f *fixture) rows(t *testing.T) []store.Message {
	t.Helper()
	msgs, err := f.msgs.Messages("c1")
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func TestSendViaStream(t *testing.T) {
	f := newFixture(t)
	f.stream.dispatch = transport.Dispatched

	out, err := f.sender.Send(context.Background(), "c1", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if out.Route != ViaStream || !slices.Equal(out.Stages, []Stage{TryStream}) {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.rest.calls) != 0 {
		t.Errorf("rest called %d times", len(f.rest.calls))
	}
	if len(f.rows(t)) != 0 {
		t.Error("stream send created a local row before the echo")
	}
	if !slices.Equal(f.typing.stops, []string{"c1"}) {
		t.Errorf("typing stops = %v", f.typing.stops)
	}
}

func TestSendWhileOfflineFallsBackToRest(t *testing.T) {
	f := newFixture(t)
	f.stream.dispatch = transport.NotDispatched

	out, err := f.sender.Send(context.Background(), "c1", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if out.Route != ViaRest || !slices.Equal(out.Stages, []Stage{TryStream, TryRest}) {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.rest.calls) != 1 || f.rest.calls[0].Content != "hi" {
		t.Fatalf("rest calls = %+v", f.rest.calls)
	}

	rows := f.rows(t)
	if len(rows) != 1 || rows[0].ID != "42" || rows[0].Delivery != store.Sent {
		t.Fatalf("rows = %+v, want exactly one sent message 42", rows)
	}

	// The same message echoed on the stream afterwards.
	if _, err := f.msgs.OnLiveMessage(protocol.Message{
		ID: "42", ConversationID: "c1", SenderID: "me", Content: "hi", CreatedAt: rows[0].CreatedAt,
	}); err != nil {
		t.Fatal(err)
	}
	if rows := f.rows(t); len(rows) != 1 {
		t.Errorf("rows after duplicate event = %d, want 1", len(rows))
	}
}

func TestSendTotalFailureKeepsMessage(t *testing.T) {
	f := newFixture(t)
	f.rest.err = &chaterr.RequestError{Op: "send message", Err: errors.New("connection refused")}
	failed, unsub := f.bus.Subscribe(bus.MessageSendFailed, 4)
	defer unsub()

	out, err := f.sender.Send(context.Background(), "c1", "important")
	if !errors.Is(err, chaterr.ErrRequestFailed) {
		t.Fatalf("error = %v, want ErrRequestFailed", err)
	}
	if out == nil || out.Route != 0 || out.Stages[len(out.Stages)-1] != Failed {
		t.Fatalf("outcome = %+v", out)
	}

	rows := f.rows(t)
	if len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Delivery != store.Failed || rows[0].Content != "important" || rows[0].ClientID != out.ClientID {
		t.Errorf("failed row = %+v", rows[0])
	}
	if len(f.typing.stops) != 0 {
		t.Error("typing stopped after a failed send")
	}

	select {
	case evt := <-failed:
		if evt.Payload.(SendFailure).ClientID != out.ClientID {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no send_failed event")
	}
}

func TestRetryReplacesFailedRow(t *testing.T) {
	f := newFixture(t)
	f.rest.err = errors.New("offline")
	out, _ := f.sender.Send(context.Background(), "c1", "again")

	f.rest.err = nil
	f.rest.id = "7"
	retried, err := f.sender.Retry(context.Background(), out.ClientID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.Route != ViaRest || retried.ClientID != out.ClientID {
		t.Errorf("retry outcome = %+v", retried)
	}
	if f.rest.calls[1].ClientID != out.ClientID {
		t.Errorf("retry used client id %q", f.rest.calls[1].ClientID)
	}

	rows := f.rows(t)
	if len(rows) != 1 || rows[0].ID != "7" || rows[0].Delivery != store.Sent {
		t.Errorf("rows = %+v, want the failed row replaced by 7", rows)
	}

	if _, err := f.sender.Retry(context.Background(), out.ClientID); !errors.Is(err, chaterr.ErrInvalidArgument) {
		t.Errorf("retry of sent message error = %v", err)
	}
}

func TestRetryFailingAgainStaysFailed(t *testing.T) {
	f := newFixture(t)
	f.rest.err = errors.New("offline")
	out, _ := f.sender.Send(context.Background(), "c1", "again")

	f.rest.err = errors.New("still offline")
	if _, err := f.sender.Retry(context.Background(), out.ClientID); err == nil {
		t.Fatal("retry succeeded")
	}
	m, _ := f.msgs.Get(out.ClientID)
	if m == nil || m.Delivery != store.Failed || m.ErrorMessage != "still offline" {
		t.Errorf("row = %+v", m)
	}
	if len(f.rows(t)) != 1 {
		t.Error("retry added a row")
	}
}

func TestSendRejectsBlankAndConcurrent(t *testing.T) {
	f := newFixture(t)

	if _, err := f.sender.Send(context.Background(), "c1", "   "); !errors.Is(err, chaterr.ErrEmptyContent) {
		t.Errorf("blank error = %v", err)
	}
	if len(f.stream.calls) != 0 {
		t.Error("blank content dispatched")
	}

	f.rest.release = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.sender.Send(context.Background(), "c1", "first")
		done <- err
	}()

	// Wait for the first send to reach the REST stage.
	deadline := time.Now().Add(time.Second)
	for {
		f.stream.mu.Lock()
		n := len(f.stream.calls)
		f.stream.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first send never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := f.sender.Send(context.Background(), "c1", "second"); !errors.Is(err, chaterr.ErrEmptyContent) {
		t.Errorf("concurrent send error = %v", err)
	}
	close(f.rest.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if _, err := f.sender.Send(context.Background(), "c1", "third"); err != nil {
		t.Errorf("send after completion: %v", err)
	}
}
