package messages

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chaterr"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/store"
)

type fakeFetcher struct {
	pages map[int]*api.MessagePage
	err   error
	calls []int
}

func (f *fakeFetcher) ListMessages(_ context.Context, _ string, page, _ int) (*api.MessagePage, error) {
	f.calls = append(f.calls, page)
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.pages[page]; ok {
		return p, nil
	}
	return &api.MessagePage{}, nil
}

func at(sec int64) time.Time {
	return time.Unix(1_700_000_000+sec, 0).UTC()
}

func wire(id, conv, sender string, sec int64) protocol.Message {
	return protocol.Message{
		ID:             protocol.ID(id),
		ConversationID: protocol.ID(conv),
		SenderID:       protocol.ID(sender),
		Content:        "m" + id,
		CreatedAt:      at(sec),
	}
}

func newTestStore(t *testing.T, f Fetcher) (*Store, *bus.Bus) {
	t.Helper()
	db, err := store.Open()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b := bus.New()
	return New(db, f, "me", b, nil), b
}

func ids(t *testing.T, s *Store, conv string) []string {
	t.Helper()
	msgs, err := s.Messages(conv)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Key()
	}
	return out
}

func TestLoadPagesAndLiveEventsStayOrdered(t *testing.T) {
	f := &fakeFetcher{pages: map[int]*api.MessagePage{
		1: {Messages: []protocol.Message{wire("3", "c1", "u2", 30), wire("4", "c1", "me", 40)}, HasMore: true},
		2: {Messages: []protocol.Message{wire("1", "c1", "u2", 10), wire("2", "c1", "u2", 20)}},
	}}
	s, _ := newTestStore(t, f)
	s.Open("c1")
	ctx := context.Background()

	more, err := s.LoadPage(ctx, "c1", 1, 2)
	if err != nil || !more {
		t.Fatalf("page 1: more=%v err=%v", more, err)
	}
	if _, err := s.OnLiveMessage(wire("5", "c1", "u2", 50)); err != nil {
		t.Fatal(err)
	}
	more, err = s.LoadPage(ctx, "c1", 2, 2)
	if err != nil || more {
		t.Fatalf("page 2: more=%v err=%v", more, err)
	}
	// A late duplicate of an already-merged message.
	if _, err := s.OnLiveMessage(wire("3", "c1", "u2", 30)); err != nil {
		t.Fatal(err)
	}

	want := []string{"1", "2", "3", "4", "5"}
	if got := ids(t, s, "c1"); !slices.Equal(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestReloadFirstPageKeepsLiveAndFailedRows(t *testing.T) {
	f := &fakeFetcher{pages: map[int]*api.MessagePage{
		1: {Messages: []protocol.Message{wire("1", "c1", "u2", 10)}},
	}}
	s, _ := newTestStore(t, f)
	s.Open("c1")
	ctx := context.Background()

	if _, err := s.LoadPage(ctx, "c1", 1, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendFailed("c1", "local-1", "unsent", errors.New("offline")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OnLiveMessage(wire("2", "c1", "u2", time.Now().Unix()-1_700_000_000+60)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadPage(ctx, "c1", 1, 10); err != nil {
		t.Fatal(err)
	}

	got := ids(t, s, "c1")
	for _, want := range []string{"1", "2", "local-1"} {
		if !slices.Contains(got, want) {
			t.Errorf("ids = %v, missing %s", got, want)
		}
	}
	if len(got) != 3 {
		t.Errorf("ids = %v, want 3 rows", got)
	}
}

func TestCatchUpMergesOrRestarts(t *testing.T) {
	f := &fakeFetcher{pages: map[int]*api.MessagePage{
		1: {Messages: []protocol.Message{wire("3", "c1", "u2", 30), wire("4", "c1", "u2", 40)}, HasMore: true},
		2: {Messages: []protocol.Message{wire("1", "c1", "u2", 10), wire("2", "c1", "u2", 20)}},
	}}
	s, _ := newTestStore(t, f)
	s.Open("c1")
	ctx := context.Background()
	for page := 1; page <= 2; page++ {
		if _, err := s.LoadPage(ctx, "c1", page, 2); err != nil {
			t.Fatal(err)
		}
	}

	restarts := 0
	restart := func(bool) { restarts++ }

	// One new message: the newest page still overlaps what is stored.
	f.pages[1] = &api.MessagePage{Messages: []protocol.Message{wire("4", "c1", "u2", 40), wire("5", "c1", "u2", 50)}, HasMore: true}
	if err := s.CatchUp(ctx, "c1", 2, restart); err != nil {
		t.Fatal(err)
	}
	if got, want := ids(t, s, "c1"), []string{"1", "2", "3", "4", "5"}; !slices.Equal(got, want) || restarts != 0 {
		t.Fatalf("ids = %v restarts = %d, want %v and none", got, restarts, want)
	}

	// A full page of new messages leaves a gap behind it.
	f.pages[1] = &api.MessagePage{Messages: []protocol.Message{wire("8", "c1", "u2", 80), wire("9", "c1", "u2", 90)}, HasMore: true}
	var more bool
	if err := s.CatchUp(ctx, "c1", 2, func(m bool) { restarts++; more = m }); err != nil {
		t.Fatal(err)
	}
	if got, want := ids(t, s, "c1"), []string{"8", "9"}; !slices.Equal(got, want) || restarts != 1 || !more {
		t.Errorf("ids = %v restarts = %d more = %v, want %v", got, restarts, more, want)
	}
}

func TestLoadPageFailure(t *testing.T) {
	f := &fakeFetcher{err: &chaterr.RequestError{Op: "list messages", Status: 500}}
	s, _ := newTestStore(t, f)

	_, err := s.LoadPage(context.Background(), "c1", 1, 10)
	if !errors.Is(err, chaterr.ErrRequestFailed) {
		t.Errorf("error = %v, want ErrRequestFailed", err)
	}
}

func TestLiveMessageForInactiveConversationIgnored(t *testing.T) {
	s, b := newTestStore(t, &fakeFetcher{})
	scroll, unsub := b.Subscribe(bus.MessageScrollToEnd, 4)
	defer unsub()
	s.Open("c1")

	applied, err := s.OnLiveMessage(wire("9", "c2", "u2", 1))
	if err != nil || applied {
		t.Fatalf("applied=%v err=%v", applied, err)
	}
	if got := ids(t, s, "c2"); len(got) != 0 {
		t.Errorf("c2 ids = %v", got)
	}

	applied, _ = s.OnLiveMessage(wire("10", "c1", "u2", 2))
	if !applied {
		t.Fatal("active conversation message not applied")
	}
	select {
	case evt := <-scroll:
		if evt.Payload != "c1" {
			t.Errorf("scroll payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no scroll_to_end event")
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t, &fakeFetcher{})
	m := wire("42", "c1", "me", 1).ToStoreMessage()

	if res, _ := s.Upsert(m); res != store.Inserted {
		t.Errorf("first upsert = %v", res)
	}
	if res, _ := s.Upsert(wire("42", "c1", "me", 1).ToStoreMessage()); res != store.Updated {
		t.Errorf("second upsert = %v", res)
	}
	if got := ids(t, s, "c1"); !slices.Equal(got, []string{"42"}) {
		t.Errorf("ids = %v", got)
	}
	if _, err := s.Upsert(&store.Message{ConversationID: "c1"}); !errors.Is(err, chaterr.ErrInvalidArgument) {
		t.Errorf("upsert without id error = %v", err)
	}
}

func TestRetryLifecycle(t *testing.T) {
	s, _ := newTestStore(t, &fakeFetcher{})

	if _, err := s.AppendFailed("c1", "cid", "hello", errors.New("offline")); err != nil {
		t.Fatal(err)
	}
	m, _ := s.Get("cid")
	if m == nil || m.Delivery != store.Failed || m.ErrorMessage != "offline" || m.SenderID != "me" {
		t.Fatalf("failed row = %+v", m)
	}

	if ok, _ := s.MarkPending("cid"); !ok {
		t.Fatal("MarkPending found no row")
	}
	if m, _ := s.Get("cid"); m.Delivery != store.Pending {
		t.Errorf("delivery = %s, want pending", m.Delivery)
	}

	acked := wire("77", "c1", "me", 5)
	acked.ClientID = "cid"
	res, err := s.Upsert(acked.ToStoreMessage())
	if err != nil || res != store.Replaced {
		t.Fatalf("upsert ack = %v, %v", res, err)
	}
	if got := ids(t, s, "c1"); !slices.Equal(got, []string{"77"}) {
		t.Errorf("ids = %v, want the local row replaced in place", got)
	}
	if ok, _ := s.MarkFailed("cid", errors.New("x")); ok {
		t.Error("MarkFailed changed an acknowledged row")
	}
}

func TestDiscardOnlyFailed(t *testing.T) {
	s, b := newTestStore(t, &fakeFetcher{})
	discarded, unsub := b.Subscribe(bus.MessageDiscarded, 4)
	defer unsub()

	_, _ = s.AppendFailed("c1", "f1", "x", nil)
	_, _ = s.AppendFailed("c1", "p1", "y", nil)
	_, _ = s.MarkPending("p1")

	if ok, err := s.Discard("p1"); ok || err != nil {
		t.Errorf("Discard pending = %v, %v", ok, err)
	}
	if ok, err := s.Discard("f1"); !ok || err != nil {
		t.Errorf("Discard failed = %v, %v", ok, err)
	}
	if ok, _ := s.Discard("missing"); ok {
		t.Error("Discard of unknown id reported true")
	}
	if got := ids(t, s, "c1"); !slices.Equal(got, []string{"p1"}) {
		t.Errorf("ids = %v", got)
	}
	select {
	case <-discarded:
	case <-time.After(time.Second):
		t.Fatal("no discard event")
	}
}

func TestMarkConversationRead(t *testing.T) {
	s, _ := newTestStore(t, &fakeFetcher{})
	for _, id := range []string{"1", "2"} {
		if _, err := s.Upsert(wire(id, "c1", "me", 1).ToStoreMessage()); err != nil {
			t.Fatal(err)
		}
	}

	if n, _ := s.MarkConversationRead("c1", "me"); n != 0 {
		t.Errorf("own receipt marked %d", n)
	}
	if n, _ := s.MarkConversationRead("c1", "u2"); n != 2 {
		t.Errorf("marked = %d, want 2", n)
	}
	msgs, _ := s.Messages("c1")
	for _, m := range msgs {
		if !m.IsRead {
			t.Errorf("message %s not read", m.ID)
		}
	}
}

func TestOpenAndCloseActive(t *testing.T) {
	s, _ := newTestStore(t, &fakeFetcher{})
	s.Open("c1")
	s.CloseActive("c2")
	if s.Active() != "c1" {
		t.Errorf("active = %q", s.Active())
	}
	s.CloseActive("c1")
	if s.Active() != "" {
		t.Errorf("active = %q after close", s.Active())
	}
}

func TestSearch(t *testing.T) {
	s, _ := newTestStore(t, &fakeFetcher{})
	if _, err := s.Upsert(&store.Message{ID: "1", ConversationID: "c1", Content: "see you at noon", CreatedAt: at(1)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Search("NOON", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("results = %+v", got)
	}
	if _, err := s.Search("  ", "", 10); !errors.Is(err, chaterr.ErrInvalidArgument) {
		t.Errorf("blank query error = %v", err)
	}
}
