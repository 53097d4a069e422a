package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()

	b.Emit(ConnectionStatusChanged, "connected")

	select {
	case evt := <-ch:
		if evt.Kind != ConnectionStatusChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, ConnectionStatusChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(TypingChanged, nil)
	b.Emit(MessageUpserted, nil)

	select {
	case evt := <-ch:
		if evt.Kind != MessageUpserted {
			t.Errorf("got kind %q, want %s", evt.Kind, MessageUpserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Emit(TypingChanged, nil)
	b.Emit(ConversationUpdated, nil)

	if n := len(ch); n != 2 {
		t.Errorf("buffered %d events, want 2", n)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()
	unsub()

	b.Emit(MessageUpserted, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Publish(Event{Kind: MessageUpserted, Payload: 1})
	b.Publish(Event{Kind: MessageUpserted, Payload: 2})

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
}

func TestNilBusDiscards(t *testing.T) {
	var b *Bus
	b.Emit(MessageUpserted, nil)
}
