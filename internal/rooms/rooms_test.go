package rooms

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/transport"
)

type fakeCommander struct {
	mu        sync.Mutex
	connected bool
	epoch     uint64
	joins     []string
	leaves    []string
}

func (f *fakeCommander) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeCommander) Epoch() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

func (f *fakeCommander) JoinChat(_ context.Context, id string) transport.Dispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.NotDispatched
	}
	f.joins = append(f.joins, id)
	return transport.Dispatched
}

func (f *fakeCommander) LeaveChat(_ context.Context, id string) transport.Dispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.NotDispatched
	}
	f.leaves = append(f.leaves, id)
	return transport.Dispatched
}

// connect simulates a successful handshake followed by the on-connect hook.
func (f *fakeCommander) connect(m *Manager) {
	f.mu.Lock()
	f.connected = true
	f.epoch++
	epoch := f.epoch
	f.mu.Unlock()
	m.Replay(context.Background(), epoch)
}

func (f *fakeCommander) disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeCommander) takeJoins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.joins
	f.joins = nil
	slices.Sort(out)
	return out
}

func TestJoinWhileDisconnectedIsFlushedOnConnect(t *testing.T) {
	cmd := &fakeCommander{}
	m := New(cmd, nil, nil)
	ctx := context.Background()

	if d := m.Join(ctx, "a"); d != transport.NotDispatched {
		t.Errorf("Join offline = %s", d)
	}
	if got := cmd.takeJoins(); len(got) != 0 {
		t.Fatalf("joins while offline = %v", got)
	}

	cmd.connect(m)
	if got := cmd.takeJoins(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("joins after connect = %v, want [a]", got)
	}
}

func TestReconnectReplay(t *testing.T) {
	cmd := &fakeCommander{}
	m := New(cmd, nil, nil)
	ctx := context.Background()

	cmd.connect(m)
	m.Join(ctx, "A")
	m.Join(ctx, "B")
	if got := cmd.takeJoins(); !slices.Equal(got, []string{"A", "B"}) {
		t.Fatalf("initial joins = %v", got)
	}

	cmd.disconnect()
	cmd.connect(m)

	if got := cmd.takeJoins(); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("joins after reconnect = %v, want exactly [A B]", got)
	}
}

func TestJoinRacingReplayIsNotDuplicated(t *testing.T) {
	cmd := &fakeCommander{}
	m := New(cmd, nil, nil)
	ctx := context.Background()

	m.Join(ctx, "A")

	// Handshake completed but the hook has not run yet.
	cmd.mu.Lock()
	cmd.connected = true
	cmd.epoch = 1
	cmd.mu.Unlock()

	m.Join(ctx, "A")
	m.Replay(ctx, 1)

	if got := cmd.takeJoins(); !slices.Equal(got, []string{"A"}) {
		t.Errorf("joins = %v, want one join for A", got)
	}
}

func TestRepeatedJoinInSameEpoch(t *testing.T) {
	cmd := &fakeCommander{}
	m := New(cmd, nil, nil)
	cmd.connect(m)
	ctx := context.Background()

	m.Join(ctx, "A")
	if d := m.Join(ctx, "A"); d != transport.Dispatched {
		t.Errorf("second Join = %s", d)
	}
	if got := cmd.takeJoins(); len(got) != 1 {
		t.Errorf("joins = %v, want 1", got)
	}
}

func TestLeave(t *testing.T) {
	cmd := &fakeCommander{}
	m := New(cmd, nil, nil)
	ctx := context.Background()
	cmd.connect(m)

	m.Join(ctx, "A")
	m.Join(ctx, "B")
	m.Leave(ctx, "A")

	if got := m.Rooms(); !slices.Equal(got, []string{"B"}) {
		t.Errorf("rooms = %v", got)
	}
	if !slices.Equal(cmd.leaves, []string{"A"}) {
		t.Errorf("leaves = %v", cmd.leaves)
	}

	cmd.takeJoins()
	cmd.disconnect()
	cmd.connect(m)
	if got := cmd.takeJoins(); !slices.Equal(got, []string{"B"}) {
		t.Errorf("replayed = %v, want [B]", got)
	}

	if d := m.Leave(ctx, "unknown"); d != transport.NotDispatched {
		t.Errorf("Leave unknown = %s", d)
	}
}

func TestApplyMembershipPublishes(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("room.", 4)
	defer unsub()
	m := New(&fakeCommander{}, b, nil)

	m.ApplyMembership("c1", "u2", true)

	select {
	case evt := <-events:
		change := evt.Payload.(MembersChange)
		if change.ConversationID != "c1" || change.UserID != "u2" || !change.Joined {
			t.Errorf("payload = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("no room event")
	}
}
