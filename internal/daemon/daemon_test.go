package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/devserver"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

type backend struct {
	srv    *devserver.Server
	ts     *httptest.Server
	chatID string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	srv := devserver.New("", nil)
	srv.AddUser(devserver.User{ID: "ana", Name: "Ana", Role: "teacher", Token: "tok-ana"})
	srv.AddUser(devserver.User{ID: "bia", Name: "Bia", Role: "student", Token: "tok-bia"})
	chatID, err := srv.CreateChat("ana", "bia")
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		ts.Close()
	})
	return &backend{srv: srv, ts: ts, chatID: chatID}
}

// useShortHome points the session tree at a short /tmp path so the Unix
// socket stays under the platform length limit.
func useShortHome(t *testing.T) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "chatsync-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("CHATSYNC_HOME", dir)
}

func testConfig(apiURL string) *config.Config {
	cfg := config.Default()
	cfg.APIBaseURL = apiURL
	cfg.Token = "tok-ana"
	cfg.ActorID = "ana"
	cfg.Reconnect.BaseDelay = config.Duration{Duration: 10 * time.Millisecond}
	cfg.Reconnect.MaxDelay = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Fallback = []config.Conversation{{ID: "support", DisplayName: "Support"}}
	return cfg
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitEvent(t *testing.T, events <-chan control.Event, kind string) control.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed before %s", kind)
			}
			if evt.Kind == kind {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestDaemonLifecycle(t *testing.T) {
	useShortHome(t)
	be := newBackend(t)
	ctx := context.Background()

	app := fxtest.New(t, Module(Params{
		SessionName: "test",
		Config:      testConfig(be.ts.URL),
		Logger:      zap.NewNop(),
	}))
	app.RequireStart()

	c := control.New(session.SocketPath("test"))
	defer func() { _ = c.Close() }()

	eventually(t, "stream connection", func() bool {
		st, err := c.Status(ctx)
		return err == nil && st.State == string(status.Connected)
	})

	// A second daemon for the same session must not start.
	if _, err := lock.Acquire(session.Dir("test")); err == nil {
		t.Error("second lock acquired while the daemon runs")
	} else {
		var held *lock.LockHeldError
		if !errors.As(err, &held) || held.PID != os.Getpid() {
			t.Errorf("lock error = %v", err)
		}
	}

	list, err := c.Conversations(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Conversations) != 1 || list.Conversations[0].DisplayName != "Bia" {
		t.Fatalf("conversations = %+v", list)
	}

	if _, err := c.Open(ctx, be.chatID); err != nil {
		t.Fatal(err)
	}
	eventually(t, "room join", func() bool {
		st, err := c.Status(ctx)
		return err == nil && len(st.Rooms) == 1
	})

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	events, err := c.Events(streamCtx, "message.")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := be.srv.Post(be.chatID, "bia", "oi, Ana"); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, events, bus.MessageUpserted)

	res, err := c.Send(ctx, be.chatID, "oi, Bia")
	if err != nil {
		t.Fatal(err)
	}
	if res.Route != "stream" || len(res.Stages) != 1 {
		t.Errorf("send = %+v", res)
	}
	eventually(t, "own echo", func() bool {
		h, err := c.Open(ctx, be.chatID)
		return err == nil && len(h.Messages) == 2
	})

	found, err := c.Search(ctx, "ana", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found.Messages) != 1 || found.Messages[0].SenderID != "bia" {
		t.Errorf("search = %+v", found.Messages)
	}

	if err := c.MarkRead(ctx, be.chatID); err != nil {
		t.Fatal(err)
	}
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalUnread != 0 || st.ActorID != "ana" || st.Session != "test" {
		t.Errorf("status = %+v", st)
	}

	app.RequireStop()
	if _, err := os.Stat(session.SocketPath("test")); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
}

func TestDaemonWithUnreachableBackend(t *testing.T) {
	useShortHome(t)
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Reconnect.MaxAttempts = 1
	ctx := context.Background()

	app := fxtest.New(t, Module(Params{SessionName: "offline", Config: cfg, Logger: zap.NewNop()}))
	app.RequireStart()
	defer app.RequireStop()

	c := control.New(session.SocketPath("offline"))
	defer func() { _ = c.Close() }()

	list, err := c.Conversations(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if list.Reason != "fallback" || len(list.Conversations) != 1 || list.Conversations[0].ID != "support" {
		t.Errorf("list = %+v", list)
	}

	res, err := c.Send(ctx, "support", "anyone there?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Route != "none" || res.Message == nil || res.Message.Delivery != "failed" {
		t.Errorf("send = %+v", res)
	}

	if err := c.Discard(ctx, res.ClientID); err != nil {
		t.Fatal(err)
	}
	if err := c.Discard(ctx, res.ClientID); err == nil {
		t.Error("second discard succeeded")
	}
}

func TestHangingBackendDoesNotBlockStart(t *testing.T) {
	useShortHome(t)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })
	ctx := context.Background()

	app := fxtest.New(t, Module(Params{SessionName: "slow", Config: testConfig(ts.URL), Logger: zap.NewNop()}))
	begin := time.Now()
	app.RequireStart()
	if took := time.Since(begin); took > 2*time.Second {
		t.Errorf("start took %v with a silent backend", took)
	}
	defer app.RequireStop()

	c := control.New(session.SocketPath("slow"))
	defer func() { _ = c.Close() }()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State == string(status.Connected) || st.Session != "slow" {
		t.Errorf("status = %+v", st)
	}
}

func TestInvalidConfigFailsStart(t *testing.T) {
	useShortHome(t)

	app := fx.New(fx.NopLogger, Module(Params{SessionName: "bad", Config: config.Default(), Logger: zap.NewNop()}))
	if app.Err() == nil {
		t.Fatal("app built without actor id and token")
	}
	if _, err := os.Stat(session.SocketPath("bad")); !os.IsNotExist(err) {
		t.Errorf("socket created for an invalid config: %v", err)
	}
}
