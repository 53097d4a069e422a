package ui

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rivo/tview"
)

func newTestPages(names ...string) *Pages {
	p := NewPages()
	for _, n := range names {
		p.AddPage(n, tview.NewBox(), true, false)
	}
	return p
}

func TestPagesPushPop(t *testing.T) {
	p := newTestPages("list", "thread", "info")
	var seen [][]string
	p.SetOnChange(func(stack []string) { seen = append(seen, stack) })

	p.Reset("list")
	p.Push("thread")
	p.Push("info")
	if got := p.Stack(); !slices.Equal(got, []string{"list", "thread", "info"}) {
		t.Fatalf("stack = %v", got)
	}
	if front, _ := p.GetFrontPage(); front != "info" {
		t.Errorf("front = %q", front)
	}

	if popped := p.Pop(); popped != "info" || p.Current() != "thread" {
		t.Errorf("Pop() = %q, current %q", popped, p.Current())
	}
	p.Pop()
	if popped := p.Pop(); popped != "" || p.Depth() != 1 {
		t.Errorf("root popped: %q depth %d", popped, p.Depth())
	}
	if len(seen) != 5 {
		t.Errorf("onChange fired %d times", len(seen))
	}
}

func TestPagesPushExistingUnwinds(t *testing.T) {
	p := newTestPages("list", "thread", "info")
	p.Reset("list")
	p.Push("thread")
	p.Push("info")
	p.Push("thread")
	if got := p.Stack(); !slices.Equal(got, []string{"list", "thread"}) {
		t.Errorf("stack = %v", got)
	}
	if !p.HasPage("info") {
		t.Errorf("page removed instead of hidden")
	}
}

func TestPromptHistory(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	var got []string
	p.SetOnSubmit(func(mode PromptMode, text string) { got = append(got, text) })
	cancelled := 0
	p.SetOnCancel(func() { cancelled++ })

	p.Activate(PromptCommand)
	p.submit("search hi")
	p.submit("search hi")
	p.submit("open c1")
	p.submit("")

	if !slices.Equal(got, []string{"search hi", "search hi", "open c1"}) {
		t.Errorf("submitted = %v", got)
	}
	if cancelled != 1 {
		t.Errorf("cancelled = %d", cancelled)
	}
	if h := p.History(); !slices.Equal(h, []string{"search hi", "open c1"}) {
		t.Errorf("history = %v", h)
	}

	p.recall(-1)
	if p.GetText() != "open c1" {
		t.Errorf("recall -1 = %q", p.GetText())
	}
	p.recall(-1)
	p.recall(-1)
	if p.GetText() != "search hi" {
		t.Errorf("recall past start = %q", p.GetText())
	}
	p.recall(1)
	p.recall(1)
	if p.GetText() != "" {
		t.Errorf("recall to end = %q", p.GetText())
	}

	p.Activate(PromptFilter)
	p.submit("bia")
	if len(p.History()) != 2 {
		t.Error("filter text stored in command history")
	}
}

func TestFlashExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	f := NewFlashModel()
	f.now = func() time.Time { return now }

	if f.GetMessage() != nil {
		t.Fatal("fresh model has a message")
	}
	f.Err("send", errors.New("offline"))
	m := f.GetMessage()
	if m == nil || m.Level != FlashErr || m.Text != "send: offline" {
		t.Fatalf("message = %+v", m)
	}
	select {
	case w := <-f.Watch():
		if w.Text != "send: offline" {
			t.Errorf("watched %q", w.Text)
		}
	default:
		t.Error("nothing on watch channel")
	}

	now = now.Add(11 * time.Second)
	if f.Get() != "" {
		t.Errorf("expired message still shown: %q", f.Get())
	}
}

func TestFlashRepeat(t *testing.T) {
	now := time.Unix(1000, 0)
	f := NewFlashModel()
	f.now = func() time.Time { return now }

	f.Warn("Still not delivered")
	now = now.Add(2 * time.Second)
	f.Warn("Still not delivered")
	if m := f.GetMessage(); m == nil || m.Repeat != 2 {
		t.Fatalf("message = %+v", m)
	}
	// The repeat pushed the expiry out.
	now = now.Add(7 * time.Second)
	if f.GetMessage() == nil {
		t.Fatal("repeated warning expired early")
	}

	f.Info("Still not delivered")
	if m := f.GetMessage(); m.Repeat != 1 || m.Level != FlashInfo {
		t.Errorf("level change kept count: %+v", m)
	}
}

func TestLogoFollowsState(t *testing.T) {
	l := NewLogo(DefaultTheme())
	if !strings.Contains(l.GetText(true), "offline") {
		t.Errorf("initial caption = %q", l.GetText(true))
	}
	l.SetState("RECONNECTING")
	if !strings.Contains(l.GetText(true), "reconnecting") {
		t.Errorf("caption = %q", l.GetText(true))
	}
	l.SetState("CONNECTED")
	if text := l.GetText(true); !strings.HasSuffix(text, "sync") {
		t.Errorf("caption = %q", text)
	}
}

func TestRenderHintsColumns(t *testing.T) {
	hints := make([]MenuHint, 8)
	for i := range hints {
		hints[i] = MenuHint{Key: "k", Description: "d"}
	}
	out := renderHints(hints, "blue", "pink")
	lines := strings.Split(out, "\n")
	if len(lines) != menuRows {
		t.Fatalf("lines = %d", len(lines))
	}
	if strings.Count(lines[0], "<k>") != 2 || strings.Count(lines[5], "<k>") != 1 {
		t.Errorf("unexpected layout:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Ana", 24); got != "Ana" {
		t.Errorf("short = %q", got)
	}
	if got := truncate("ãããããã", 4); got != "ããã…" {
		t.Errorf("long = %q", got)
	}
}
