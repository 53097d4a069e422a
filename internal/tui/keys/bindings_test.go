package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

func TestHandleEventPrefersView(t *testing.T) {
	r := NewRegistry()
	var hit string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { hit = "global" }})
	r.AddView("thread", "quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { hit = "view" }})
	r.AddView("thread", "older", &Action{Key: tcell.KeyPgUp, Handler: func() { hit = "older" }})

	if !r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)) || hit != "view" {
		t.Errorf("thread q -> %q", hit)
	}
	if !r.HandleEvent("list", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)) || hit != "global" {
		t.Errorf("list q -> %q", hit)
	}
	if !r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyPgUp, 0, tcell.ModNone)) || hit != "older" {
		t.Errorf("thread pgup -> %q", hit)
	}
	if r.HandleEvent("list", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key handled")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("help", &Action{Key: tcell.KeyRune, Rune: '?', Description: "Help", Visible: true})
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Visible: true})
	r.AddView("list", "open", &Action{Key: tcell.KeyEnter, Label: "Enter", Description: "Open", Visible: true})
	r.AddView("list", "secret", &Action{Key: tcell.KeyRune, Rune: 'z', Description: "Hidden"})
	r.AddGlobal("help", &Action{Key: tcell.KeyRune, Rune: '?', Description: "Keys", Visible: true})

	want := []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "?", Description: "Keys"},
		{Key: "q", Description: "Quit"},
	}
	for i := 0; i < 5; i++ {
		got := r.Hints("list")
		if len(got) != len(want) {
			t.Fatalf("hints = %v", got)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("hints[%d] = %v, want %v", j, got[j], want[j])
			}
		}
	}
}
