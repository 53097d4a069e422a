package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "olá, tudo bem?", "olá, tudo bem?"},
		{"skin tone", "👍🏻", "👍"},
		{"zwj", "a\u200db", "ab"},
		{"variation selector", "❤\ufe0f", "❤"},
		{"escape sequence", "hi\x1b[2Jthere", "hi[2Jthere"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"c1 control", "a\u009bb", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForTerminal(tt.in); got != tt.want {
				t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	if got := oneLine("  a\n b\tc  "); got != "a b c" {
		t.Errorf("oneLine = %q", got)
	}
}

func TestTypingLine(t *testing.T) {
	if got := typingLine([]string{"me"}, "me"); got != "" {
		t.Errorf("self only = %q", got)
	}
	if got := typingLine([]string{"bia", "me"}, "me"); got != "bia is typing…" {
		t.Errorf("one = %q", got)
	}
	if got := typingLine([]string{"bia", "caio"}, "me"); got != "bia, caio are typing…" {
		t.Errorf("two = %q", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local)
	if got := formatTimestamp(time.Time{}, now); got != "" {
		t.Errorf("zero = %q", got)
	}
	if got := formatTimestamp(time.Date(2026, 3, 10, 9, 5, 0, 0, time.Local), now); got != "09:05" {
		t.Errorf("today = %q", got)
	}
	if got := formatTimestamp(time.Date(2026, 3, 9, 9, 5, 0, 0, time.Local), now); got != "03/09" {
		t.Errorf("yesterday = %q", got)
	}
}

func testConversations() []control.Conversation {
	return []control.Conversation{
		{ID: "c1", DisplayName: "Bia", Preview: "até amanhã", UnreadCount: 2, CounterpartID: "bia"},
		{ID: "c2", DisplayName: "Caio", Preview: "ok"},
		{ID: "c3", DisplayName: "Dora", Preview: "Bia disse oi"},
	}
}

func TestConversationListFilter(t *testing.T) {
	cl := NewConversationList(ui.DefaultTheme())
	cl.Update(testConversations(), "")

	if got := cl.ConversationByIndex(2); got != "c2" {
		t.Errorf("index 2 = %q", got)
	}
	if cl.ConversationByIndex(0) != "" || cl.ConversationByIndex(4) != "" {
		t.Error("out of range index resolved")
	}

	cl.SetFilter("bia")
	if got := cl.ConversationByIndex(1); got != "c1" {
		t.Errorf("filtered 1 = %q", got)
	}
	if got := cl.ConversationByIndex(2); got != "c3" {
		t.Errorf("filtered 2 = %q (preview match)", got)
	}
	if cl.ConversationByIndex(3) != "" {
		t.Error("filter kept a non-matching row")
	}
	if title := cl.GetTitle(); !strings.Contains(title, "(2/3)") {
		t.Errorf("title = %q", title)
	}

	cl.ClearFilter()
	if cl.Filter() != "" || cl.ConversationByIndex(3) != "c3" {
		t.Error("clear filter did not restore rows")
	}
}

func TestConversationListKeepsSelection(t *testing.T) {
	cl := NewConversationList(ui.DefaultTheme())
	cl.Update(testConversations(), "")
	cl.Select(3, 0)
	if cl.SelectedConversation() != "c3" {
		t.Fatalf("selected = %q", cl.SelectedConversation())
	}

	// c3 moves to the top after a new message.
	reordered := testConversations()
	reordered[0], reordered[2] = reordered[2], reordered[0]
	cl.Update(reordered, "cached")
	if got := cl.SelectedConversation(); got != "c3" {
		t.Errorf("selection after reorder = %q", got)
	}
	if !strings.Contains(cl.GetTitle(), "(cached)") {
		t.Errorf("title = %q", cl.GetTitle())
	}
}

func TestMessageThreadRender(t *testing.T) {
	mt := NewMessageThread(ui.DefaultTheme(), "ana")
	mt.now = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local) }
	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)

	out := mt.render(&control.History{
		HasMore: true,
		Messages: []control.Message{
			{ID: "1", SenderID: "bia", Content: "oi [red]", CreatedAt: at},
			{ID: "2", SenderID: "ana", Content: "tudo bem?", CreatedAt: at, Delivery: "sent"},
			{ClientID: "c", SenderID: "ana", Content: "alô", CreatedAt: at, Delivery: "failed", Error: "offline"},
		},
	})
	for _, want := range []string{"older messages", "bia", "You", "oi [red[]", "failed: offline"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "oi [red") > strings.Index(out, "tudo bem?") {
		t.Error("messages not in display order")
	}
}

func TestComposerTypingEdges(t *testing.T) {
	mt := NewMessageThread(ui.DefaultTheme(), "ana")
	var edges []bool
	var sent []string
	mt.SetOnTyping(func(typing bool) { edges = append(edges, typing) })
	mt.SetOnSend(func(text string) { sent = append(sent, text) })

	c := mt.Composer()
	c.SetText("o")
	c.SetText("oi")
	c.SetText("oi!")
	c.SetText("")
	c.SetText("  ")
	c.SetText("de novo")

	want := []bool{true, false, true}
	if len(edges) != len(want) {
		t.Fatalf("edges = %v", edges)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Fatalf("edges = %v", edges)
		}
	}

	mt.SetConversation("Caio")
	if len(edges) != 4 || edges[3] {
		t.Errorf("switching conversation did not stop typing: %v", edges)
	}
	if mt.Name() != "Caio" || len(sent) != 0 {
		t.Errorf("name %q sent %v", mt.Name(), sent)
	}
}

func TestSearchViewOpen(t *testing.T) {
	sv := NewSearchView(ui.DefaultTheme())
	var opened string
	sv.SetOnOpen(func(id string) { opened = id })
	sv.Update([]control.Message{{ConversationID: "c2", SenderID: "caio", Content: "ok"}})
	if got := sv.conversationAt(1); got != "c2" {
		t.Errorf("conversationAt(1) = %q", got)
	}
	if sv.conversationAt(0) != "" || sv.conversationAt(2) != "" {
		t.Error("header or missing row resolved")
	}
	if opened != "" {
		t.Error("opened without selection")
	}

	sv.SetNameFunc(func(id string) string { return "Caio" })
	sv.Update([]control.Message{{ConversationID: "c2", SenderID: "caio", Content: "ok"}})
	if got := sv.Results().GetCell(1, 0).Text; got != " Caio" {
		t.Errorf("conversation cell = %q", got)
	}
}
