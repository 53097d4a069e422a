package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// FocusTarget implements Component.
func (ci *ConversationInfo) FocusTarget() tview.Primitive { return ci.TextView }

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

// Update renders conversation details.
func (ci *ConversationInfo) Update(c control.Conversation, online bool, typing []string) {
	ci.Clear()

	fg := colorName(ci.theme.FgColor)
	ct := colorName(ci.theme.CounterColor)

	presence := "offline"
	if online {
		presence = fmt.Sprintf("[%s]online[-]", colorName(ci.theme.OnlineColor))
	}
	lastActive := formatTimestamp(c.LastMessageAt, time.Now())
	if lastActive == "" {
		lastActive = "-"
	}
	role := c.CounterpartRole
	if role == "" {
		role = "-"
	}
	typers := "-"
	if len(typing) > 0 {
		typers = strings.Join(typing, ", ")
	}

	rows := []struct{ label, value string }{
		{"Name", tview.Escape(oneLine(c.DisplayName))},
		{"ID", tview.Escape(c.ID)},
		{"With", tview.Escape(c.CounterpartID)},
		{"Role", tview.Escape(role) + " " + tview.Escape(c.Avatar)},
		{"Presence", presence},
		{"Typing", tview.Escape(typers)},
		{"Unread", fmt.Sprintf("%d", c.UnreadCount)},
		{"Last Active", lastActive},
		{"Last Message", tview.Escape(oneLine(c.Preview))},
	}
	var b strings.Builder
	b.WriteString("\n")
	for _, r := range rows {
		fmt.Fprintf(&b, " [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, r.label+":", ct, r.value)
	}
	_, _ = fmt.Fprint(ci, b.String())
	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(oneLine(c.DisplayName))))
}
