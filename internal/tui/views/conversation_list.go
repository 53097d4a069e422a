package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []control.Conversation
	visible []control.Conversation
	filter  string
	reason  string
	online  func(userID string) bool
	now     func() time.Time
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table:  table,
		theme:  theme,
		online: func(string) bool { return false },
		now:    time.Now,
	}
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// FocusTarget implements Component.
func (cl *ConversationList) FocusTarget() tview.Primitive { return cl.Table }

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: "r", Description: "Refresh"},
		{Key: "0-9", Description: "Jump", Numeric: true},
	}
}

// SetOnlineFunc sets how the list tells whether a counterpart is online.
func (cl *ConversationList) SetOnlineFunc(fn func(userID string) bool) {
	cl.online = fn
}

// Update refreshes the list. reason is empty for a fresh list, otherwise it
// names where the rows came from.
func (cl *ConversationList) Update(convs []control.Conversation, reason string) {
	selected := cl.SelectedConversation()
	cl.convs = convs
	cl.reason = reason
	cl.render()
	cl.selectByID(selected)
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
	cl.Select(1, 0)
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.SetFilter("")
}

// Filter returns the active filter text.
func (cl *ConversationList) Filter() string {
	return cl.filter
}

func (cl *ConversationList) matches(c control.Conversation) bool {
	if cl.filter == "" {
		return true
	}
	return containsFold(c.DisplayName, cl.filter) || containsFold(c.ID, cl.filter) || containsFold(c.Preview, cl.filter)
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{"  ", 0},
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" UNREAD", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	cl.visible = cl.visible[:0]
	now := cl.now()
	for _, c := range cl.convs {
		if !cl.matches(c) {
			continue
		}
		cl.visible = append(cl.visible, c)
		row := len(cl.visible)

		fg := cl.theme.FgColor
		attr := tcell.AttrNone
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf("%d", c.UnreadCount)
			attr = tcell.AttrBold
			fg = cl.theme.CounterColor
		}
		avatar := tview.NewTableCell(" " + tview.Escape(c.Avatar)).SetTextColor(cl.theme.TitleColor)
		if c.CounterpartID != "" && cl.online(c.CounterpartID) {
			avatar.SetTextColor(cl.theme.OnlineColor)
		}
		name := c.DisplayName
		if name == "" {
			name = c.ID
		}

		cl.SetCell(row, 0, avatar)
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(oneLine(name))).SetExpansion(1).SetTextColor(fg).SetAttributes(attr))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(oneLine(c.Preview))).SetExpansion(2).SetTextColor(fg).SetMaxWidth(60))
		cl.SetCell(row, 3, tview.NewTableCell(formatTimestamp(c.LastMessageAt, now)).SetTextColor(fg).SetAlign(tview.AlignRight))
		cl.SetCell(row, 4, tview.NewTableCell(unread).SetTextColor(cl.theme.CounterColor).SetAlign(tview.AlignRight).SetAttributes(attr))
	}

	title := fmt.Sprintf(" Conversations (%d) ", len(cl.convs))
	if cl.filter != "" {
		title = fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(cl.visible), len(cl.convs), tview.Escape(cl.filter))
	}
	if cl.reason != "" {
		title += "(" + cl.reason + ") "
	}
	cl.SetTitle(title)
}

// SelectedConversation returns the id of the selected row.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	return cl.ConversationByIndex(row)
}

// ConversationByIndex returns the id of the Nth visible conversation
// (1-based), or empty.
func (cl *ConversationList) ConversationByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].ID
}

func (cl *ConversationList) selectByID(id string) {
	for i, c := range cl.visible {
		if c.ID == id {
			cl.Select(i+1, 0)
			return
		}
	}
	if len(cl.visible) > 0 {
		row, _ := cl.GetSelection()
		if row < 1 || row > len(cl.visible) {
			cl.Select(1, 0)
		}
	}
}
