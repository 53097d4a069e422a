package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session     string
	Actor       string
	State       string
	Rooms       int
	Unread      uint
	OnlineCount int
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	fg := colorName(si.theme.FgColor)
	counter := colorName(si.theme.CounterColor)
	state := colorName(si.theme.StateColor(data.State))

	actor := data.Actor
	if actor == "" {
		actor = "-"
	}

	rows := []string{
		fmt.Sprintf("[%s::b]Session:[-:-:-] [%s]%s[-]", fg, counter, tview.Escape(data.Session)),
		fmt.Sprintf("[%s::b]Actor:[-:-:-]   [%s]%s[-]", fg, counter, tview.Escape(actor)),
		fmt.Sprintf("[%s::b]Stream:[-:-:-]  [%s]%s[-]", fg, state, data.State),
		fmt.Sprintf("[%s::b]Rooms:[-:-:-]   [%s]%d[-]", fg, counter, data.Rooms),
		fmt.Sprintf("[%s::b]Unread:[-:-:-]  [%s]%d[-]", fg, counter, data.Unread),
		fmt.Sprintf("[%s::b]Online:[-:-:-]  [%s]%d[-]", fg, counter, data.OnlineCount),
	}
	_, _ = fmt.Fprint(si, strings.Join(rows, "\n"))
}
