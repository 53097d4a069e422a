package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

var logoArt = []string{
	"╭─╮╷ ╷╭─╮╶┬╴",
	"│  ├─┤├─┤ │ ",
	"╰─╯╵ ╵╵ ╵ ╵ ",
}

// Logo is the header mark. It takes the color of the stream state so a
// dropped connection shows on every page.
type Logo struct {
	*tview.TextView
	theme *Theme
	state string
}

// NewLogo creates the header mark in the disconnected color.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	l := &Logo{TextView: tv, theme: theme}
	l.draw()
	return l
}

// SetState redraws the mark for a connection state.
func (l *Logo) SetState(state string) {
	if state == l.state {
		return
	}
	l.state = state
	l.draw()
}

func (l *Logo) draw() {
	l.Clear()
	art := colorName(l.theme.TitleColor)
	caption := "sync"
	if l.state != "CONNECTED" {
		art = colorName(l.theme.StateColor(l.state))
		caption = strings.ToLower(l.state)
		if caption == "" {
			caption = "offline"
		}
	}
	for _, row := range logoArt {
		_, _ = fmt.Fprintf(l, "[%s::b]%s[-:-:-]\n", art, row)
	}
	_, _ = fmt.Fprintf(l, "[%s]%s[-]", colorName(l.theme.FgColor), caption)
}
