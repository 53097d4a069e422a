package ui

import (
	"strings"

	"github.com/rivo/tview"
)

const maxCrumbRunes = 24

// Crumbs shows the page stack as a trail; the last crumb is highlighted.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates an empty trail.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &Crumbs{TextView: tv, theme: theme}
}

// Update renders names root first. Conversation names come from the
// backend, so every crumb is escaped and shortened.
func (c *Crumbs) Update(names []string) {
	c.Clear()
	var b strings.Builder
	for i, name := range names {
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(names)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		if i > 0 {
			b.WriteString(" > ")
		}
		b.WriteString("[" + colorName(fg) + ":" + colorName(bg) + ":" + attr + "] ")
		b.WriteString(tview.Escape(truncate(name, maxCrumbRunes)))
		b.WriteString(" [-:-:-]")
	}
	_, _ = c.Write([]byte(b.String()))
}
