package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows matches the header height; hints fill columns top to bottom.
const menuRows = 6

// Menu lists the key hints of the current page.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates an empty hint area.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update replaces the hints.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	_, _ = fmt.Fprint(m, renderHints(hints, colorName(m.theme.MenuKeyColor), colorName(m.theme.NumericKeyColor)))
}

func renderHints(hints []MenuHint, keyColor, numColor string) string {
	cell := 0
	for _, h := range hints {
		cell = max(cell, len(h.Key)+len(h.Description)+5)
	}
	rows := make([]strings.Builder, min(len(hints), menuRows))
	for i, h := range hints {
		color := keyColor
		if h.Numeric {
			color = numColor
		}
		row := &rows[i%menuRows]
		_, _ = fmt.Fprintf(row, "[%s::b]<%s>[-:-:-] %s", color, h.Key, h.Description)
		row.WriteString(strings.Repeat(" ", cell-len(h.Key)-len(h.Description)-3))
	}
	lines := make([]string, len(rows))
	for i := range rows {
		lines[i] = rows[i].String()
	}
	return strings.Join(lines, "\n")
}
