package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// SearchView queries the messages the daemon has loaded and jumps to the
// conversation of a hit.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	hits    []control.Message
	nameOf  func(conversationID string) string
	onQuery func(query string)
	onOpen  func(conversationID string)
}

// NewSearchView creates an empty search page.
func NewSearchView(theme *ui.Theme) *SearchView {
	sv := &SearchView{
		theme:  theme,
		nameOf: func(id string) string { return id },
	}

	sv.input = tview.NewInputField().
		SetLabel(" / ").
		SetPlaceholder("text to find in loaded messages").
		SetFieldWidth(0)
	sv.input.SetBackgroundColor(theme.BgColor)
	sv.input.SetFieldBackgroundColor(theme.BgColor)
	sv.input.SetFieldTextColor(theme.FgColor)
	sv.input.SetLabelColor(theme.MenuKeyColor)
	sv.input.SetDoneFunc(func(key tcell.Key) {
		q := sv.input.GetText()
		if key == tcell.KeyEnter && q != "" && sv.onQuery != nil {
			sv.onQuery(q)
		}
	})

	sv.results = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	sv.results.SetBorder(true).
		SetBorderColor(theme.BorderColor).
		SetTitleColor(theme.TitleColor).
		SetBackgroundColor(theme.BgColor)
	sv.results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	sv.results.SetSelectedFunc(func(row, _ int) {
		if id := sv.conversationAt(row); id != "" && sv.onOpen != nil {
			sv.onOpen(id)
		}
	})
	sv.setTitle(0)

	sv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(sv.input, 1, 0, true).
		AddItem(sv.results, 0, 1, false)
	return sv
}

// Name implements Component.
func (sv *SearchView) Name() string { return "Search" }

// FocusTarget implements Component.
func (sv *SearchView) FocusTarget() tview.Primitive { return sv.input }

// Hints implements Component.
func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Search/Open"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetOnQuery sets the callback for a submitted query.
func (sv *SearchView) SetOnQuery(fn func(query string)) { sv.onQuery = fn }

// SetOnOpen sets the callback for a chosen hit.
func (sv *SearchView) SetOnOpen(fn func(conversationID string)) { sv.onOpen = fn }

// SetNameFunc resolves conversation ids to display names in the hit list.
func (sv *SearchView) SetNameFunc(fn func(conversationID string) string) { sv.nameOf = fn }

// SetQuery fills the input, for searches started from the command prompt.
func (sv *SearchView) SetQuery(q string) { sv.input.SetText(q) }

// Results returns the hit table, to move focus to it after a search.
func (sv *SearchView) Results() *tview.Table { return sv.results }

// Update shows a new set of hits, newest first as the daemon returns them.
func (sv *SearchView) Update(hits []control.Message) {
	sv.hits = hits
	sv.results.Clear()
	sv.setTitle(len(hits))

	for col, h := range []string{" CONVERSATION", " FROM", " MESSAGE", " TIME"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}

	now := time.Now()
	for i, m := range hits {
		cells := []*tview.TableCell{
			tview.NewTableCell(" " + tview.Escape(sv.nameOf(m.ConversationID))).SetMaxWidth(25),
			tview.NewTableCell(" " + tview.Escape(m.SenderID)).SetMaxWidth(16),
			tview.NewTableCell(" " + tview.Escape(oneLine(m.Content))).SetExpansion(1),
			tview.NewTableCell(" " + formatTimestamp(m.CreatedAt, now)).SetMaxWidth(12),
		}
		for col, c := range cells {
			sv.results.SetCell(i+1, col, c.SetTextColor(sv.theme.FgColor))
		}
	}
	if len(hits) > 0 {
		sv.results.Select(1, 0)
	}
}

func (sv *SearchView) setTitle(n int) {
	sv.results.SetTitle(fmt.Sprintf(" Results [%s](%d)[-] ", colorName(sv.theme.CounterColor), n))
}

func (sv *SearchView) conversationAt(row int) string {
	if row < 1 || row > len(sv.hits) {
		return ""
	}
	return sv.hits[row-1].ConversationID
}
