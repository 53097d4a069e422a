package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays messages and a composer for a single conversation.
type MessageThread struct {
	*tview.Flex
	theme     *ui.Theme
	messages  *tview.TextView
	typing    *tview.TextView
	composer  *tview.InputField
	title     string
	self      string
	composing bool
	onSend    func(text string)
	onTyping  func(typing bool)
	now       func() time.Time
}

// NewMessageThread creates a new message thread view. self is the local
// user's id, rendered as "You".
func NewMessageThread(theme *ui.Theme, self string) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	typing := tview.NewTextView().
		SetDynamicColors(true)
	typing.SetBackgroundColor(theme.BgColor)
	typing.SetTextColor(theme.TypingColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(typing, 1, 0, false).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		typing:   typing,
		composer: composer,
		self:     self,
		now:      time.Now,
	}

	composer.SetChangedFunc(func(text string) {
		mt.setComposing(strings.TrimSpace(text) != "")
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(composer.GetText())
		if text == "" {
			return
		}
		composer.SetText("")
		if mt.onSend != nil {
			mt.onSend(text)
		}
	})

	return mt
}

// setComposing reports typing on the edges only, so holding a key down
// does not flood the daemon.
func (mt *MessageThread) setComposing(composing bool) {
	if composing == mt.composing {
		return
	}
	mt.composing = composing
	if mt.onTyping != nil {
		mt.onTyping(composing)
	}
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// FocusTarget implements Component.
func (mt *MessageThread) FocusTarget() tview.Primitive { return mt.messages }

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "o", Description: "Older"},
		{Key: "R", Description: "Retry failed"},
		{Key: "D", Description: "Discard failed"},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetConversation resets the view for another conversation.
func (mt *MessageThread) SetConversation(title string) {
	mt.title = title
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(oneLine(title))))
	mt.messages.Clear()
	mt.typing.Clear()
	mt.composer.SetText("")
	mt.composing = false
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnTyping sets the callback for composer typing edges.
func (mt *MessageThread) SetOnTyping(fn func(typing bool)) {
	mt.onTyping = fn
}

// Update renders the conversation window, oldest first.
func (mt *MessageThread) Update(h *control.History) {
	mt.messages.Clear()
	if h == nil {
		return
	}
	_, _ = fmt.Fprint(mt.messages, mt.render(h))
	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) render(h *control.History) string {
	var b strings.Builder
	dim := colorName(mt.theme.PendingColor)
	if h.HasMore {
		fmt.Fprintf(&b, "[%s]  ── older messages: press o ──[-]\n\n", dim)
	}
	now := mt.now()
	for _, m := range h.Messages {
		sender := tview.Escape(sanitizeForTerminal(m.SenderID))
		color := colorName(mt.theme.FgColor)
		if m.SenderID == mt.self || (m.ID == "" && m.ClientID != "") {
			sender = "You"
			color = colorName(mt.theme.OwnMessageColor)
		}
		status := ""
		switch m.Delivery {
		case "pending":
			status = fmt.Sprintf(" [%s]sending…[-]", dim)
		case "failed":
			status = fmt.Sprintf(" [%s]failed: %s (R to retry, D to discard)[-]",
				colorName(mt.theme.FlashErrColor), tview.Escape(oneLine(m.Error)))
		}
		fmt.Fprintf(&b, "[%s::b]%s[-:-:-] [%s]%s[-]%s\n%s\n\n",
			color, sender, dim, formatTimestamp(m.CreatedAt, now), status,
			tview.Escape(sanitizeForTerminal(m.Content)))
	}
	return b.String()
}

// SetTyping shows who else is typing.
func (mt *MessageThread) SetTyping(users []string) {
	mt.typing.Clear()
	if line := typingLine(users, mt.self); line != "" {
		_, _ = fmt.Fprintf(mt.typing, " %s", tview.Escape(line))
	}
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

func colorName(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
