package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel represents the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// flashTTL is how long a message of each level stays on the bar.
var flashTTL = map[FlashLevel]time.Duration{
	FlashInfo: 5 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

// FlashMessage is one notification. Repeat counts identical messages raised
// while it was still showing.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Repeat  int
	Expires time.Time
}

// FlashModel holds the current notification. It is safe for use from the
// request goroutines that report errors.
type FlashModel struct {
	mu      sync.Mutex
	current FlashMessage
	watchCh chan FlashMessage
	now     func() time.Time
}

// NewFlashModel creates an empty flash model.
func NewFlashModel() *FlashModel {
	return &FlashModel{
		watchCh: make(chan FlashMessage, 8),
		now:     time.Now,
	}
}

// Info shows an informational message.
func (f *FlashModel) Info(msg string) { f.raise(msg, FlashInfo) }

// Warn shows a warning.
func (f *FlashModel) Warn(msg string) { f.raise(msg, FlashWarn) }

// Err shows err prefixed with what failed.
func (f *FlashModel) Err(what string, err error) { f.raise(what+": "+err.Error(), FlashErr) }

func (f *FlashModel) raise(text string, level FlashLevel) {
	now := f.now()
	f.mu.Lock()
	cur := f.current
	if cur.Text == text && cur.Level == level && now.Before(cur.Expires) {
		cur.Repeat++
	} else {
		cur = FlashMessage{Text: text, Level: level, Repeat: 1}
	}
	cur.Expires = now.Add(flashTTL[level])
	f.current = cur
	f.mu.Unlock()

	// The bar also polls, so a full channel only delays the redraw.
	select {
	case f.watchCh <- cur:
	default:
	}
}

// Get returns the text of the showing message, or "".
func (f *FlashModel) Get() string {
	if m := f.GetMessage(); m != nil {
		return m.Text
	}
	return ""
}

// GetMessage returns the showing message, or nil once it expired.
func (f *FlashModel) GetMessage() *FlashMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current.Text == "" || !f.now().Before(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch delivers every raised message.
func (f *FlashModel) Watch() <-chan FlashMessage {
	return f.watchCh
}

// FlashBar is the one-line notification area under the pages.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates an empty bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

// Update shows msg, or clears the bar when msg is nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}
	colors := map[FlashLevel]string{
		FlashInfo: colorName(fb.theme.FlashInfoColor),
		FlashWarn: colorName(fb.theme.FlashWarnColor),
		FlashErr:  colorName(fb.theme.FlashErrColor),
	}
	text := tview.Escape(msg.Text)
	if msg.Repeat > 1 {
		text += fmt.Sprintf(" (x%d)", msg.Repeat)
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", colors[msg.Level], text)
}
