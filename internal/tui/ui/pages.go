package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages keeps a navigation stack over tview.Pages. Only the top of the stack
// is visible and the bottom page is the root.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(stack []string)
}

// NewPages creates an empty stack.
func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// SetOnChange registers fn to receive the stack after every change.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top. If name is already stacked, the pages above it
// are dropped instead of stacking it twice.
func (p *Pages) Push(name string) {
	if i := slices.Index(p.stack, name); i >= 0 {
		p.truncate(i + 1)
	} else {
		if top := p.Current(); top != "" {
			p.HidePage(top)
		}
		p.stack = append(p.stack, name)
	}
	p.show()
}

// Pop drops the top page and returns its name. The root stays, in which
// case Pop returns "".
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.Current()
	p.truncate(len(p.stack) - 1)
	p.show()
	return top
}

// Reset makes name the only page on the stack.
func (p *Pages) Reset(name string) {
	p.truncate(0)
	p.stack = append(p.stack, name)
	p.show()
}

// Current returns the top page, or "".
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Stack returns a copy of the stack, root first.
func (p *Pages) Stack() []string {
	return slices.Clone(p.stack)
}

// Depth returns the number of stacked pages.
func (p *Pages) Depth() int {
	return len(p.stack)
}

// truncate hides and drops every page from index n up.
func (p *Pages) truncate(n int) {
	for _, name := range p.stack[n:] {
		p.HidePage(name)
	}
	p.stack = p.stack[:n]
}

func (p *Pages) show() {
	top := p.Current()
	p.ShowPage(top)
	p.SendToFront(top)
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}
