// Package keys dispatches key events to named actions, per view.
package keys

import (
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Label       string // key as shown in the menu; defaults to the rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

func (a *Action) hint() ui.MenuHint {
	label := a.Label
	if label == "" {
		label = string(a.Rune)
	}
	return ui.MenuHint{Key: label, Description: a.Description}
}

type binding struct {
	name   string
	action *Action
}

// Registry holds keybindings organized by scope. Bindings keep their
// registration order, so hints render in a stable order.
type Registry struct {
	global []binding
	views  map[string][]binding
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]binding)}
}

func put(list []binding, name string, action *Action) []binding {
	for i := range list {
		if list[i].name == name {
			list[i].action = action
			return list
		}
	}
	return append(list, binding{name: name, action: action})
}

// AddGlobal registers a global keybinding. Re-registering a name replaces it.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global = put(r.global, name, action)
}

// AddView registers a view-specific keybinding.
func (r *Registry) AddView(view, name string, action *Action) {
	r.views[view] = put(r.views[view], name, action)
}

// Hints returns the visible bindings of a view followed by the global ones.
func (r *Registry) Hints(view string) []ui.MenuHint {
	var hints []ui.MenuHint
	for _, b := range r.views[view] {
		if b.action.Visible {
			hints = append(hints, b.action.hint())
		}
	}
	for _, b := range r.global {
		if b.action.Visible {
			hints = append(hints, b.action.hint())
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the matching action of the view,
// then to the global ones. Returns true if a handler matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	for _, b := range r.views[view] {
		if b.action.Matches(ev) {
			b.action.Handler()
			return true
		}
	}
	for _, b := range r.global {
		if b.action.Matches(ev) {
			b.action.Handler()
			return true
		}
	}
	return false
}
