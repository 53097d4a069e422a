package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the lifecycle state of the streaming connection.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in any of the given states.
func (m *Machine) Is(states ...State) bool {
	return slices.Contains(states, m.Current())
}

// Transition moves to a new state and publishes the change.
func (m *Machine) Transition(to State) (StatusChange, error) {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return StatusChange{}, fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	change := StatusChange{From: m.current, To: to, At: time.Now()}
	m.current = to
	m.mu.Unlock()

	m.bus.Publish(bus.Event{
		Kind:      bus.ConnectionStatusChanged,
		Timestamp: change.At,
		Payload:   change,
	})
	return change, nil
}

// StatusChange is the payload for connection status events.
type StatusChange struct {
	From State
	To   State
	At   time.Time
}
