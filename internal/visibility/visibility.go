// Package visibility reports whether the hosting context is in the foreground.
//
// Timers in a backgrounded context run late or not at all, so the engine
// suspends its countdown while hidden. Sources of the signal are pluggable:
//   - Manual: driven programmatically (tests, embedding applications)
//   - Signals: SIGUSR1 = hidden, SIGUSR2 = visible (unix only)
//   - FileFlag: hidden while a flag file exists (watched with fsnotify)
//   - None: never changes
package visibility

import (
	"sync"
)

type State int

const (
	Visible State = iota
	Hidden
)

func (s State) String() string {
	if s == Hidden {
		return "hidden"
	}
	return "visible"
}

// Signal delivers visibility transitions to subscribers.
//
// Subscribe returns an unsubscribe func that is safe to call more than once.
// Handlers may be called from any goroutine and must not block for long.
// Handlers only see changes, so State is read to seed a new session.
type Signal interface {
	State() State
	Subscribe(fn func(State)) (unsubscribe func())
}

// Manual is a Signal driven by Set.
type Manual struct {
	mu    sync.Mutex
	state State
	seq   uint64
	subs  map[uint64]func(State)
}

func NewManual() *Manual {
	return &Manual{subs: map[uint64]func(State){}}
}

func (m *Manual) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	if m.subs == nil {
		m.subs = map[uint64]func(State){}
	}
	m.seq++
	id := m.seq
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Set records the new state and notifies subscribers if it changed.
func (m *Manual) Set(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (m *Manual) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribers returns the number of live subscriptions.
func (m *Manual) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// None never reports a transition.
type None struct{}

func (None) State() State                 { return Visible }
func (None) Subscribe(func(State)) func() { return func() {} }
