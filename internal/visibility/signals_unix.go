//go:build unix

package visibility

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Signals maps SIGUSR1 to Hidden and SIGUSR2 to Visible.
//
// The OS subscription is taken on the first Subscribe and released when the
// last subscriber leaves.
type Signals struct {
	manual *Manual

	mu   sync.Mutex
	refs int
	ch   chan os.Signal
	done chan struct{}
}

func NewSignals() *Signals {
	return &Signals{manual: NewManual()}
}

// State is the last state signalled; Visible until the first signal.
func (s *Signals) State() State { return s.manual.State() }

func (s *Signals) Subscribe(fn func(State)) func() {
	unsub := s.manual.Subscribe(fn)

	s.mu.Lock()
	s.refs++
	if s.refs == 1 {
		s.ch = make(chan os.Signal, 4)
		s.done = make(chan struct{})
		signal.Notify(s.ch, syscall.SIGUSR1, syscall.SIGUSR2)
		go s.loop(s.ch, s.done)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			s.mu.Lock()
			s.refs--
			if s.refs == 0 {
				signal.Stop(s.ch)
				close(s.done)
				s.ch = nil
				s.done = nil
			}
			s.mu.Unlock()
		})
	}
}

func (s *Signals) loop(ch <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig := <-ch:
			switch sig {
			case syscall.SIGUSR1:
				s.manual.Set(Hidden)
			case syscall.SIGUSR2:
				s.manual.Set(Visible)
			}
		}
	}
}
