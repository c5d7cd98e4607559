// Package notice delivers short user-facing notifications (info, success,
// warning, error) about schedule activity.
//
// Notices are the operator's view of what the engine is doing: a schedule was
// started, a reload fired, the companion could not be opened, a report could not
// be delivered. Each notice is logged, kept in a small in-memory history,
// published on the event bus and optionally printed to a console writer. The
// console printer is rate limited so a misbehaving target can't flood the
// terminal; history and bus delivery are never throttled.
package notice

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"autoreload/internal/eventbus"
	logx "autoreload/pkg/logx"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one user-facing message.
type Notice struct {
	Level      Level     `json:"level"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail,omitempty"`
	ScheduleID string    `json:"scheduleId,omitempty"`
	At         time.Time `json:"at"`
}

func (n Notice) String() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.ToUpper(string(n.Level)))
	b.WriteString("] ")
	b.WriteString(n.Title)
	if n.Detail != "" {
		b.WriteString(" - ")
		b.WriteString(n.Detail)
	}
	return b.String()
}

// Sink accepts notices. Implementations must not block.
type Sink interface {
	Notify(n Notice)
}

// Config controls the notice service.
type Config struct {
	Console    bool
	RatePerSec int
	History    int
}

// Service is the default Sink.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	out     io.Writer
	limiter *rate.Limiter

	log logx.Logger
	bus eventbus.Bus

	history []Notice
}

func New(cfg Config, out io.Writer, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{out: out, log: log.With(logx.String("comp", "notice")), bus: bus}
	s.Apply(cfg)
	return s
}

// Apply swaps config at runtime.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.History <= 0 {
		cfg.History = 200
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	if len(s.history) > cfg.History {
		s.history = append([]Notice(nil), s.history[len(s.history)-cfg.History:]...)
	}
	s.mu.Unlock()
}

func (s *Service) Notify(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}

	fields := []logx.Field{logx.String("title", n.Title)}
	if n.Detail != "" {
		fields = append(fields, logx.String("detail", n.Detail))
	}
	if n.ScheduleID != "" {
		fields = append(fields, logx.String("schedule_id", n.ScheduleID))
	}
	switch n.Level {
	case LevelError:
		s.log.Error("notice", fields...)
	case LevelWarning:
		s.log.Warn("notice", fields...)
	default:
		s.log.Debug("notice", fields...)
	}

	s.mu.Lock()
	s.history = append(s.history, n)
	if len(s.history) > s.cfg.History {
		s.history = s.history[len(s.history)-s.cfg.History:]
	}
	echo := s.cfg.Console && s.out != nil && s.limiter.Allow()
	out := s.out
	s.mu.Unlock()

	if echo {
		_, _ = fmt.Fprintf(out, "%s %s\n", n.At.Format("15:04:05"), n.String())
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotice, Time: n.At, Data: n})
	}
}

// History returns a copy of the recent notices, oldest first.
func (s *Service) History() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notice(nil), s.history...)
}

// Recorder is a Sink that only keeps notices in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *Recorder) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Count returns how many recorded notices have the given level.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Level == level {
			n++
		}
	}
	return n
}

// Discard drops every notice.
type Discard struct{}

func (Discard) Notify(Notice) {}
