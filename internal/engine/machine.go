package engine

import (
	"fmt"
	"time"

	"autoreload/internal/eventbus"
	"autoreload/internal/model"
	"autoreload/internal/notice"
)

// Phase is the coarse session state. Completing is not a phase of its own: a
// firing that reaches the cap goes straight back to Idle within one Step.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	default:
		return "idle"
	}
}

// State is the whole session record. The zero value is Idle.
type State struct {
	Phase    Phase
	Schedule model.Schedule
	// Interval is the clamped interval in seconds.
	Interval  int
	Countdown int
	Runs      int
	Hidden    bool
	Armed     bool
	// Firing is set while a reload cycle's navigation is in flight. Ticks
	// are ignored until the matching FiredInput.
	Firing bool
}

func (s State) Active() bool { return s.Phase != PhaseIdle }

// Input drives Step.
type Input interface{ isInput() }

type (
	// StartInput assumes the schedule has been validated. Hidden is the
	// visibility of the host when the session starts.
	StartInput struct {
		Schedule model.Schedule
		Hidden   bool
	}
	TickInput   struct{}
	PauseInput  struct{}
	ResumeInput struct{}
	StopInput   struct{}
	HideInput   struct{}
	ShowInput   struct{}
	// FiredInput ends the reload cycle started by a FireEffect, once the
	// companion has navigated and the report has been handed to the reporter.
	FiredInput struct{}
)

func (StartInput) isInput()  {}
func (TickInput) isInput()   {}
func (PauseInput) isInput()  {}
func (ResumeInput) isInput() {}
func (StopInput) isInput()   {}
func (HideInput) isInput()   {}
func (ShowInput) isInput()   {}
func (FiredInput) isInput()  {}

// Effect is a side effect requested by Step, executed in order by the driver.
type Effect interface{ isEffect() }

type (
	ArmEffect         struct{}
	DisarmEffect      struct{}
	SubscribeEffect   struct{}
	UnsubscribeEffect struct{}
	// OpenCompanionEffect attaches the caller's window or opens one.
	OpenCompanionEffect  struct{}
	CloseCompanionEffect struct{}
	// FireEffect runs one reload cycle: navigate, then report. The driver
	// answers it with a FiredInput.
	FireEffect struct {
		ScheduleID string
		TargetURL  string
		Run        int
		At         time.Time
	}
	NotifyEffect  struct{ Notice notice.Notice }
	PublishEffect struct {
		Type string
		Data any
	}
)

func (ArmEffect) isEffect()            {}
func (DisarmEffect) isEffect()         {}
func (SubscribeEffect) isEffect()      {}
func (UnsubscribeEffect) isEffect()    {}
func (OpenCompanionEffect) isEffect()  {}
func (CloseCompanionEffect) isEffect() {}
func (FireEffect) isEffect()           {}
func (NotifyEffect) isEffect()         {}
func (PublishEffect) isEffect()        {}

// SessionEvent is the payload of engine.* bus events.
type SessionEvent struct {
	ScheduleID string
	Label      string
	Runs       int
	Countdown  int
}

const backgroundWarning = "Timers may be delayed or suspended while this process is in the background. Keep it in the foreground for accurate timing."

// Step is the pure transition function of the engine.
func Step(s State, in Input, now time.Time) (State, []Effect) {
	switch in := in.(type) {
	case StartInput:
		return start(s, in, now)
	case TickInput:
		return tick(s, now)
	case FiredInput:
		return fired(s, now)
	case PauseInput:
		if s.Phase != PhaseRunning {
			return s, nil
		}
		var fx []Effect
		if s.Armed {
			fx = append(fx, DisarmEffect{})
			s.Armed = false
		}
		s.Phase = PhasePaused
		fx = append(fx, info(s, fmt.Sprintf("Schedule %q paused.", s.Schedule.Label)), publish(eventbus.TypeSessionPaused, s))
		return s, fx
	case ResumeInput:
		if s.Phase != PhasePaused {
			return s, nil
		}
		var fx []Effect
		s.Phase = PhaseRunning
		if !s.Hidden {
			fx = append(fx, ArmEffect{})
			s.Armed = true
		}
		fx = append(fx, info(s, fmt.Sprintf("Schedule %q resumed.", s.Schedule.Label)), publish(eventbus.TypeSessionResumed, s))
		return s, fx
	case StopInput:
		return stop(s)
	case HideInput:
		if !s.Active() {
			return s, nil
		}
		s.Hidden = true
		if s.Armed {
			s.Armed = false
			return s, []Effect{DisarmEffect{}}
		}
		return s, nil
	case ShowInput:
		if !s.Active() {
			return s, nil
		}
		s.Hidden = false
		if s.Phase == PhaseRunning && !s.Armed {
			s.Armed = true
			return s, []Effect{ArmEffect{}}
		}
		return s, nil
	}
	return s, nil
}

func start(s State, in StartInput, now time.Time) (State, []Effect) {
	s, fx := stop(s)

	sch := in.Schedule
	interval := model.ClampInterval(sch.IntervalSeconds)
	sch.IntervalSeconds = interval
	sch.Status = model.StatusRunning
	s = State{
		Phase:     PhaseRunning,
		Schedule:  sch,
		Interval:  interval,
		Countdown: interval,
		Hidden:    in.Hidden,
		Armed:     !in.Hidden,
	}
	fx = append(fx, SubscribeEffect{}, OpenCompanionEffect{})
	if s.Armed {
		fx = append(fx, ArmEffect{})
	}
	fx = append(fx,
		NotifyEffect{Notice: notice.Notice{
			Level:      notice.LevelWarning,
			Title:      "Scheduler started!",
			Detail:     backgroundWarning,
			ScheduleID: sch.ID,
			At:         now,
		}},
		publish(eventbus.TypeSessionStarted, s),
	)
	return s, fx
}

func tick(s State, now time.Time) (State, []Effect) {
	if s.Phase != PhaseRunning || !s.Armed || s.Firing {
		return s, nil
	}
	if s.Countdown > 1 {
		s.Countdown--
		return s, nil
	}

	s.Countdown = 0
	s.Firing = true
	return s, []Effect{FireEffect{ScheduleID: s.Schedule.ID, TargetURL: s.Schedule.TargetURL, Run: s.Runs + 1, At: now}}
}

// fired finishes a reload cycle: count the run, then either complete the
// schedule or start the next countdown. It applies while paused or hidden too,
// since the firing itself already happened.
func fired(s State, now time.Time) (State, []Effect) {
	if !s.Active() || !s.Firing {
		return s, nil
	}
	s.Firing = false
	s.Runs++
	fx := []Effect{
		NotifyEffect{Notice: notice.Notice{
			Level:      notice.LevelSuccess,
			Title:      fmt.Sprintf("Reload triggered for %s", s.Schedule.Label),
			ScheduleID: s.Schedule.ID,
			At:         now,
		}},
		publish(eventbus.TypeReloadFired, s),
	}

	if s.Schedule.Bounded() && s.Runs >= s.Schedule.Count {
		done := s
		done.Schedule.Status = model.StatusCompleted
		fx = append(fx,
			NotifyEffect{Notice: notice.Notice{
				Level:      notice.LevelSuccess,
				Title:      fmt.Sprintf("Schedule %q completed.", s.Schedule.Label),
				ScheduleID: s.Schedule.ID,
				At:         now,
			}},
			publish(eventbus.TypeSessionComplete, done),
		)
		s, stopFx := stop(s)
		return s, append(fx, stopFx...)
	}

	s.Countdown = s.Interval
	return s, fx
}

// stop tears the session down. Stopping an idle engine does nothing.
func stop(s State) (State, []Effect) {
	if !s.Active() {
		return State{}, nil
	}
	var fx []Effect
	if s.Armed {
		fx = append(fx, DisarmEffect{})
	}
	fx = append(fx,
		UnsubscribeEffect{},
		CloseCompanionEffect{},
		info(s, fmt.Sprintf("Schedule %q stopped.", s.Schedule.Label)),
		publish(eventbus.TypeSessionStopped, s),
	)
	return State{}, fx
}

func info(s State, title string) Effect {
	return NotifyEffect{Notice: notice.Notice{Level: notice.LevelInfo, Title: title, ScheduleID: s.Schedule.ID}}
}

func publish(typ string, s State) Effect {
	return PublishEffect{Type: typ, Data: SessionEvent{
		ScheduleID: s.Schedule.ID,
		Label:      s.Schedule.Label,
		Runs:       s.Runs,
		Countdown:  s.Countdown,
	}}
}
