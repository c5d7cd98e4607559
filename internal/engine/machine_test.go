package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreload/internal/eventbus"
	"autoreload/internal/model"
)

func sched(interval, count int) model.Schedule {
	return model.Schedule{ID: "s1", Label: "demo", TargetURL: "https://example.com/", IntervalSeconds: interval, Count: count}
}

func effectTypes(fx []Effect) []string {
	out := make([]string, 0, len(fx))
	for _, f := range fx {
		switch f := f.(type) {
		case ArmEffect:
			out = append(out, "arm")
		case DisarmEffect:
			out = append(out, "disarm")
		case SubscribeEffect:
			out = append(out, "subscribe")
		case UnsubscribeEffect:
			out = append(out, "unsubscribe")
		case OpenCompanionEffect:
			out = append(out, "open")
		case CloseCompanionEffect:
			out = append(out, "close")
		case FireEffect:
			out = append(out, "fire")
		case NotifyEffect:
			out = append(out, "notify:"+string(f.Notice.Level))
		case PublishEffect:
			out = append(out, f.Type)
		}
	}
	return out
}

func TestStepStartFromIdle(t *testing.T) {
	t.Parallel()

	s, fx := Step(State{}, StartInput{Schedule: sched(1, 0)}, time.Now())
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.Equal(t, 5, s.Interval)
	assert.Equal(t, 5, s.Countdown)
	assert.Equal(t, 5, s.Schedule.IntervalSeconds)
	assert.Equal(t, model.StatusRunning, s.Schedule.Status)
	assert.True(t, s.Armed)
	assert.Equal(t, []string{"subscribe", "open", "arm", "notify:warning", eventbus.TypeSessionStarted}, effectTypes(fx))
}

func TestStepStartWhileHiddenDoesNotArm(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, fx := Step(State{}, StartInput{Schedule: sched(10, 0), Hidden: true}, now)
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.True(t, s.Hidden)
	assert.False(t, s.Armed)
	assert.Equal(t, []string{"subscribe", "open", "notify:warning", eventbus.TypeSessionStarted}, effectTypes(fx))

	s, fx = Step(s, TickInput{}, now)
	assert.Equal(t, 10, s.Countdown)
	assert.Empty(t, fx)

	s, fx = Step(s, ShowInput{}, now)
	assert.True(t, s.Armed)
	assert.Equal(t, []string{"arm"}, effectTypes(fx))
}

func TestStepStartStopsPreviousSession(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, _ := Step(State{}, StartInput{Schedule: sched(5, 0)}, now)
	s, _ = Step(s, TickInput{}, now)
	s.Hidden = true

	next := sched(7, 0)
	next.ID = "s2"
	s, fx := Step(s, StartInput{Schedule: next}, now)
	assert.Equal(t, "s2", s.Schedule.ID)
	assert.Zero(t, s.Runs)
	assert.False(t, s.Hidden)
	assert.Equal(t, 7, s.Countdown)
	assert.Equal(t, []string{
		"disarm", "unsubscribe", "close", "notify:info", eventbus.TypeSessionStopped,
		"subscribe", "open", "arm", "notify:warning", eventbus.TypeSessionStarted,
	}, effectTypes(fx))
}

func TestStepTickCountsDownThenFires(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, _ := Step(State{}, StartInput{Schedule: sched(5, 0)}, now)
	for want := 4; want >= 1; want-- {
		var fx []Effect
		s, fx = Step(s, TickInput{}, now)
		assert.Equal(t, want, s.Countdown)
		assert.Empty(t, fx)
	}
	s, fx := Step(s, TickInput{}, now)
	assert.Zero(t, s.Countdown)
	assert.Zero(t, s.Runs, "the run counts once the cycle is done")
	assert.True(t, s.Firing)
	require.Equal(t, []string{"fire"}, effectTypes(fx))
	fire := fx[0].(FireEffect)
	assert.Equal(t, FireEffect{ScheduleID: "s1", TargetURL: "https://example.com/", Run: 1, At: now}, fire)

	// no second firing while the first is in flight
	s, fx = Step(s, TickInput{}, now)
	assert.Empty(t, fx)
	assert.Zero(t, s.Countdown)

	s, fx = Step(s, FiredInput{}, now)
	assert.False(t, s.Firing)
	assert.Equal(t, 1, s.Runs)
	assert.Equal(t, 5, s.Countdown)
	assert.Equal(t, []string{"notify:success", eventbus.TypeReloadFired}, effectTypes(fx))

	_, fx = Step(s, FiredInput{}, now)
	assert.Empty(t, fx, "a stray FiredInput is ignored")
}

func TestStepFiredWhilePausedStillCounts(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, _ := Step(State{}, StartInput{Schedule: sched(5, 2)}, now)
	for i := 0; i < 5; i++ {
		s, _ = Step(s, TickInput{}, now)
	}
	require.True(t, s.Firing)

	s, _ = Step(s, PauseInput{}, now)
	s, _ = Step(s, FiredInput{}, now)
	assert.Equal(t, PhasePaused, s.Phase)
	assert.Equal(t, 1, s.Runs)
	assert.Equal(t, 5, s.Countdown)
	assert.False(t, s.Armed)
}

func TestStepCompletion(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, _ := Step(State{}, StartInput{Schedule: sched(5, 1)}, now)
	for i := 0; i < 5; i++ {
		s, _ = Step(s, TickInput{}, now)
	}
	s, fx := Step(s, FiredInput{}, now)
	assert.Equal(t, State{}, s)
	assert.Equal(t, []string{
		"notify:success", eventbus.TypeReloadFired,
		"notify:success", eventbus.TypeSessionComplete,
		"disarm", "unsubscribe", "close", "notify:info", eventbus.TypeSessionStopped,
	}, effectTypes(fx))

	ev := fx[3].(PublishEffect).Data.(SessionEvent)
	assert.Equal(t, 1, ev.Runs)
	assert.Zero(t, ev.Countdown)
}

func TestStepIgnoresInputsWhenIdle(t *testing.T) {
	t.Parallel()

	for _, in := range []Input{TickInput{}, PauseInput{}, ResumeInput{}, StopInput{}, HideInput{}, ShowInput{}, FiredInput{}} {
		s, fx := Step(State{}, in, time.Now())
		assert.Equal(t, State{}, s)
		assert.Empty(t, fx, "%T", in)
	}
}

func TestStepPauseResume(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, _ := Step(State{}, StartInput{Schedule: sched(10, 0)}, now)
	s, _ = Step(s, TickInput{}, now)
	s, _ = Step(s, TickInput{}, now)

	s, fx := Step(s, PauseInput{}, now)
	assert.Equal(t, PhasePaused, s.Phase)
	assert.False(t, s.Armed)
	assert.Equal(t, 8, s.Countdown)
	assert.Equal(t, []string{"disarm", "notify:info", eventbus.TypeSessionPaused}, effectTypes(fx))

	s, fx = Step(s, TickInput{}, now)
	assert.Equal(t, 8, s.Countdown)
	assert.Empty(t, fx)

	s, fx = Step(s, PauseInput{}, now)
	assert.Empty(t, fx, "pausing twice is a no-op")

	s, fx = Step(s, ResumeInput{}, now)
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.Equal(t, 8, s.Countdown)
	assert.Equal(t, []string{"arm", "notify:info", eventbus.TypeSessionResumed}, effectTypes(fx))

	_, fx = Step(s, ResumeInput{}, now)
	assert.Empty(t, fx, "resuming a running schedule is a no-op")
}

func TestStepVisibility(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, _ := Step(State{}, StartInput{Schedule: sched(10, 0)}, now)
	s, _ = Step(s, TickInput{}, now)

	s, fx := Step(s, HideInput{}, now)
	assert.Equal(t, []string{"disarm"}, effectTypes(fx))
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.Equal(t, 9, s.Countdown)

	s, fx = Step(s, HideInput{}, now)
	assert.Empty(t, fx)

	s, fx = Step(s, ShowInput{}, now)
	assert.Equal(t, []string{"arm"}, effectTypes(fx))
	assert.Equal(t, 9, s.Countdown)

	// resume while hidden arms only once visible
	s, _ = Step(s, PauseInput{}, now)
	s, _ = Step(s, HideInput{}, now)
	s, fx = Step(s, ResumeInput{}, now)
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.False(t, s.Armed)
	assert.NotContains(t, effectTypes(fx), "arm")
	s, fx = Step(s, ShowInput{}, now)
	assert.True(t, s.Armed)
	assert.Equal(t, []string{"arm"}, effectTypes(fx))

	// showing a paused schedule does not arm it
	s, _ = Step(s, PauseInput{}, now)
	s, _ = Step(s, HideInput{}, now)
	_, fx = Step(s, ShowInput{}, now)
	assert.Empty(t, fx)
}

func TestStepCountdownBounds(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, _ := Step(State{}, StartInput{Schedule: sched(6, 0)}, now)
	for i := 0; i < 100; i++ {
		var fx []Effect
		s, fx = Step(s, TickInput{}, now)
		if len(fx) > 0 {
			require.Zero(t, s.Countdown)
			s, _ = Step(s, FiredInput{}, now)
		}
		require.GreaterOrEqual(t, s.Countdown, 1)
		require.LessOrEqual(t, s.Countdown, s.Interval)
	}
	assert.Equal(t, 100/6, s.Runs)
}
