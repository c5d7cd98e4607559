package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"autoreload/internal/companion"
	"autoreload/internal/eventbus"
	"autoreload/internal/model"
	"autoreload/internal/notice"
	"autoreload/internal/reporter"
	"autoreload/internal/visibility"
	logx "autoreload/pkg/logx"
)

var (
	ErrClosed      = errors.New("engine: closed")
	ErrCrossOrigin = errors.New("target is on a different origin than the collector")
)

// Sender submits one report. *reporter.Reporter implements it.
type Sender interface {
	Send(ctx context.Context, r model.Report) error
}

type Config struct {
	// Tick is the countdown resolution. Defaults to one second.
	Tick time.Duration
	// RejectCrossOrigin refuses targets whose origin differs from Origin
	// instead of only warning about them.
	RejectCrossOrigin bool
	Origin            *url.URL
	// MinInterval raises shorter schedule intervals, in seconds. Values below
	// model.MinIntervalSeconds have no effect.
	MinInterval int
}

type Options struct {
	Config     Config
	Reporter   Sender
	Companion  *companion.Controller
	Visibility visibility.Signal
	Notices    notice.Sink
	Bus        eventbus.Bus
	Log        logx.Logger
	Ticks      TickSource
	Now        func() time.Time
}

// Snapshot is the read-only view of the session.
type Snapshot struct {
	ActiveSchedule *model.Schedule
	Countdown      int
	RunsCompleted  int
	IsRunning      bool
	Phase          Phase
	Hidden         bool
}

type Engine struct {
	mu  sync.Mutex
	cfg Config
	st  State

	gen      uint64
	stopTick func()

	epoch uint64
	unsub func()

	// session identifies the current Start so a reload cycle finishing after
	// a restart is not applied to the new session.
	session uint64

	handoff companion.Window
	sessCtx context.Context
	cancel  atomic.Pointer[context.CancelFunc]
	base    context.Context
	closeFn context.CancelFunc
	closed  bool

	// reports tracks reload cycles and report deliveries. Deliveries run on
	// base, not on the session context, so Stop never aborts them.
	reports sync.WaitGroup
	snap    atomic.Pointer[Snapshot]

	rep     Sender
	comp    *companion.Controller
	vis     visibility.Signal
	notices notice.Sink
	bus     eventbus.Bus
	log     logx.Logger
	ticks   TickSource
	now     func() time.Time
}

func New(opts Options) *Engine {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	log := opts.Log.With(logx.String("comp", "engine"))
	if opts.Notices == nil {
		opts.Notices = notice.Discard{}
	}
	if opts.Visibility == nil {
		opts.Visibility = visibility.None{}
	}
	if opts.Companion == nil {
		opts.Companion = companion.NewController(nil, log, opts.Notices)
	}
	if opts.Ticks == nil {
		opts.Ticks = TickerSource{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base, closeFn := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     opts.Config.normalize(),
		base:    base,
		closeFn: closeFn,
		sessCtx: base,
		rep:     opts.Reporter,
		comp:    opts.Companion,
		vis:     opts.Visibility,
		notices: opts.Notices,
		bus:     opts.Bus,
		log:     log,
		ticks:   opts.Ticks,
		now:     opts.Now,
	}
	e.snap.Store(&Snapshot{})
	return e
}

func (c Config) normalize() Config {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	return c
}

// Apply swaps the engine settings. A new tick period takes effect the next
// time the timer is armed.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.normalize()
	e.mu.Unlock()
}

// Snapshot never blocks on the engine lock.
func (e *Engine) Snapshot() Snapshot {
	return *e.snap.Load()
}

// Start validates sch and makes it the active schedule, tearing down any
// previous session first. An invalid schedule leaves the engine untouched.
// win, when non-nil, is handed over to the engine as the companion window.
func (e *Engine) Start(ctx context.Context, sch model.Schedule, win companion.Window) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.validate(sch); err != nil {
		e.notices.Notify(notice.Notice{Level: notice.LevelError, Title: "Cannot start schedule", Detail: err.Error(), ScheduleID: sch.ID})
		return err
	}

	hidden := e.vis.State() == visibility.Hidden

	e.cancelSession()
	sessCtx, cancel := context.WithCancel(e.base)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if old := e.cancel.Swap(&cancel); old != nil {
		(*old)()
	}
	e.sessCtx = sessCtx
	e.session++
	e.handoff = win
	if sch.IntervalSeconds < e.cfg.MinInterval {
		sch.IntervalSeconds = e.cfg.MinInterval
	}
	post := e.dispatchLocked(StartInput{Schedule: sch, Hidden: hidden})
	e.mu.Unlock()

	runAll(post)
	e.log.Info("schedule started", logx.String("schedule_id", sch.ID), logx.String("target", sch.TargetURL), logx.Int("interval_s", model.ClampInterval(sch.IntervalSeconds)), logx.Int("count", sch.Count))
	return nil
}

// Pause is a no-op unless a schedule is running.
func (e *Engine) Pause() { e.run(PauseInput{}) }

// Resume is a no-op unless a schedule is paused. While hidden the schedule
// becomes running but the timer is armed only once visible again.
func (e *Engine) Resume() { e.run(ResumeInput{}) }

// Stop ends the session. It never fails and may be called in any state.
func (e *Engine) Stop() {
	e.cancelSession()
	e.run(StopInput{})
}

// Close stops the engine for good. Reports already handed to the reporter
// are delivered (or exhausted) before it returns.
func (e *Engine) Close() {
	e.Stop()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.reports.Wait()
	e.closeFn()
}

// Wait blocks until every report submitted so far has settled.
func (e *Engine) Wait() { e.reports.Wait() }

func (e *Engine) validate(sch model.Schedule) error {
	if err := sch.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()
	if cfg.Origin == nil {
		return nil
	}
	u, err := model.ParseTarget(sch.TargetURL)
	if err != nil {
		return err
	}
	if model.SameOrigin(u, cfg.Origin) {
		return nil
	}
	if cfg.RejectCrossOrigin {
		return fmt.Errorf("%w: %s", ErrCrossOrigin, u.Host)
	}
	e.notices.Notify(notice.Notice{
		Level:      notice.LevelWarning,
		Title:      "Cross-origin target",
		Detail:     fmt.Sprintf("%s is not served by %s; the remote site may refuse automated reloads.", u.Host, cfg.Origin.Host),
		ScheduleID: sch.ID,
	})
	return nil
}

func (e *Engine) cancelSession() {
	if p := e.cancel.Swap(nil); p != nil {
		(*p)()
	}
}

func (e *Engine) run(in Input) {
	e.mu.Lock()
	post := e.dispatchLocked(in)
	e.mu.Unlock()
	runAll(post)
}

func (e *Engine) onTick(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.stopTick == nil {
		e.mu.Unlock()
		return
	}
	post := e.dispatchLocked(TickInput{})
	e.mu.Unlock()
	runAll(post)
}

func (e *Engine) onVisibility(epoch uint64, s visibility.State) {
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	var in Input = ShowInput{}
	if s == visibility.Hidden {
		in = HideInput{}
	}
	e.log.Debug("visibility changed", logx.String("state", s.String()))
	post := e.dispatchLocked(in)
	e.mu.Unlock()
	runAll(post)
}

// dispatchLocked steps the machine and executes the effects. It returns the
// work that must run after e.mu is released.
func (e *Engine) dispatchLocked(in Input) []func() {
	next, fx := Step(e.st, in, e.now())
	e.st = next
	e.publishSnapshot()

	var post []func()
	for _, f := range fx {
		switch f := f.(type) {
		case ArmEffect:
			e.arm()
		case DisarmEffect:
			e.disarm()
		case SubscribeEffect:
			e.epoch++
			post = append(post, e.subscribe(e.epoch))
		case UnsubscribeEffect:
			e.epoch++
			if u := e.unsub; u != nil {
				e.unsub = nil
				post = append(post, u)
			}
		case OpenCompanionEffect:
			ctx, id, w := e.sessCtx, next.Schedule.ID, e.handoff
			e.handoff = nil
			post = append(post, func() {
				switch {
				case ctx.Err() != nil:
					// Stopped before the companion was set up.
				case w != nil:
					e.comp.Attach(w)
				default:
					_ = e.comp.Ensure(ctx, id)
				}
			})
		case CloseCompanionEffect:
			post = append(post, e.comp.Close)
		case FireEffect:
			ctx, session := e.sessCtx, e.session
			e.reports.Add(1)
			post = append(post, func() { e.fire(ctx, session, f) })
		case NotifyEffect:
			e.notices.Notify(f.Notice)
		case PublishEffect:
			if e.bus != nil {
				e.bus.Publish(eventbus.Event{Type: f.Type, Time: e.now(), Data: f.Data})
			}
		}
	}
	return post
}

func (e *Engine) publishSnapshot() {
	s := Snapshot{
		Countdown:     e.st.Countdown,
		RunsCompleted: e.st.Runs,
		IsRunning:     e.st.Phase == PhaseRunning,
		Phase:         e.st.Phase,
		Hidden:        e.st.Hidden,
	}
	if e.st.Active() {
		sch := e.st.Schedule
		if e.st.Phase == PhasePaused {
			sch.Status = model.StatusPaused
		}
		s.ActiveSchedule = &sch
	}
	e.snap.Store(&s)
}

func (e *Engine) arm() {
	e.disarm()
	gen := e.gen
	e.stopTick = e.ticks.Start(e.cfg.Tick, func() { e.onTick(gen) })
}

func (e *Engine) disarm() {
	if e.stopTick != nil {
		e.stopTick()
		e.stopTick = nil
	}
	e.gen++
}

func (e *Engine) subscribe(epoch uint64) func() {
	return func() {
		unsub := e.vis.Subscribe(func(s visibility.State) { e.onVisibility(epoch, s) })
		e.mu.Lock()
		if epoch != e.epoch {
			// The session ended before the subscription landed.
			e.mu.Unlock()
			unsub()
			return
		}
		e.unsub = unsub
		// Catch a transition that happened between Start reading the state
		// and the subscription landing.
		var in Input
		switch hidden := e.vis.State() == visibility.Hidden; {
		case hidden && !e.st.Hidden:
			in = HideInput{}
		case !hidden && e.st.Hidden:
			in = ShowInput{}
		}
		var post []func()
		if in != nil {
			post = e.dispatchLocked(in)
		}
		e.mu.Unlock()
		runAll(post)
	}
}

// fire runs one reload cycle outside the engine lock: navigate the companion,
// hand the report to the reporter, then count the run. Stop cancels ctx, which
// aborts the navigation but not the report.
func (e *Engine) fire(ctx context.Context, session uint64, f FireEffect) {
	defer e.reports.Done()

	navErr := e.comp.Navigate(ctx, f.ScheduleID, f.TargetURL)
	if navErr != nil && ctx.Err() != nil {
		navErr = errors.New("stopped before the reload finished")
	}
	e.submit(ctx, f, navErr)

	e.mu.Lock()
	if session != e.session {
		e.mu.Unlock()
		return
	}
	post := e.dispatchLocked(FiredInput{})
	e.mu.Unlock()
	runAll(post)
}

// submit reports one firing in the background. A failed navigation turns the
// record into a failure with the navigation error as message. Delivery is not
// tied to sess: once sess is done only the user-facing notice is dropped.
func (e *Engine) submit(sess context.Context, f FireEffect, navErr error) {
	rec := model.Report{ScheduleID: f.ScheduleID, Timestamp: f.At, Status: model.ReportSuccess}
	if navErr != nil {
		rec.Status = model.ReportFailure
		rec.Message = navErr.Error()
	}
	if e.rep == nil {
		e.log.Debug("no reporter configured", logx.String("schedule_id", f.ScheduleID))
		return
	}

	e.reports.Add(1)
	go func() {
		defer e.reports.Done()
		err := e.rep.Send(e.base, rec)
		switch {
		case err == nil:
		case sess.Err() != nil:
			e.log.Debug("report failed after stop", logx.Err(err), logx.String("schedule_id", f.ScheduleID))
		case errors.Is(err, reporter.ErrExhausted):
			e.notices.Notify(notice.Notice{
				Level:      notice.LevelError,
				Title:      fmt.Sprintf("Could not report run %d", f.Run),
				Detail:     err.Error(),
				ScheduleID: f.ScheduleID,
			})
		default:
			e.log.Warn("report failed", logx.Err(err), logx.String("schedule_id", f.ScheduleID))
		}
	}()
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
