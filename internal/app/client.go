package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"autoreload/internal/collector"
	"autoreload/internal/companion"
	"autoreload/internal/engine"
	"autoreload/internal/eventbus"
	"autoreload/internal/model"
	"autoreload/internal/notice"
	"autoreload/internal/reporter"
	rtsup "autoreload/internal/runtime/supervisor"
	"autoreload/internal/visibility"
	logx "autoreload/pkg/logx"
)

const statusSyncTimeout = 5 * time.Second

type clientOptions struct {
	opener    companion.Opener
	openerSet bool
	vis       visibility.Signal
	ticks     engine.TickSource
	out       io.Writer
	logOut    io.Writer
}

type ClientOption func(*clientOptions)

// WithOpener replaces the HTTP companion opener.
func WithOpener(o companion.Opener) ClientOption {
	return func(c *clientOptions) { c.opener, c.openerSet = o, true }
}

// WithVisibility replaces the configured visibility signal.
func WithVisibility(v visibility.Signal) ClientOption {
	return func(c *clientOptions) { c.vis = v }
}

// WithTicks replaces the wall-clock tick source.
func WithTicks(t engine.TickSource) ClientOption {
	return func(c *clientOptions) { c.ticks = t }
}

// WithOutput sets where notices and command replies are written.
func WithOutput(w io.Writer) ClientOption {
	return func(c *clientOptions) { c.out = w }
}

// WithLogOutput sets the console log sink.
func WithLogOutput(w io.Writer) ClientOption {
	return func(c *clientOptions) { c.logOut = w }
}

// Client runs one schedule end to end: it registers the schedule with the
// collector, drives the engine and keeps the collector's status in sync.
type Client struct {
	cfgm *ConfigManager

	log    logx.Logger
	logs   *logx.Service
	logOut io.Writer
	out    io.Writer
	outMu  sync.Mutex

	bus     eventbus.Bus
	notices *notice.Service
	coll    *collector.Client
	rep     *reporter.Reporter
	eng     *engine.Engine
}

func NewClient(cfgm *ConfigManager, opts ...ClientOption) (*Client, error) {
	o := clientOptions{out: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := loadConfig(cfgm)
	if err != nil {
		return nil, err
	}
	logs, log := newLogging(cfg, "client", o.logOut)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	coll, err := collector.NewClient(mapCollectorClient(cfg))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	bus := eventbus.New()
	c := &Client{cfgm: cfgm, log: log, logs: logs, logOut: o.logOut, out: o.out, bus: bus, coll: coll}
	c.notices = notice.New(mapNotices(cfg), &lockedWriter{mu: &c.outMu, w: o.out}, log, bus)
	c.rep = reporter.New(mapReporter(cfg), coll, log, bus)

	opener := o.opener
	if !o.openerSet && !cfg.Companion.Disabled {
		opener = companion.NewHTTPOpener(mapCompanion(cfg))
	}
	vis := o.vis
	if vis == nil {
		vis = newVisibility(cfg, log)
	}
	c.eng = engine.New(engine.Options{
		Config:     mapEngine(cfg, coll.Origin()),
		Reporter:   c.rep,
		Companion:  companion.NewController(opener, log, c.notices),
		Visibility: vis,
		Notices:    c.notices,
		Bus:        bus,
		Log:        log,
		Ticks:      o.ticks,
	})
	return c, nil
}

// Engine exposes the engine for status queries.
func (c *Client) Engine() *engine.Engine { return c.eng }

// Run creates the schedule described by req and drives it until it
// completes, is stopped by a command read from commands, or ctx ends.
// commands may be nil.
func (c *Client) Run(ctx context.Context, req model.CreateRequest, commands io.Reader) (StopReason, error) {
	defer func() { _ = c.logs.Close() }()

	sch, err := c.coll.CreateSchedule(ctx, req)
	if err != nil {
		c.notices.Notify(notice.Notice{Level: notice.LevelError, Title: "Could not create schedule", Detail: err.Error()})
		return StopFatalError, fmt.Errorf("create schedule: %w", err)
	}
	c.log.Info("schedule registered", logx.String("schedule_id", sch.ID), logx.String("label", sch.Label))

	events, unsub := c.bus.Subscribe(64,
		eventbus.TypeSessionPaused, eventbus.TypeSessionResumed,
		eventbus.TypeSessionComplete, eventbus.TypeSessionStopped)
	defer unsub()

	if err := c.eng.Start(ctx, sch, nil); err != nil {
		c.syncStatus(sch.ID, model.StatusError)
		return StopFatalError, err
	}

	sup := NewSupervisor(ctx, rtsup.WithLogger(c.log), rtsup.WithCancelOnError(true))
	done := make(chan StopReason, 1)

	sup.Go("session.events", func(ctx context.Context) error {
		completed := false
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				switch ev.Type {
				case eventbus.TypeSessionPaused:
					c.syncStatus(sch.ID, model.StatusPaused)
				case eventbus.TypeSessionResumed:
					c.syncStatus(sch.ID, model.StatusRunning)
				case eventbus.TypeSessionComplete:
					completed = true
				case eventbus.TypeSessionStopped:
					reason := StopCommand
					if completed {
						reason = StopCompleted
					}
					done <- reason
					return nil
				}
			}
		}
	})
	if commands != nil {
		lines := readLines(sup.Context(), commands)
		sup.Go("commands", func(ctx context.Context) error { return c.commandLoop(ctx, lines) })
	}
	superviseConfig(sup, c.cfgm, c.log, c.apply)

	var reason StopReason
	select {
	case reason = <-done:
	case <-sup.Context().Done():
		reason = StopSignal
		if ctx.Err() == nil {
			reason = StopFatalError
		}
	}

	c.eng.Close()
	c.syncStatus(sch.ID, model.StatusCompleted)

	stopCtx, cancel := context.WithTimeout(context.Background(), statusSyncTimeout)
	defer cancel()
	supErr := sup.Stop(stopCtx)
	c.log.Info("run finished", logx.String("schedule_id", sch.ID), logx.String("reason", reason.String()))
	if reason == StopFatalError {
		return reason, supErr
	}
	return reason, nil
}

func (c *Client) apply(cfg *Config) {
	c.logs.Apply(mapLogging(cfg, c.logOut))
	c.notices.Apply(mapNotices(cfg))
	c.rep.Apply(mapReporter(cfg))
	c.eng.Apply(mapEngine(cfg, c.coll.Origin()))
}

// syncStatus mirrors a state change to the collector. It is best-effort and
// outlives the run context.
func (c *Client) syncStatus(id string, st model.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), statusSyncTimeout)
	defer cancel()
	if err := c.coll.SetStatus(ctx, id, st); err != nil {
		c.log.Warn("status sync failed", logx.String("schedule_id", id), logx.String("status", string(st)), logx.Err(err))
	}
}

func (c *Client) commandLoop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			c.command(line)
		}
	}
}

func (c *Client) command(line string) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
	case "pause", "p":
		c.eng.Pause()
	case "resume", "r":
		c.eng.Resume()
	case "stop", "q", "quit":
		c.eng.Stop()
	case "status", "s":
		c.printf("%s\n", formatSnapshot(c.eng.Snapshot()))
	default:
		c.printf("unknown command %q (pause, resume, stop, status)\n", strings.TrimSpace(line))
	}
}

func (c *Client) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func formatSnapshot(s engine.Snapshot) string {
	if s.ActiveSchedule == nil {
		return "idle"
	}
	sch := s.ActiveSchedule
	runs := strconv.Itoa(s.RunsCompleted)
	if sch.Bounded() {
		runs = fmt.Sprintf("%d/%d", s.RunsCompleted, sch.Count)
	}
	line := fmt.Sprintf("%s %q next reload in %ds, runs %s", s.Phase, sch.Label, s.Countdown, runs)
	if s.Hidden {
		line += " (hidden, timer suspended)"
	}
	return line
}

// readLines feeds r line by line into the returned channel until r ends or
// ctx is done. A read blocked on stdin is left to process exit.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
