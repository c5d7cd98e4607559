// Package reporter delivers one outcome record per firing to the collector
// with a small, fixed retry budget.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autoreload/internal/eventbus"
	"autoreload/internal/model"
	logx "autoreload/pkg/logx"
)

// ErrExhausted is matched by every error returned after the retry budget ran out.
var ErrExhausted = errors.New("reporter: attempts exhausted")

// Transport submits a single report. Any non-nil error counts as a failed
// attempt, including non-2xx responses.
type Transport interface {
	Deliver(ctx context.Context, r model.Report) error
}

type TransportFunc func(ctx context.Context, r model.Report) error

func (f TransportFunc) Deliver(ctx context.Context, r model.Report) error { return f(ctx, r) }

type Config struct {
	Attempts int
	Backoff  time.Duration
	// AttemptTimeout bounds a single delivery; 0 disables it.
	AttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Attempts: 3, Backoff: time.Second, AttemptTimeout: 10 * time.Second}
}

func (c Config) normalize() Config {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.AttemptTimeout < 0 {
		c.AttemptTimeout = 0
	}
	return c
}

// ExhaustedError carries the attempt count and the last delivery failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("report not delivered after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }

// Event is the payload of report.sent / report.failed bus events.
type Event struct {
	Report   model.Report
	Attempts int
	Error    string
}

type Reporter struct {
	mu  sync.Mutex
	cfg Config

	tr  Transport
	log logx.Logger
	bus eventbus.Bus
}

func New(cfg Config, tr Transport, log logx.Logger, bus eventbus.Bus) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{cfg: cfg.normalize(), tr: tr, log: log.With(logx.String("comp", "reporter")), bus: bus}
}

// Apply swaps the retry settings; sends already in flight keep their snapshot.
func (r *Reporter) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.normalize()
	r.mu.Unlock()
}

func (r *Reporter) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Send delivers rec, retrying with a fixed backoff. It returns nil on the
// first successful attempt, ctx.Err() if ctx ends first, and an
// *ExhaustedError once every attempt failed.
func (r *Reporter) Send(ctx context.Context, rec model.Report) error {
	cfg := r.Config()
	if r.tr == nil {
		return errors.New("reporter: no transport")
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.AttemptTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		err := r.tr.Deliver(callCtx, rec)
		cancel()
		if err == nil {
			r.publish(eventbus.TypeReportSent, Event{Report: rec, Attempts: attempt})
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		r.log.Debug("report delivery failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", cfg.Attempts), logx.String("schedule_id", rec.ScheduleID))

		if attempt >= cfg.Attempts || cfg.Backoff <= 0 {
			continue
		}
		t := time.NewTimer(cfg.Backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	r.publish(eventbus.TypeReportFailed, Event{Report: rec, Attempts: cfg.Attempts, Error: lastErr.Error()})
	return &ExhaustedError{Attempts: cfg.Attempts, Last: lastErr}
}

func (r *Reporter) publish(typ string, ev Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
