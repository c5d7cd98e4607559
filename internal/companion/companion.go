// Package companion manages the secondary browsing context a schedule reloads
// in, so the reload happens outside the controlling process.
//
// The controller holds a non-owning reference: a window may be handed in by
// the caller or opened by the controller itself. Either way, once attached only
// the controller navigates or closes it, and it is never closed twice. Every
// operation is best-effort; failures are logged, turned into warning notices
// and returned to the caller for bookkeeping, never escalated.
package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"autoreload/internal/notice"
	logx "autoreload/pkg/logx"
)

var ErrNoOpener = errors.New("companion: no opener configured")

// Window is a secondary browsing context.
type Window interface {
	// Navigate loads url in the window.
	Navigate(ctx context.Context, url string) error
	// Focus brings the window to the foreground.
	Focus() error
	Close() error
	Closed() bool
}

// Opener creates new windows.
type Opener interface {
	Open(ctx context.Context) (Window, error)
}

// OpenerFunc adapts a func to Opener.
type OpenerFunc func(ctx context.Context) (Window, error)

func (f OpenerFunc) Open(ctx context.Context) (Window, error) { return f(ctx) }

type Controller struct {
	mu     sync.Mutex
	opener Opener
	win    Window

	log     logx.Logger
	notices notice.Sink
}

func NewController(opener Opener, log logx.Logger, notices notice.Sink) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if notices == nil {
		notices = notice.Discard{}
	}
	return &Controller{opener: opener, log: log.With(logx.String("comp", "companion")), notices: notices}
}

// Attach hands an existing window over to the controller. A previously held
// window is closed first unless it is the same one.
func (c *Controller) Attach(w Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.win != nil && c.win != w {
		c.closeLocked()
	}
	c.win = w
}

// Current returns the held window, or nil.
func (c *Controller) Current() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.win
}

// Ensure opens a window unless a live one is already held.
func (c *Controller) Ensure(ctx context.Context, scheduleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.win != nil && !c.win.Closed() {
		return nil
	}
	_, err := c.openLocked(ctx, scheduleID)
	return err
}

// Navigate loads url in the held window, opening one first if none is held or
// the held one was closed from outside. A live window is refocused. Nothing
// is opened once ctx is done.
func (c *Controller) Navigate(ctx context.Context, scheduleID, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}

	w := c.win
	reused := w != nil && !w.Closed()
	if !reused {
		var err error
		if w, err = c.openLocked(ctx, scheduleID); err != nil {
			return err
		}
	}

	if err := safeCall(func() error { return w.Navigate(ctx, url) }); err != nil {
		if ctx.Err() != nil {
			// The session was torn down mid-flight.
			c.log.Debug("companion navigation canceled", logx.Err(err))
			return fmt.Errorf("navigate: %w", err)
		}
		c.warn(scheduleID, "Reload navigation failed", err)
		return fmt.Errorf("navigate: %w", err)
	}
	if reused {
		if err := safeCall(w.Focus); err != nil {
			// Focus is cosmetic; the reload already happened.
			c.log.Debug("companion focus failed", logx.Err(err))
		}
	}
	return nil
}

// Close closes the held window if it is still open and forgets it. Safe to
// call any number of times.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Controller) closeLocked() {
	w := c.win
	c.win = nil
	if w == nil || w.Closed() {
		return
	}
	if err := safeCall(w.Close); err != nil {
		c.log.Warn("companion close failed", logx.Err(err))
	}
}

func (c *Controller) openLocked(ctx context.Context, scheduleID string) (Window, error) {
	if c.opener == nil {
		c.warn(scheduleID, "Companion window unavailable", ErrNoOpener)
		return nil, ErrNoOpener
	}
	w, err := safeOpen(ctx, c.opener)
	if err != nil {
		c.warn(scheduleID, "Could not open companion window", err)
		return nil, fmt.Errorf("open: %w", err)
	}
	c.win = w
	c.log.Debug("companion opened")
	return w, nil
}

func (c *Controller) warn(scheduleID, title string, err error) {
	c.log.Warn(title, logx.Err(err), logx.String("schedule_id", scheduleID))
	c.notices.Notify(notice.Notice{Level: notice.LevelWarning, Title: title, Detail: err.Error(), ScheduleID: scheduleID})
}

// safeOpen and safeCall shield the caller from panicking implementations.
func safeOpen(ctx context.Context, o Opener) (w Window, err error) {
	defer func() {
		if r := recover(); r != nil {
			w, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	w, err = o.Open(ctx)
	if err == nil && w == nil {
		err = errors.New("opener returned no window")
	}
	return w, err
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
