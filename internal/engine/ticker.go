package engine

import (
	"sync"
	"time"
)

// TickSource delivers periodic ticks. The returned stop func must not wait
// for an in-flight fn call: the engine calls it while holding its lock and fn
// takes that same lock.
type TickSource interface {
	Start(period time.Duration, fn func()) (stop func())
}

// TickerSource is the time.Ticker backed TickSource. Ticks are delivered from
// a single goroutine, so the next one is only read after fn returns; ticks
// missed meanwhile are dropped by time.Ticker.
type TickerSource struct{}

func (TickerSource) Start(period time.Duration, fn func()) func() {
	t := time.NewTicker(period)
	done := make(chan struct{})
	go func() {
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
