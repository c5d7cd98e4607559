package visibility

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "autoreload/pkg/logx"
)

// FileFlag reports Hidden while the flag file exists.
//
// The parent directory is watched (so the file may be created and removed
// freely). The watcher runs only while there is at least one subscriber, and
// unsubscribing the last one waits for it to exit.
type FileFlag struct {
	path string
	log  logx.Logger

	manual *Manual

	mu     sync.Mutex
	refs   int
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFileFlag(path string, log logx.Logger) *FileFlag {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileFlag{path: path, log: log.With(logx.String("comp", "visibility")), manual: NewManual()}
}

func (f *FileFlag) Subscribe(fn func(State)) func() {
	unsub := f.manual.Subscribe(fn)

	f.mu.Lock()
	f.refs++
	if f.refs == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		f.done = make(chan struct{})
		go f.watch(ctx, f.done)
	}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			f.mu.Lock()
			f.refs--
			var (
				cancel context.CancelFunc
				done   chan struct{}
			)
			if f.refs == 0 {
				cancel, done = f.cancel, f.done
				f.cancel, f.done = nil, nil
			}
			f.mu.Unlock()
			if cancel != nil {
				cancel()
				<-done
			}
		})
	}
}

// State reads the flag file directly, so it is accurate before the watcher
// has started.
func (f *FileFlag) State() State { return f.probe() }

func (f *FileFlag) probe() State {
	if _, err := os.Stat(f.path); err == nil {
		return Hidden
	}
	return Visible
}

func (f *FileFlag) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	dir := filepath.Dir(f.path)
	file := filepath.Base(f.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		f.log.Warn("visibility watch init failed", logx.Err(err), logx.String("dir", dir))
		return
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		f.log.Warn("visibility watch add failed", logx.Err(err), logx.String("dir", dir))
		return
	}
	// Probe after the watch is in place so a pre-existing flag counts and no
	// transition slips between the two. Handlers are never called from Subscribe.
	f.manual.Set(f.probe())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				// Let rename/replace sequences settle.
				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
				f.manual.Set(f.probe())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err != nil && !errors.Is(err, fsnotify.ErrEventOverflow) {
				f.log.Warn("visibility watch error", logx.Err(err))
			}
			f.manual.Set(f.probe())
		}
	}
}
