package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./autoreload.log"
)

type Config struct {
	Level   string
	Console bool
	// JSON writes raw JSON lines to the console (useful under journald).
	JSON bool
	File FileConfig
	// Writer receives console output. Nil means stderr.
	Writer io.Writer
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks. Apply rebuilds them; loggers handed out earlier
// pick up the change on their next event.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File
	cur  atomic.Pointer[zerolog.Logger]
}

// New builds the service, applies cfg and returns its root logger.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() *zerolog.Logger { return s.cur.Load() }

// Apply swaps level and sinks. A file that cannot be opened is reported on
// the console and skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(cfg)
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg
	out := cfg.Writer
	if out == nil {
		out = os.Stderr
	}

	var sinks []io.Writer
	if cfg.Console || !cfg.File.Enabled {
		if cfg.JSON {
			sinks = append(sinks, out)
		} else {
			sinks = append(sinks, consoleWriter(out))
		}
	}

	prev := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultFilePath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			_, _ = fmt.Fprintf(out, "logx: open log file %q: %v\n", path, err)
			if len(sinks) == 0 {
				sinks = append(sinks, consoleWriter(out))
			}
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}

	var w io.Writer = sinks[0]
	if len(sinks) > 1 {
		w = zerolog.MultiLevelWriter(sinks...)
	}
	zl := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	s.cur.Store(&zl)

	// Close the old file only after no new event can reach it.
	if prev != nil {
		_ = prev.Close()
	}
}

// Close releases the log file, if any. Console logging keeps working.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	f := s.file
	cfg := s.cfg
	cfg.File.Enabled = false
	s.file = nil
	s.applyLocked(cfg)
	return f.Close()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   "15:04:05.000",
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

// ParseLevel maps a config level name to zerolog; unknown names mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
