package collector

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "autoreload/internal/runtime/supervisor"
	logx "autoreload/pkg/logx"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RatePerSec <= 0 disables request limiting.
	RatePerSec int
	Burst      int
}

type Server struct {
	mu  sync.Mutex
	cfg ServerConfig
	svc *Service
	log logx.Logger
	lim *rate.Limiter

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func NewServer(cfg ServerConfig, svc *Service, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, svc: svc, log: log.With(logx.String("comp", "collector.server")), lim: rate.NewLimiter(rate.Inf, 1)}
	s.applyRate(cfg)
	return s
}

// Apply updates the request rate limit in place. Listener settings need a
// restart and are ignored here.
func (s *Server) Apply(cfg ServerConfig) {
	s.mu.Lock()
	s.cfg.RatePerSec, s.cfg.Burst = cfg.RatePerSec, cfg.Burst
	s.mu.Unlock()
	s.applyRate(cfg)
}

func (s *Server) applyRate(cfg ServerConfig) {
	if cfg.RatePerSec <= 0 {
		s.lim.SetLimit(rate.Inf)
		return
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RatePerSec
	}
	s.lim.SetLimit(rate.Limit(cfg.RatePerSec))
	s.lim.SetBurst(burst)
}

// Start binds the listener and serves in the background. Start is idempotent.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8787"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("collector listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:           Handler(s.svc, s.lim, s.log),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(true))
	sup.Go("collector.http", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	s.ln, s.srv, s.sup = ln, srv, sup
	s.log.Info("collector listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" when not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Done is closed when serving ends, either by Stop or by a failure. It is nil
// before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return nil
	}
	return s.sup.Context().Done()
}

// Err reports a serve failure, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.ln, s.srv, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	sup.Cancel()
	if werr := sup.Wait(ctx); werr != nil && err == nil && !errors.Is(werr, context.Canceled) {
		err = werr
	}
	s.log.Info("collector stopped")
	return err
}
