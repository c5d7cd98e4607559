package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"autoreload/internal/collector"
	rtsup "autoreload/internal/runtime/supervisor"
	"autoreload/internal/storage"
	logx "autoreload/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

// Server runs the collector: storage, REST API and maintenance jobs.
type Server struct {
	cfgm   *ConfigManager
	log    logx.Logger
	logs   *logx.Service
	logOut io.Writer

	store storage.Store
	svc   *collector.Service
	http  *collector.Server
	cron  *collector.Maintenance

	// notify is daemon.SdNotify; replaced in tests.
	notify func(unsetEnv bool, state string) (bool, error)
}

// NewServer opens storage and builds the collector. logOut may be nil.
func NewServer(cfgm *ConfigManager, logOut io.Writer) (*Server, error) {
	cfg, err := loadConfig(cfgm)
	if err != nil {
		return nil, err
	}
	logs, log := newLogging(cfg, "server", logOut)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	svc := collector.NewService(store, log, collector.WithLogCap(cfg.Server.LogCapOrDefault()))
	return &Server{
		cfgm:   cfgm,
		log:    log,
		logs:   logs,
		logOut: logOut,
		store:  store,
		svc:    svc,
		http:   collector.NewServer(mapServer(cfg), svc, log),
		cron:   collector.NewMaintenance(svc, time.Local, log),
		notify: daemon.SdNotify,
	}, nil
}

// Addr returns the bound listen address once Run has started serving.
func (s *Server) Addr() string { return s.http.Addr() }

// Run serves until ctx ends or a component fails. ready, when non-nil, is
// closed once the listener is bound.
func (s *Server) Run(ctx context.Context, ready chan<- struct{}) error {
	defer s.close()

	if err := s.svc.Init(ctx); err != nil {
		return err
	}
	if err := s.http.Start(ctx); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}
	cfg := s.cfgm.Get()
	if err := s.cron.Start(cfg.Server.ResetSpec, cfg.Server.PruneSpec); err != nil {
		return err
	}

	sup := NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(true))
	served := s.http.Done()
	runCtx := ctx
	sup.Go("collector.http", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-served:
			if runCtx.Err() != nil {
				return nil
			}
			if err := s.http.Err(); err != nil {
				return err
			}
			return errors.New("collector stopped serving")
		}
	})
	superviseConfig(sup, s.cfgm, s.log, s.apply)

	s.sdNotify(daemon.SdNotifyReady)
	if ready != nil {
		close(ready)
	}

	<-sup.Context().Done()
	s.sdNotify(daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var firstErr error
	if err := s.http.Stop(stopCtx); err != nil {
		firstErr = err
	}
	s.cron.Stop(stopCtx)
	if err := sup.Stop(stopCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Server) apply(cfg *Config) {
	s.logs.Apply(mapLogging(cfg, s.logOut))
	s.http.Apply(mapServer(cfg))
	s.svc.SetLogCap(cfg.Server.LogCapOrDefault())
	if err := s.cron.Start(cfg.Server.ResetSpec, cfg.Server.PruneSpec); err != nil {
		s.log.Warn("maintenance reschedule failed", logx.Err(err))
	}
}

func (s *Server) sdNotify(state string) {
	if s.notify == nil {
		return
	}
	if ok, err := s.notify(false, state); err != nil {
		s.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok {
		s.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (s *Server) close() {
	if err := s.store.Close(); err != nil {
		s.log.Warn("storage close failed", logx.Err(err))
	}
	_ = s.logs.Close()
}
