package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "autoreload/pkg/logx"
)

const (
	DefaultResetSpec = "@midnight"
	DefaultPruneSpec = "@every 10m"
	maintenanceRun   = 30 * time.Second
)

// Maintenance runs the collector's periodic jobs: the daily report counter
// reset and log retention.
type Maintenance struct {
	svc *Service
	log logx.Logger

	mu   sync.Mutex
	c    *cron.Cron
	loc  *time.Location
	ids  []cron.EntryID
	spec [2]string
}

func NewMaintenance(svc *Service, loc *time.Location, log logx.Logger) *Maintenance {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Maintenance{svc: svc, loc: loc, log: log.With(logx.String("comp", "collector.cron"))}
}

func parser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidateSpec reports whether spec parses; empty means the default.
func ValidateSpec(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := parser().Parse(spec); err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return nil
}

// Start schedules both jobs. Calling it again reschedules with new specs.
func (m *Maintenance) Start(resetSpec, pruneSpec string) error {
	resetSpec = orDefault(resetSpec, DefaultResetSpec)
	pruneSpec = orDefault(pruneSpec, DefaultPruneSpec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil && m.spec == [2]string{resetSpec, pruneSpec} {
		return nil
	}

	c := cron.New(cron.WithParser(parser()), cron.WithLocation(m.loc))
	resetID, err := c.AddFunc(resetSpec, m.reset)
	if err != nil {
		return fmt.Errorf("reset job: %w", err)
	}
	pruneID, err := c.AddFunc(pruneSpec, m.prune)
	if err != nil {
		return fmt.Errorf("prune job: %w", err)
	}

	if m.c != nil {
		<-m.c.Stop().Done()
	}
	m.c, m.ids, m.spec = c, []cron.EntryID{resetID, pruneID}, [2]string{resetSpec, pruneSpec}
	c.Start()
	m.log.Info("maintenance scheduled", logx.String("reset", resetSpec), logx.String("prune", pruneSpec))
	return nil
}

// Next returns the next run times of the reset and prune jobs.
func (m *Maintenance) Next() (reset, prune time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		return time.Time{}, time.Time{}
	}
	return m.c.Entry(m.ids[0]).Next, m.c.Entry(m.ids[1]).Next
}

// Stop waits for running jobs, bounded by ctx.
func (m *Maintenance) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.c
	m.c, m.ids = nil, nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (m *Maintenance) reset() { m.svc.ResetDaily() }

func (m *Maintenance) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceRun)
	defer cancel()
	if _, err := m.svc.Prune(ctx); err != nil {
		m.log.Warn("log prune failed", logx.Err(err))
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
