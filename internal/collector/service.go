// Package collector is the remote side of the reload engine: it persists
// schedules, stores one log entry per reported firing and enforces the
// collector-wide safety settings.
package collector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autoreload/internal/model"
	"autoreload/internal/storage"
	logx "autoreload/pkg/logx"
)

var (
	ErrInvalid     = errors.New("invalid request")
	ErrConcurrency = errors.New("too many running schedules")
	ErrDailyCap    = errors.New("daily report cap reached")
	ErrNotFound    = storage.ErrNotFound
)

const defaultUserAgent = "unknown"

// pruneEveryAppends triggers inline retention between cron runs.
var pruneEveryAppends = 100

// Service implements the collector operations on top of a storage.Store.
// The HTTP layer is a thin adapter over it.
type Service struct {
	store  storage.Store
	log    logx.Logger
	now    func() time.Time
	logCap int

	mu      sync.Mutex
	day     time.Time
	today   int
	appends int
}

type ServiceOption func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// WithLogCap sets how many log entries retention keeps.
func WithLogCap(n int) ServiceOption { return func(s *Service) { s.logCap = n } }

func NewService(store storage.Store, log logx.Logger, opts ...ServiceOption) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, log: log.With(logx.String("comp", "collector")), now: time.Now, logCap: 5000}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetLogCap changes the retention cap; non-positive values are ignored.
func (s *Service) SetLogCap(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.logCap = n
	s.mu.Unlock()
}

// Init loads today's report count so a restart does not reopen the daily cap.
func (s *Service) Init(ctx context.Context) error {
	day := startOfDay(s.now())
	n, err := s.store.CountLogsSince(ctx, day)
	if err != nil {
		return fmt.Errorf("count today's reports: %w", err)
	}
	s.mu.Lock()
	s.day, s.today = day, n
	s.mu.Unlock()
	return nil
}

// ConsentHash is the hex SHA-1 of the user agent recorded as consent proof.
func ConsentHash(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	sum := sha1.Sum([]byte(userAgent))
	return hex.EncodeToString(sum[:])
}

// Create validates req and persists a running schedule with a consent proof.
func (s *Service) Create(ctx context.Context, req model.CreateRequest, userAgent string) (model.Schedule, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return model.Schedule{}, err
	}
	if err := req.Validate(settings.MinInterval); err != nil {
		return model.Schedule{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	running, err := s.store.CountSchedules(ctx, model.StatusRunning)
	if err != nil {
		return model.Schedule{}, err
	}
	if running >= settings.MaxConcurrency {
		return model.Schedule{}, fmt.Errorf("%w: limit is %d", ErrConcurrency, settings.MaxConcurrency)
	}

	now := s.now().UTC()
	proof := model.ConsentProof{UserAgentHash: ConsentHash(userAgent), Timestamp: now}
	sch := model.Schedule{
		ID:              uuid.NewString(),
		Label:           strings.TrimSpace(req.Label),
		TargetURL:       strings.TrimSpace(req.TargetURL),
		IntervalSeconds: req.IntervalSeconds,
		Count:           req.Count,
		Status:          model.StatusRunning,
		CreatedAt:       now,
		ConsentProof:    &proof,
	}
	if err := s.store.CreateSchedule(ctx, sch); err != nil {
		return model.Schedule{}, err
	}
	if err := s.store.AppendAudit(ctx, model.AuditEntry{ScheduleID: sch.ID, ConsentProof: proof}); err != nil {
		// The schedule exists; a missing audit row is logged, not fatal.
		s.log.Error("audit append failed", logx.String("schedule_id", sch.ID), logx.Err(err))
	}
	s.log.Info("schedule created", logx.String("schedule_id", sch.ID), logx.String("label", sch.Label), logx.Int("interval", sch.IntervalSeconds))
	return sch, nil
}

func (s *Service) List(ctx context.Context) ([]model.Schedule, error) {
	return s.store.ListSchedules(ctx)
}

// Update applies a partial patch. The id is never changed. A new interval must
// respect the current settings floor; schedules created under an older, lower
// floor keep their interval until it is patched.
func (s *Service) Update(ctx context.Context, id string, patch model.SchedulePatch) (model.Schedule, error) {
	cur, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return model.Schedule{}, err
	}
	next := patch.Apply(cur)
	if patch.Status != nil && !next.Status.Valid() {
		return model.Schedule{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, next.Status)
	}
	if err := next.Validate(); err != nil {
		return model.Schedule{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if patch.IntervalSeconds != nil {
		settings, err := s.store.GetSettings(ctx)
		if err != nil {
			return model.Schedule{}, err
		}
		if floor := max(settings.MinInterval, model.MinIntervalSeconds); next.IntervalSeconds < floor {
			return model.Schedule{}, fmt.Errorf("%w: interval must be at least %d seconds", ErrInvalid, floor)
		}
	}
	if err := s.store.UpdateSchedule(ctx, next); err != nil {
		return model.Schedule{}, err
	}
	return next, nil
}

// Delete removes the schedule. Its logs are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.log.Info("schedule deleted", logx.String("schedule_id", id))
	return nil
}

// Report stores one firing outcome.
func (s *Service) Report(ctx context.Context, r model.Report) (model.LogEntry, error) {
	if strings.TrimSpace(r.ScheduleID) == "" {
		return model.LogEntry{}, fmt.Errorf("%w: scheduleId is required", ErrInvalid)
	}
	switch r.Status {
	case model.ReportSuccess, model.ReportFailure:
	default:
		return model.LogEntry{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, r.Status)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	r.Timestamp = r.Timestamp.UTC()

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return model.LogEntry{}, err
	}
	if !s.reserve(settings.DailyCap) {
		return model.LogEntry{}, fmt.Errorf("%w: limit is %d", ErrDailyCap, settings.DailyCap)
	}

	e := model.LogEntry{ID: uuid.NewString(), Report: r}
	if err := s.store.AppendLog(ctx, e); err != nil {
		s.release()
		return model.LogEntry{}, err
	}
	if s.countAppend() {
		if _, err := s.Prune(ctx); err != nil {
			s.log.Warn("inline log prune failed", logx.Err(err))
		}
	}
	return e, nil
}

// Logs lists entries oldest first; an empty scheduleID lists all.
func (s *Service) Logs(ctx context.Context, scheduleID string) ([]model.LogEntry, error) {
	return s.store.ListLogs(ctx, scheduleID)
}

func (s *Service) Settings(ctx context.Context) (model.Settings, error) {
	return s.store.GetSettings(ctx)
}

func (s *Service) PutSettings(ctx context.Context, in model.Settings) (model.Settings, error) {
	if err := in.Validate(); err != nil {
		return model.Settings{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := s.store.PutSettings(ctx, in); err != nil {
		return model.Settings{}, err
	}
	s.log.Info("settings updated", logx.Int("min_interval", in.MinInterval), logx.Int("daily_cap", in.DailyCap), logx.Int("max_concurrency", in.MaxConcurrency))
	return in, nil
}

func (s *Service) Audit(ctx context.Context) ([]model.AuditEntry, error) {
	return s.store.ListAudit(ctx)
}

// Prune enforces the log retention cap.
func (s *Service) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	keep := s.logCap
	s.mu.Unlock()
	n, err := s.store.PruneLogs(ctx, keep)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Debug("logs pruned", logx.Int("removed", n), logx.Int("keep", keep))
	}
	return n, nil
}

// ResetDaily zeroes the daily report counter.
func (s *Service) ResetDaily() {
	s.mu.Lock()
	s.day, s.today = startOfDay(s.now()), 0
	s.mu.Unlock()
	s.log.Debug("daily report counter reset")
}

// ReportsToday returns the current daily counter.
func (s *Service) ReportsToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()
	return s.today
}

func (s *Service) reserve(limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()
	if s.today >= limit {
		return false
	}
	s.today++
	return true
}

func (s *Service) release() {
	s.mu.Lock()
	if s.today > 0 {
		s.today--
	}
	s.mu.Unlock()
}

func (s *Service) countAppend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	return s.appends%pruneEveryAppends == 0
}

// rollLocked covers a missed reset job (process suspended over midnight).
func (s *Service) rollLocked() {
	if day := startOfDay(s.now()); day.After(s.day) {
		s.day, s.today = day, 0
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
