package storage

import (
	"context"
	"sync"
	"time"

	"autoreload/internal/model"
)

// memState is the in-memory model shared by the memory and file drivers.
// Callers hold the owning store's lock.
type memState struct {
	Schedules []model.Schedule   `json:"schedules"`
	Logs      []model.LogEntry   `json:"logs"`
	Settings  *model.Settings    `json:"settings,omitempty"`
	Audit     []model.AuditEntry `json:"-"`
}

func (m *memState) indexOf(id string) int {
	for i := range m.Schedules {
		if m.Schedules[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *memState) createSchedule(s model.Schedule) error {
	if m.indexOf(s.ID) >= 0 {
		return ErrExists
	}
	m.Schedules = append(m.Schedules, s)
	return nil
}

func (m *memState) updateSchedule(s model.Schedule) error {
	i := m.indexOf(s.ID)
	if i < 0 {
		return ErrNotFound
	}
	m.Schedules[i] = s
	return nil
}

func (m *memState) deleteSchedule(id string) error {
	i := m.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	m.Schedules = append(m.Schedules[:i], m.Schedules[i+1:]...)
	return nil
}

func (m *memState) countSchedules(status model.Status) int {
	n := 0
	for _, s := range m.Schedules {
		if s.Status == status {
			n++
		}
	}
	return n
}

func (m *memState) listLogs(scheduleID string) []model.LogEntry {
	out := make([]model.LogEntry, 0, len(m.Logs))
	for _, e := range m.Logs {
		if scheduleID == "" || e.ScheduleID == scheduleID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memState) countLogsSince(since time.Time) int {
	n := 0
	for _, e := range m.Logs {
		if !e.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

func (m *memState) pruneLogs(keep int) int {
	if keep < 0 {
		keep = 0
	}
	over := len(m.Logs) - keep
	if over <= 0 {
		return 0
	}
	m.Logs = append([]model.LogEntry(nil), m.Logs[over:]...)
	return over
}

func (m *memState) settings() model.Settings {
	if m.Settings == nil {
		return model.DefaultSettings()
	}
	return *m.Settings
}

type memStore struct {
	mu     sync.RWMutex
	st     memState
	closed bool
}

// NewMemory returns an empty process-local store.
func NewMemory() Store { return &memStore{} }

func (s *memStore) read(fn func(*memState)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	fn(&s.st)
	return nil
}

func (s *memStore) write(fn func(*memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return fn(&s.st)
}

func (s *memStore) CreateSchedule(_ context.Context, sch model.Schedule) error {
	return s.write(func(m *memState) error { return m.createSchedule(sch) })
}

func (s *memStore) GetSchedule(_ context.Context, id string) (out model.Schedule, err error) {
	rerr := s.read(func(m *memState) {
		i := m.indexOf(id)
		if i < 0 {
			err = ErrNotFound
			return
		}
		out = m.Schedules[i]
	})
	if rerr != nil {
		return model.Schedule{}, rerr
	}
	return out, err
}

func (s *memStore) ListSchedules(context.Context) (out []model.Schedule, err error) {
	err = s.read(func(m *memState) { out = append([]model.Schedule{}, m.Schedules...) })
	return out, err
}

func (s *memStore) UpdateSchedule(_ context.Context, sch model.Schedule) error {
	return s.write(func(m *memState) error { return m.updateSchedule(sch) })
}

func (s *memStore) DeleteSchedule(_ context.Context, id string) error {
	return s.write(func(m *memState) error { return m.deleteSchedule(id) })
}

func (s *memStore) CountSchedules(_ context.Context, status model.Status) (n int, err error) {
	err = s.read(func(m *memState) { n = m.countSchedules(status) })
	return n, err
}

func (s *memStore) AppendLog(_ context.Context, e model.LogEntry) error {
	return s.write(func(m *memState) error {
		m.Logs = append(m.Logs, e)
		return nil
	})
}

func (s *memStore) ListLogs(_ context.Context, scheduleID string) (out []model.LogEntry, err error) {
	err = s.read(func(m *memState) { out = m.listLogs(scheduleID) })
	return out, err
}

func (s *memStore) CountLogsSince(_ context.Context, since time.Time) (n int, err error) {
	err = s.read(func(m *memState) { n = m.countLogsSince(since) })
	return n, err
}

func (s *memStore) PruneLogs(_ context.Context, keep int) (n int, err error) {
	err = s.write(func(m *memState) error {
		n = m.pruneLogs(keep)
		return nil
	})
	return n, err
}

func (s *memStore) GetSettings(context.Context) (out model.Settings, err error) {
	err = s.read(func(m *memState) { out = m.settings() })
	return out, err
}

func (s *memStore) PutSettings(_ context.Context, v model.Settings) error {
	return s.write(func(m *memState) error {
		m.Settings = &v
		return nil
	})
}

func (s *memStore) AppendAudit(_ context.Context, e model.AuditEntry) error {
	return s.write(func(m *memState) error {
		m.Audit = append(m.Audit, e)
		return nil
	})
}

func (s *memStore) ListAudit(context.Context) (out []model.AuditEntry, err error) {
	err = s.read(func(m *memState) { out = append([]model.AuditEntry{}, m.Audit...) })
	return out, err
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
