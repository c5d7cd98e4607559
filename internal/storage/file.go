package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"autoreload/internal/model"
	logx "autoreload/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json  (schedules, settings and compacted logs)
//   - <prefix>.logs.jsonl     (append-only log journal)
//   - <prefix>.audit.jsonl    (append-only consent audit)
//
// Schedule and settings changes rewrite the snapshot, which also folds the
// journal in. Log appends only touch the journal until compactEvery writes
// have accumulated.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st memState

	snapshotPath string
	journal      *os.File
	audit        *os.File

	journalWrites int
	compactEvery  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		compactEvery: 200,
	}
	journalPath := prefix + ".logs.jsonl"
	auditPath := prefix + ".audit.jsonl"

	if err := loadSnapshot(s.snapshotPath, &s.st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJSONL(journalPath, func(e model.LogEntry) { s.st.Logs = append(s.st.Logs, e) }); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJSONL(auditPath, func(e model.AuditEntry) { s.st.Audit = append(s.st.Audit, e) }); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal, s.audit = jf, af
	// Fold the replayed journal into the snapshot so a torn trailing line
	// cannot swallow the next append.
	if err := s.compactLocked(); err != nil {
		_ = jf.Close()
		_ = af.Close()
		return nil, err
	}

	log.Debug("file store opened",
		logx.String("prefix", prefix),
		logx.Int("schedules", len(s.st.Schedules)),
		logx.Int("logs", len(s.st.Logs)),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	if cerr := s.audit.Close(); err == nil {
		err = cerr
	}
	s.journal, s.audit = nil, nil
	return err
}

func (s *fileStore) read(fn func(*memState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	fn(&s.st)
	return nil
}

// mutate applies fn and persists the snapshot. On a persist failure the
// in-memory state is rolled back.
func (s *fileStore) mutate(fn func(*memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	prev := s.st.clone()
	if err := fn(&s.st); err != nil {
		return err
	}
	if err := s.compactLocked(); err != nil {
		s.st = prev
		return err
	}
	return nil
}

func (s *fileStore) CreateSchedule(_ context.Context, sch model.Schedule) error {
	return s.mutate(func(m *memState) error { return m.createSchedule(sch) })
}

func (s *fileStore) GetSchedule(_ context.Context, id string) (out model.Schedule, err error) {
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

func (s *fileStore) ListSchedules(context.Context) (out []model.Schedule, err error) {
	err = s.read(func(m *memState) { out = append([]model.Schedule{}, m.Schedules...) })
	return out, err
}

func (s *fileStore) UpdateSchedule(_ context.Context, sch model.Schedule) error {
	return s.mutate(func(m *memState) error { return m.updateSchedule(sch) })
}

func (s *fileStore) DeleteSchedule(_ context.Context, id string) error {
	return s.mutate(func(m *memState) error { return m.deleteSchedule(id) })
}

func (s *fileStore) CountSchedules(_ context.Context, status model.Status) (n int, err error) {
	err = s.read(func(m *memState) { n = m.countSchedules(status) })
	return n, err
}

func (s *fileStore) AppendLog(_ context.Context, e model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return err
	}
	s.st.Logs = append(s.st.Logs, e)

	s.journalWrites++
	if s.compactEvery > 0 && s.journalWrites >= s.compactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("log journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListLogs(_ context.Context, scheduleID string) (out []model.LogEntry, err error) {
	err = s.read(func(m *memState) { out = m.listLogs(scheduleID) })
	return out, err
}

func (s *fileStore) CountLogsSince(_ context.Context, since time.Time) (n int, err error) {
	err = s.read(func(m *memState) { n = m.countLogsSince(since) })
	return n, err
}

func (s *fileStore) PruneLogs(_ context.Context, keep int) (n int, err error) {
	err = s.mutate(func(m *memState) error {
		n = m.pruneLogs(keep)
		return nil
	})
	return n, err
}

func (s *fileStore) GetSettings(context.Context) (out model.Settings, err error) {
	err = s.read(func(m *memState) { out = m.settings() })
	return out, err
}

func (s *fileStore) PutSettings(_ context.Context, v model.Settings) error {
	return s.mutate(func(m *memState) error {
		m.Settings = &v
		return nil
	})
}

func (s *fileStore) AppendAudit(_ context.Context, e model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.audit).Encode(e); err != nil {
		return err
	}
	s.st.Audit = append(s.st.Audit, e)
	return nil
}

func (s *fileStore) ListAudit(context.Context) (out []model.AuditEntry, err error) {
	err = s.read(func(m *memState) { out = append([]model.AuditEntry{}, m.Audit...) })
	return out, err
}

// compactLocked writes the snapshot via tmp+rename and truncates the journal.
func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(&s.st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.journalWrites = 0
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (m *memState) clone() memState {
	out := memState{
		Schedules: append([]model.Schedule(nil), m.Schedules...),
		Logs:      append([]model.LogEntry(nil), m.Logs...),
		Audit:     m.Audit,
	}
	if m.Settings != nil {
		v := *m.Settings
		out.Settings = &v
	}
	return out
}

func loadSnapshot(path string, out *memState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

// replayJSONL decodes one record per line, skipping lines that do not parse
// (a torn final write after a crash).
func replayJSONL[T any](path string, fn func(T)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		fn(v)
	}
	return sc.Err()
}
