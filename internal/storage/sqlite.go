package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autoreload/internal/model"
	logx "autoreload/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Timestamps are stored as unix milliseconds.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const scheduleColumns = `id, label, target_url, interval_seconds, count, status, created_at, consent_hash, consent_at`

func (s *sqliteStore) CreateSchedule(ctx context.Context, sch model.Schedule) error {
	hash, at := consentColumns(sch.ConsentProof)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(`+scheduleColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		sch.ID, sch.Label, sch.TargetURL, sch.IntervalSeconds, sch.Count, string(sch.Status), sch.CreatedAt.UnixMilli(), hash, at,
	)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrExists
	}
	return err
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sch, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	return sch, err
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Schedule{}
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateSchedule(ctx context.Context, sch model.Schedule) error {
	hash, at := consentColumns(sch.ConsentProof)
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET label=?, target_url=?, interval_seconds=?, count=?, status=?, created_at=?, consent_hash=?, consent_at=? WHERE id=?`,
		sch.Label, sch.TargetURL, sch.IntervalSeconds, sch.Count, string(sch.Status), sch.CreatedAt.UnixMilli(), hash, at, sch.ID,
	)
	return affected(res, err)
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return affected(res, err)
}

func (s *sqliteStore) CountSchedules(ctx context.Context, status model.Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedules WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

func (s *sqliteStore) AppendLog(ctx context.Context, e model.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs(id, schedule_id, ts, status, message) VALUES(?,?,?,?,?)`,
		e.ID, e.ScheduleID, e.Timestamp.UnixMilli(), string(e.Status), nullStr(e.Message),
	)
	return err
}

func (s *sqliteStore) ListLogs(ctx context.Context, scheduleID string) ([]model.LogEntry, error) {
	q := `SELECT id, schedule_id, ts, status, message FROM logs`
	var args []any
	if scheduleID != "" {
		q += ` WHERE schedule_id = ?`
		args = append(args, scheduleID)
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.LogEntry{}
	for rows.Next() {
		var (
			e      model.LogEntry
			ts     int64
			status string
			msg    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ScheduleID, &ts, &status, &msg); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Status = model.ReportStatus(status)
		e.Message = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountLogsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE ts >= ?`, since.UnixMilli()).Scan(&n)
	return n, err
}

func (s *sqliteStore) PruneLogs(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM logs WHERE seq NOT IN (SELECT seq FROM logs ORDER BY seq DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) GetSettings(ctx context.Context) (model.Settings, error) {
	var v model.Settings
	err := s.db.QueryRowContext(ctx, `SELECT min_interval, daily_cap, max_concurrency FROM settings WHERE id = 1`).
		Scan(&v.MinInterval, &v.DailyCap, &v.MaxConcurrency)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultSettings(), nil
	}
	return v, err
}

func (s *sqliteStore) PutSettings(ctx context.Context, v model.Settings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(id, min_interval, daily_cap, max_concurrency) VALUES(1,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET min_interval=excluded.min_interval, daily_cap=excluded.daily_cap, max_concurrency=excluded.max_concurrency`,
		v.MinInterval, v.DailyCap, v.MaxConcurrency,
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(schedule_id, user_agent_hash, at) VALUES(?,?,?)`,
		e.ScheduleID, e.UserAgentHash, e.Timestamp.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT schedule_id, user_agent_hash, at FROM audit ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AuditEntry{}
	for rows.Next() {
		var (
			e  model.AuditEntry
			at int64
		)
		if err := rows.Scan(&e.ScheduleID, &e.UserAgentHash, &at); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (model.Schedule, error) {
	var (
		sch       model.Schedule
		status    string
		createdAt int64
		hash      sql.NullString
		consentAt sql.NullInt64
	)
	if err := r.Scan(&sch.ID, &sch.Label, &sch.TargetURL, &sch.IntervalSeconds, &sch.Count, &status, &createdAt, &hash, &consentAt); err != nil {
		return model.Schedule{}, err
	}
	sch.Status = model.Status(status)
	sch.CreatedAt = time.UnixMilli(createdAt).UTC()
	if hash.Valid {
		sch.ConsentProof = &model.ConsentProof{UserAgentHash: hash.String, Timestamp: time.UnixMilli(consentAt.Int64).UTC()}
	}
	return sch, nil
}

func consentColumns(p *model.ConsentProof) (hash, at any) {
	if p == nil {
		return nil, nil
	}
	return p.UserAgentHash, p.Timestamp.UnixMilli()
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
