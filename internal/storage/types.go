package storage

import (
	"context"
	"errors"
	"time"

	"autoreload/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the collector.
type Store interface {
	CreateSchedule(ctx context.Context, s model.Schedule) error
	GetSchedule(ctx context.Context, id string) (model.Schedule, error)
	// ListSchedules returns schedules in creation order.
	ListSchedules(ctx context.Context) ([]model.Schedule, error)
	UpdateSchedule(ctx context.Context, s model.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	CountSchedules(ctx context.Context, status model.Status) (int, error)

	AppendLog(ctx context.Context, e model.LogEntry) error
	// ListLogs returns log entries oldest first. An empty scheduleID lists all.
	ListLogs(ctx context.Context, scheduleID string) ([]model.LogEntry, error)
	CountLogsSince(ctx context.Context, since time.Time) (int, error)
	// PruneLogs drops the oldest entries so at most keep remain.
	PruneLogs(ctx context.Context, keep int) (removed int, err error)

	// GetSettings returns model.DefaultSettings until settings are stored.
	GetSettings(ctx context.Context) (model.Settings, error)
	PutSettings(ctx context.Context, s model.Settings) error

	AppendAudit(ctx context.Context, e model.AuditEntry) error
	ListAudit(ctx context.Context) ([]model.AuditEntry, error)

	Close() error
}
