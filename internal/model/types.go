// Package model holds the records shared by the engine, the reporter and the
// collector: schedules, outcome reports, log entries, settings and consent proofs.
package model

import "time"

// Status is the lifecycle status of a schedule.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	// StatusError is part of the shared vocabulary; the engine never sets it.
	StatusError Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// ConsentProof is attached by the collector at creation time for audit only.
type ConsentProof struct {
	UserAgentHash string    `json:"userAgentHash"`
	Timestamp     time.Time `json:"timestamp"`
}

// Schedule is a recurring reload job.
type Schedule struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	TargetURL       string `json:"targetUrl"`
	IntervalSeconds int    `json:"intervalSeconds"`
	// Count caps the number of firings. Zero means unbounded.
	Count        int           `json:"count,omitempty"`
	Status       Status        `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	ConsentProof *ConsentProof `json:"consentProof,omitempty"`
}

// Interval returns the effective (clamped) interval.
func (s Schedule) Interval() time.Duration {
	return time.Duration(ClampInterval(s.IntervalSeconds)) * time.Second
}

// Bounded reports whether the schedule stops by itself after Count firings.
func (s Schedule) Bounded() bool { return s.Count > 0 }

// SchedulePatch is a partial update. Nil fields are left untouched.
type SchedulePatch struct {
	Label           *string `json:"label,omitempty"`
	TargetURL       *string `json:"targetUrl,omitempty"`
	IntervalSeconds *int    `json:"intervalSeconds,omitempty"`
	Count           *int    `json:"count,omitempty"`
	Status          *Status `json:"status,omitempty"`
}

// Apply returns s with the non-nil patch fields applied.
func (p SchedulePatch) Apply(s Schedule) Schedule {
	if p.Label != nil {
		s.Label = *p.Label
	}
	if p.TargetURL != nil {
		s.TargetURL = *p.TargetURL
	}
	if p.IntervalSeconds != nil {
		s.IntervalSeconds = *p.IntervalSeconds
	}
	if p.Count != nil {
		s.Count = *p.Count
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	return s
}

// CreateRequest is what a client sends to create a schedule.
type CreateRequest struct {
	Label           string `json:"label"`
	TargetURL       string `json:"targetUrl"`
	IntervalSeconds int    `json:"intervalSeconds"`
	Count           int    `json:"count,omitempty"`
	Consent         bool   `json:"consent"`
}

// ReportStatus is the outcome of one firing.
type ReportStatus string

const (
	ReportSuccess ReportStatus = "success"
	ReportFailure ReportStatus = "failure"
)

// Report is the outcome record sent once per firing.
type Report struct {
	ScheduleID string       `json:"scheduleId"`
	Timestamp  time.Time    `json:"timestamp"`
	Status     ReportStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
}

// LogEntry is a stored report.
type LogEntry struct {
	ID string `json:"id"`
	Report
}

// Settings are the collector-wide safety controls.
type Settings struct {
	MinInterval    int `json:"minInterval"`
	DailyCap       int `json:"dailyCap"`
	MaxConcurrency int `json:"maxConcurrency"`
}

// DefaultSettings mirrors the values a fresh collector starts with.
func DefaultSettings() Settings {
	return Settings{MinInterval: MinIntervalSeconds, DailyCap: 1000, MaxConcurrency: 5}
}

// AuditEntry is one consent record, keyed by the schedule it was given for.
type AuditEntry struct {
	ScheduleID string `json:"scheduleId"`
	ConsentProof
}
