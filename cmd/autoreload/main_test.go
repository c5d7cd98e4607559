package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreload/internal/collector"
	"autoreload/internal/model"
	"autoreload/internal/storage"
	logx "autoreload/pkg/logx"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDashboardCommands(t *testing.T) {
	t.Parallel()
	svc := collector.NewService(storage.NewMemory(), logx.Nop())
	srv := httptest.NewServer(collector.Handler(svc, nil, logx.Nop()))
	defer srv.Close()

	sch, err := svc.Create(context.Background(), model.CreateRequest{
		Label: "docs", TargetURL: "https://example.com", IntervalSeconds: 10, Count: 3, Consent: true,
	}, "test-agent")
	require.NoError(t, err)
	_, err = svc.Report(context.Background(), model.Report{ScheduleID: sch.ID, Status: model.ReportFailure, Message: "timeout"})
	require.NoError(t, err)

	out, err := execute(t, "--collector", srv.URL, "schedules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, sch.ID)
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "running")

	out, err = execute(t, "--collector", srv.URL, "logs", sch.ID, "--json")
	require.NoError(t, err)
	var logs []model.LogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "timeout", logs[0].Message)

	out, err = execute(t, "--collector", srv.URL, "settings", "set", "--daily-cap", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "50")
	got, err := svc.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, got.DailyCap)
	assert.Equal(t, model.MinIntervalSeconds, got.MinInterval)

	_, err = execute(t, "--collector", srv.URL, "settings", "set", "--min-interval", "2")
	require.Error(t, err)

	out, err = execute(t, "--collector", srv.URL, "audit")
	require.NoError(t, err)
	assert.Contains(t, out, collector.ConsentHash("test-agent"))

	out, err = execute(t, "--collector", srv.URL, "schedules", "delete", sch.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")
	_, err = execute(t, "--collector", srv.URL, "schedules", "delete", sch.ID)
	require.ErrorIs(t, err, collector.ErrNotFound)
}

func TestRunRequiresConsent(t *testing.T) {
	t.Parallel()
	_, err := execute(t, "run", "--label", "x", "--url", "https://example.com")
	require.ErrorIs(t, err, errConsent)
}
