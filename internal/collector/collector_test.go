package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"autoreload/internal/model"
	"autoreload/internal/storage"
	logx "autoreload/pkg/logx"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    *Service
	client *Client
	clock  *clock
	url    string
}

func newFixture(t *testing.T, lim *rate.Limiter) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(storage.NewMemory(), logx.Nop(), WithClock(clk.Now))
	require.NoError(t, svc.Init(context.Background()))

	srv := httptest.NewServer(Handler(svc, lim, logx.Nop()))
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return &fixture{svc: svc, client: c, clock: clk, url: srv.URL}
}

func createReq(label string) model.CreateRequest {
	return model.CreateRequest{Label: label, TargetURL: "https://example.com/page", IntervalSeconds: 10, Count: 2, Consent: true}
}

func TestCreateScheduleAttachesConsent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	sch, err := f.client.CreateSchedule(ctx, createReq("news"))
	require.NoError(t, err)
	assert.NotEmpty(t, sch.ID)
	assert.Equal(t, model.StatusRunning, sch.Status)
	assert.Equal(t, 10, sch.IntervalSeconds)
	require.NotNil(t, sch.ConsentProof)
	assert.Equal(t, ConsentHash(clientUserAgent), sch.ConsentProof.UserAgentHash)
	assert.True(t, sch.ConsentProof.Timestamp.Equal(f.clock.Now()))

	audit, err := f.client.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, sch.ID, audit[0].ScheduleID)

	list, err := f.client.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sch.ID, list[0].ID)
}

func TestCreateStatusCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	resp, err := http.Post(f.url+"/api/schedules", "application/json",
		strings.NewReader(`{"label":"x","targetUrl":"https://example.com","intervalSeconds":5,"consent":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestConsentHashDefaultsUnknown(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ConsentHash("unknown"), ConsentHash(""))
	assert.Len(t, ConsentHash("Mozilla/5.0"), 40)
}

func TestCreateRejectsInvalid(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.CreateRequest)
	}{
		{"interval below floor", func(r *model.CreateRequest) { r.IntervalSeconds = 4 }},
		{"no consent", func(r *model.CreateRequest) { r.Consent = false }},
		{"empty label", func(r *model.CreateRequest) { r.Label = " " }},
		{"bad url", func(r *model.CreateRequest) { r.TargetURL = "ftp://x" }},
		{"negative count", func(r *model.CreateRequest) { r.Count = -1 }},
	}
	for _, tt := range tests {
		req := createReq("x")
		tt.mutate(&req)
		_, err := f.client.CreateSchedule(ctx, req)
		assert.ErrorIs(t, err, ErrInvalid, tt.name)
	}

	list, err := f.client.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateHonorsSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.client.PutSettings(ctx, model.Settings{MinInterval: 30, DailyCap: 10, MaxConcurrency: 1})
	require.NoError(t, err)

	_, err = f.client.CreateSchedule(ctx, createReq("too fast"))
	require.ErrorIs(t, err, ErrInvalid)

	req := createReq("ok")
	req.IntervalSeconds = 30
	first, err := f.client.CreateSchedule(ctx, req)
	require.NoError(t, err)

	_, err = f.client.CreateSchedule(ctx, req)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)

	// A paused schedule no longer counts against the limit.
	require.NoError(t, f.client.SetStatus(ctx, first.ID, model.StatusPaused))
	_, err = f.client.CreateSchedule(ctx, req)
	require.NoError(t, err)
}

func TestUpdateHonorsMinInterval(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	req := createReq("a")
	req.IntervalSeconds = 10
	sch, err := f.client.CreateSchedule(ctx, req)
	require.NoError(t, err)

	_, err = f.client.PutSettings(ctx, model.Settings{MinInterval: 30, DailyCap: 10, MaxConcurrency: 5})
	require.NoError(t, err)

	for _, secs := range []int{6, 29} {
		_, err = f.client.UpdateSchedule(ctx, sch.ID, model.SchedulePatch{IntervalSeconds: &secs})
		require.ErrorIs(t, err, ErrInvalid, "interval %d", secs)
	}
	secs := 30
	got, err := f.client.UpdateSchedule(ctx, sch.ID, model.SchedulePatch{IntervalSeconds: &secs})
	require.NoError(t, err)
	assert.Equal(t, 30, got.IntervalSeconds)

	// Status changes still go through for schedules below the new floor.
	req = createReq("b")
	req.IntervalSeconds = 30
	other, err := f.client.CreateSchedule(ctx, req)
	require.NoError(t, err)
	_, err = f.client.PutSettings(ctx, model.Settings{MinInterval: 60, DailyCap: 10, MaxConcurrency: 5})
	require.NoError(t, err)
	require.NoError(t, f.client.SetStatus(ctx, other.ID, model.StatusCompleted))
}

func TestPutSettingsValidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	got, err := f.client.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings(), got)

	_, err = f.client.PutSettings(ctx, model.Settings{MinInterval: 4, DailyCap: 1, MaxConcurrency: 1})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = f.client.PutSettings(ctx, model.Settings{MinInterval: 5, DailyCap: 0, MaxConcurrency: 1})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestUpdateAndDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	sch, err := f.client.CreateSchedule(ctx, createReq("a"))
	require.NoError(t, err)

	label := "renamed"
	got, err := f.client.UpdateSchedule(ctx, sch.ID, model.SchedulePatch{Label: &label})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Label)
	assert.Equal(t, sch.ID, got.ID)
	assert.Equal(t, sch.TargetURL, got.TargetURL)

	bogus := model.Status("sleeping")
	_, err = f.client.UpdateSchedule(ctx, sch.ID, model.SchedulePatch{Status: &bogus})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.client.UpdateSchedule(ctx, "missing", model.SchedulePatch{Label: &label})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "Schedule not found")

	require.NoError(t, f.client.Deliver(ctx, model.Report{ScheduleID: sch.ID, Status: model.ReportSuccess}))
	require.NoError(t, f.client.DeleteSchedule(ctx, sch.ID))
	assert.ErrorIs(t, f.client.DeleteSchedule(ctx, sch.ID), ErrNotFound)

	// Logs outlive their schedule.
	logs, err := f.client.Logs(ctx, sch.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestReportsAndLogs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.client.Deliver(ctx, model.Report{ScheduleID: "a", Status: model.ReportSuccess, Timestamp: f.clock.Now()}))
	require.NoError(t, f.client.Deliver(ctx, model.Report{ScheduleID: "b", Status: model.ReportFailure, Message: "boom"}))
	require.NoError(t, f.client.Deliver(ctx, model.Report{ScheduleID: "a", Status: model.ReportFailure}))

	all, err := f.client.Logs(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ScheduleID)
	assert.Equal(t, "boom", all[1].Message)
	assert.NotEmpty(t, all[0].ID)
	assert.NotEqual(t, all[0].ID, all[2].ID)

	onlyA, err := f.client.Logs(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	// The query form lists the same entries as the path form.
	resp, err := http.Get(f.url + "/api/logs?scheduleId=b")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.ErrorIs(t, f.client.Deliver(ctx, model.Report{Status: model.ReportSuccess}), ErrInvalid)
	assert.ErrorIs(t, f.client.Deliver(ctx, model.Report{ScheduleID: "a", Status: "meh"}), ErrInvalid)
}

func TestDailyCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.client.PutSettings(ctx, model.Settings{MinInterval: 5, DailyCap: 2, MaxConcurrency: 5})
	require.NoError(t, err)

	rep := model.Report{ScheduleID: "a", Status: model.ReportSuccess}
	require.NoError(t, f.client.Deliver(ctx, rep))
	require.NoError(t, f.client.Deliver(ctx, rep))

	err = f.client.Deliver(ctx, rep)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, 2, f.svc.ReportsToday())

	f.svc.ResetDaily()
	require.NoError(t, f.client.Deliver(ctx, rep))

	// A new day reopens the cap even without the reset job.
	require.NoError(t, f.client.Deliver(ctx, rep))
	require.Error(t, f.client.Deliver(ctx, rep))
	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.client.Deliver(ctx, rep))
}

func TestInitCountsTodaysReports(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	for i, ts := range []time.Time{now.Add(-time.Hour), now.Add(-13 * time.Hour), now} {
		require.NoError(t, store.AppendLog(ctx, model.LogEntry{ID: string(rune('a' + i)), Report: model.Report{ScheduleID: "s", Timestamp: ts, Status: model.ReportSuccess}}))
	}

	svc := NewService(store, logx.Nop(), WithClock(func() time.Time { return now }))
	require.NoError(t, svc.Init(ctx))
	assert.Equal(t, 2, svc.ReportsToday())
}

func TestPruneKeepsNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(storage.NewMemory(), logx.Nop(), WithLogCap(2))

	for _, id := range []string{"1", "2", "3"} {
		_, err := svc.Report(ctx, model.Report{ScheduleID: id, Status: model.ReportSuccess})
		require.NoError(t, err)
	}
	n, err := svc.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	logs, err := svc.Logs(ctx, "")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "2", logs[0].ScheduleID)
	assert.Equal(t, "3", logs[1].ScheduleID)
}

func TestHandlerRejectsBadJSON(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	resp, err := http.Post(f.url+"/api/reports", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerRateLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rate.NewLimiter(rate.Every(time.Hour), 1))
	ctx := context.Background()

	_, err := f.client.ListSchedules(ctx)
	require.NoError(t, err)

	_, err = f.client.ListSchedules(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(storage.NewMemory(), logx.Nop())
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, svc, logx.Nop())

	require.NoError(t, srv.Start(ctx))
	require.NoError(t, srv.Start(ctx))
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	c, err := NewClient(ClientConfig{BaseURL: "http://" + addr, Timeout: time.Second})
	require.NoError(t, err)
	_, err = c.Settings(ctx)
	require.NoError(t, err)

	srv.Apply(ServerConfig{RatePerSec: 1, Burst: 1})
	_, _ = c.Settings(ctx)
	_, err = c.Settings(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(stopCtx))
	require.NoError(t, srv.Stop(stopCtx))
	assert.Empty(t, srv.Addr())
	assert.NoError(t, srv.Err())
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	t.Parallel()
	_, err := NewClient(ClientConfig{BaseURL: "/api"})
	assert.Error(t, err)

	c, err := NewClient(ClientConfig{BaseURL: "https://collector.example:8443/"})
	require.NoError(t, err)
	assert.Equal(t, "https://collector.example:8443", c.Origin().String())
}

func TestMaintenance(t *testing.T) {
	t.Parallel()
	svc := NewService(storage.NewMemory(), logx.Nop())
	m := NewMaintenance(svc, time.UTC, logx.Nop())

	require.Error(t, ValidateSpec("not a spec"))
	require.NoError(t, ValidateSpec(""))
	require.NoError(t, ValidateSpec("@every 1m"))
	require.Error(t, m.Start("nope", ""))

	require.NoError(t, m.Start("", ""))
	reset, prune := m.Next()
	assert.False(t, reset.IsZero())
	assert.False(t, prune.IsZero())
	assert.Equal(t, 0, reset.Hour())
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), prune, 5*time.Second)

	require.NoError(t, m.Start("0 3 * * *", "@every 1h"))
	reset, _ = m.Next()
	assert.Equal(t, 3, reset.Hour())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Stop(ctx)
	reset, _ = m.Next()
	assert.True(t, reset.IsZero())
}
