package reporter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreload/internal/eventbus"
	"autoreload/internal/model"
	logx "autoreload/pkg/logx"
)

func failing(n int32, calls *atomic.Int32) Transport {
	return TransportFunc(func(context.Context, model.Report) error {
		if calls.Add(1) <= n {
			return errors.New("503 Service Unavailable")
		}
		return nil
	})
}

func testConfig() Config {
	return Config{Attempts: 3, Backoff: 5 * time.Millisecond}
}

func TestSendSucceedsAfterTwoFailures(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	var calls atomic.Int32
	r := New(testConfig(), failing(2, &calls), logx.Nop(), bus)

	require.NoError(t, r.Send(context.Background(), model.Report{ScheduleID: "s1", Status: model.ReportSuccess}))
	assert.EqualValues(t, 3, calls.Load())

	ev := <-ch
	assert.Equal(t, eventbus.TypeReportSent, ev.Type)
	assert.Equal(t, 3, ev.Data.(Event).Attempts)
}

func TestSendExhausts(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	var calls atomic.Int32
	r := New(testConfig(), failing(100, &calls), logx.Nop(), bus)

	err := r.Send(context.Background(), model.Report{ScheduleID: "s1"})
	require.ErrorIs(t, err, ErrExhausted)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Contains(t, ex.Last.Error(), "503")
	assert.EqualValues(t, 3, calls.Load())

	ev := <-ch
	assert.Equal(t, eventbus.TypeReportFailed, ev.Type)
}

func TestSendWaitsFixedBackoff(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := New(Config{Attempts: 3, Backoff: 20 * time.Millisecond}, failing(100, &calls), logx.Nop(), nil)

	start := time.Now()
	require.Error(t, r.Send(context.Background(), model.Report{}))
	// two waits between three attempts, none after the last
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestSendAbortsOnCancel(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := New(Config{Attempts: 3, Backoff: time.Hour}, failing(100, &calls), logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Send(ctx, model.Report{}) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrExhausted)
	case <-time.After(time.Second):
		t.Fatal("send did not abort")
	}
}

func TestAttemptTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	tr := TransportFunc(func(ctx context.Context, _ model.Report) error {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	r := New(Config{Attempts: 3, Backoff: time.Millisecond, AttemptTimeout: 10 * time.Millisecond}, tr, logx.Nop(), nil)

	require.NoError(t, r.Send(context.Background(), model.Report{}))
	assert.EqualValues(t, 2, calls.Load())
}

func TestApplyNormalizes(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil, logx.Nop(), nil)
	assert.Equal(t, 3, r.Config().Attempts)

	r.Apply(Config{Attempts: 5, Backoff: -1})
	assert.Equal(t, 5, r.Config().Attempts)
	assert.Zero(t, r.Config().Backoff)

	require.Error(t, r.Send(context.Background(), model.Report{}))
}
