package notice

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreload/internal/eventbus"
	logx "autoreload/pkg/logx"
)

func TestServiceHistoryAndBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	var out bytes.Buffer
	svc := New(Config{Console: true, History: 2}, &out, logx.Nop(), bus)
	svc.Notify(Notice{Level: LevelInfo, Title: "one"})
	svc.Notify(Notice{Level: LevelWarning, Title: "two", Detail: "popup blocked"})
	svc.Notify(Notice{Level: LevelError, Title: "three"})

	hist := svc.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "two", hist[0].Title)
	assert.Equal(t, "three", hist[1].Title)

	select {
	case e := <-ch:
		assert.Equal(t, eventbus.TypeNotice, e.Type)
		n, ok := e.Data.(Notice)
		require.True(t, ok)
		assert.Equal(t, "one", n.Title)
	case <-time.After(time.Second):
		t.Fatal("notice not published")
	}

	assert.Contains(t, out.String(), "[WARNING] two - popup blocked")
}

func TestServiceConsoleRateLimited(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	svc := New(Config{Console: true, RatePerSec: 1}, &out, logx.Nop(), nil)
	for i := 0; i < 5; i++ {
		svc.Notify(Notice{Level: LevelInfo, Title: "spam"})
	}
	assert.Equal(t, 1, strings.Count(out.String(), "spam"))
	assert.Len(t, svc.History(), 5)
}

func TestRecorderCount(t *testing.T) {
	t.Parallel()
	var r Recorder
	r.Notify(Notice{Level: LevelError})
	r.Notify(Notice{Level: LevelWarning})
	r.Notify(Notice{Level: LevelError})
	assert.Equal(t, 2, r.Count(LevelError))
	assert.Len(t, r.All(), 3)
}
