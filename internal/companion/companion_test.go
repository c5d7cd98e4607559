package companion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreload/internal/notice"
	logx "autoreload/pkg/logx"
)

type fakeWindow struct {
	mu       sync.Mutex
	visits   []string
	focuses  int
	closes   int
	closed   bool
	navErr   error
	closeErr error
}

func (w *fakeWindow) Navigate(_ context.Context, url string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.navErr != nil {
		return w.navErr
	}
	w.visits = append(w.visits, url)
	return nil
}

func (w *fakeWindow) Focus() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.focuses++
	return nil
}

func (w *fakeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	w.closed = true
	return w.closeErr
}

func (w *fakeWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// closeExternally simulates the user closing the window.
func (w *fakeWindow) closeExternally() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

type countingOpener struct {
	opened []*fakeWindow
	err    error
}

func (o *countingOpener) Open(context.Context) (Window, error) {
	if o.err != nil {
		return nil, o.err
	}
	w := &fakeWindow{}
	o.opened = append(o.opened, w)
	return w, nil
}

func TestNavigateOpensThenReusesAndFocuses(t *testing.T) {
	t.Parallel()

	op := &countingOpener{}
	rec := &notice.Recorder{}
	c := NewController(op, logx.Nop(), rec)

	require.NoError(t, c.Navigate(context.Background(), "s1", "https://example.com/a"))
	require.NoError(t, c.Navigate(context.Background(), "s1", "https://example.com/b"))

	require.Len(t, op.opened, 1)
	w := op.opened[0]
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, w.visits)
	assert.Equal(t, 1, w.focuses, "only the reused window is refocused")
	assert.Zero(t, rec.Count(notice.LevelWarning))
}

func TestNavigateReopensAfterExternalClose(t *testing.T) {
	t.Parallel()

	op := &countingOpener{}
	c := NewController(op, logx.Nop(), nil)

	require.NoError(t, c.Navigate(context.Background(), "s1", "https://example.com"))
	op.opened[0].closeExternally()
	require.NoError(t, c.Navigate(context.Background(), "s1", "https://example.com"))

	require.Len(t, op.opened, 2)
	assert.Same(t, op.opened[1], c.Current())
}

func TestOpenFailureIsAWarning(t *testing.T) {
	t.Parallel()

	op := &countingOpener{err: errors.New("popup blocked")}
	rec := &notice.Recorder{}
	c := NewController(op, logx.Nop(), rec)

	err := c.Ensure(context.Background(), "s1")
	require.Error(t, err)
	assert.Nil(t, c.Current())
	assert.Equal(t, 1, rec.Count(notice.LevelWarning))
	assert.Zero(t, rec.Count(notice.LevelError))

	err = c.Navigate(context.Background(), "s1", "https://example.com")
	require.Error(t, err)
	assert.Equal(t, 2, rec.Count(notice.LevelWarning))
}

func TestNoOpener(t *testing.T) {
	t.Parallel()

	rec := &notice.Recorder{}
	c := NewController(nil, logx.Nop(), rec)
	require.ErrorIs(t, c.Ensure(context.Background(), "s1"), ErrNoOpener)
	assert.Equal(t, 1, rec.Count(notice.LevelWarning))
}

func TestNavigateFailureIsWrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	w := &fakeWindow{navErr: boom}
	rec := &notice.Recorder{}
	c := NewController(nil, logx.Nop(), rec)
	c.Attach(w)

	err := c.Navigate(context.Background(), "s1", "https://example.com")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, rec.Count(notice.LevelWarning))
	assert.Same(t, w, c.Current(), "a failed navigation keeps the window")
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	w := &fakeWindow{}
	c := NewController(nil, logx.Nop(), nil)
	c.Attach(w)

	c.Close()
	c.Close()
	assert.Equal(t, 1, w.closes)
	assert.Nil(t, c.Current())
}

func TestCloseSkipsExternallyClosedWindow(t *testing.T) {
	t.Parallel()

	w := &fakeWindow{}
	c := NewController(nil, logx.Nop(), nil)
	c.Attach(w)
	w.closeExternally()

	c.Close()
	assert.Zero(t, w.closes)
}

func TestCloseSwallowsErrors(t *testing.T) {
	t.Parallel()

	w := &fakeWindow{closeErr: errors.New("already gone")}
	c := NewController(nil, logx.Nop(), nil)
	c.Attach(w)
	assert.NotPanics(t, c.Close)
}

func TestAttachReplacesPreviousWindow(t *testing.T) {
	t.Parallel()

	first, second := &fakeWindow{}, &fakeWindow{}
	c := NewController(nil, logx.Nop(), nil)
	c.Attach(first)
	c.Attach(first)
	assert.Zero(t, first.closes)

	c.Attach(second)
	assert.Equal(t, 1, first.closes)
	assert.Same(t, second, c.Current())
}

func TestPanickingOpenerIsContained(t *testing.T) {
	t.Parallel()

	op := OpenerFunc(func(context.Context) (Window, error) { panic("no display") })
	rec := &notice.Recorder{}
	c := NewController(op, logx.Nop(), rec)

	err := c.Ensure(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no display")
	assert.Equal(t, 1, rec.Count(notice.LevelWarning))
}

func TestHTTPWindow(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotUA.Store(r.Header.Get("User-Agent"))
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1"})
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	op := NewHTTPOpener(HTTPConfig{UserAgent: "test-agent"})
	w, err := op.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, w.Navigate(context.Background(), srv.URL+"/page"))
	assert.Equal(t, "test-agent", gotUA.Load())
	assert.Equal(t, srv.URL+"/page", w.(*httpWindow).Location())

	err = w.Navigate(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	require.NoError(t, w.Focus())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.True(t, w.Closed())
	require.ErrorIs(t, w.Navigate(context.Background(), srv.URL), ErrWindowClosed)
	require.ErrorIs(t, w.Focus(), ErrWindowClosed)
	assert.EqualValues(t, 2, hits.Load())
}

func TestHTTPOpenerRespectsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPOpener(HTTPConfig{}).Open(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
