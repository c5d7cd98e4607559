package companion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

var ErrWindowClosed = errors.New("companion: window closed")

// HTTPConfig configures the headless HTTP companion.
type HTTPConfig struct {
	UserAgent       string
	NavigateTimeout time.Duration
	// MaxBodyBytes bounds how much of each response is read. The body is
	// drained so keep-alive connections can be reused.
	MaxBodyBytes int64
	Transport    http.RoundTripper
}

// HTTPOpener opens headless windows: a cookie-keeping HTTP client that loads
// the target like a browser tab would, minus rendering.
type HTTPOpener struct {
	cfg HTTPConfig
}

func NewHTTPOpener(cfg HTTPConfig) *HTTPOpener {
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "autoreload/1.0"
	}
	return &HTTPOpener{cfg: cfg}
}

func (o *HTTPOpener) Open(ctx context.Context) (Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	tr := o.cfg.Transport
	if tr == nil {
		tr = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &httpWindow{
		cfg:    o.cfg,
		client: &http.Client{Jar: jar, Transport: tr},
	}, nil
}

type httpWindow struct {
	cfg    HTTPConfig
	client *http.Client

	mu      sync.Mutex
	closed  bool
	current string
}

func (w *httpWindow) Navigate(ctx context.Context, url string) error {
	if w.Closed() {
		return ErrWindowClosed
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.NavigateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", w.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, w.cfg.MaxBodyBytes))

	w.mu.Lock()
	w.current = url
	w.mu.Unlock()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", url, resp.Status)
	}
	return nil
}

// Focus is a no-op for a headless window.
func (w *httpWindow) Focus() error {
	if w.Closed() {
		return ErrWindowClosed
	}
	return nil
}

func (w *httpWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.client.CloseIdleConnections()
	return nil
}

func (w *httpWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Location returns the last URL navigated to.
func (w *httpWindow) Location() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}
