package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autoreload/internal/model"
)

const clientUserAgent = "autoreload/1.0"

// APIError is a non-2xx answer from the collector.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("collector: HTTP %d", e.Status)
	}
	return fmt.Sprintf("collector: HTTP %d: %s", e.Status, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrInvalid:
		return e.Status == http.StatusBadRequest
	}
	return false
}

type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// HTTP overrides the underlying client; Timeout is ignored when set.
	HTTP *http.Client
}

// Client talks to a collector over its REST API.
type Client struct {
	base *url.URL
	ua   string
	http *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("collector url %q: must be absolute", cfg.BaseURL)
	}
	hc := cfg.HTTP
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = clientUserAgent
	}
	return &Client{base: base, ua: ua, http: hc}, nil
}

// Origin returns the collector origin.
func (c *Client) Origin() *url.URL {
	return &url.URL{Scheme: c.base.Scheme, Host: c.base.Host}
}

func (c *Client) CreateSchedule(ctx context.Context, req model.CreateRequest) (model.Schedule, error) {
	var out model.Schedule
	err := c.do(ctx, http.MethodPost, "/api/schedules", req, &out)
	return out, err
}

func (c *Client) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	var out []model.Schedule
	err := c.do(ctx, http.MethodGet, "/api/schedules", nil, &out)
	return out, err
}

func (c *Client) UpdateSchedule(ctx context.Context, id string, patch model.SchedulePatch) (model.Schedule, error) {
	var out model.Schedule
	err := c.do(ctx, http.MethodPut, "/api/schedules/"+url.PathEscape(id), patch, &out)
	return out, err
}

// SetStatus is the status-only update the client runner syncs with.
func (c *Client) SetStatus(ctx context.Context, id string, st model.Status) error {
	_, err := c.UpdateSchedule(ctx, id, model.SchedulePatch{Status: &st})
	return err
}

func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/schedules/"+url.PathEscape(id), nil, nil)
}

// Deliver posts one firing outcome. Any 2xx is success.
func (c *Client) Deliver(ctx context.Context, r model.Report) error {
	return c.do(ctx, http.MethodPost, "/api/reports", r, nil)
}

// Logs lists log entries, all of them when scheduleID is empty.
func (c *Client) Logs(ctx context.Context, scheduleID string) ([]model.LogEntry, error) {
	path := "/api/logs"
	if scheduleID != "" {
		path += "/" + url.PathEscape(scheduleID)
	}
	var out []model.LogEntry
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Settings(ctx context.Context) (model.Settings, error) {
	var out model.Settings
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, &out)
	return out, err
}

func (c *Client) PutSettings(ctx context.Context, s model.Settings) (model.Settings, error) {
	var out model.Settings
	err := c.do(ctx, http.MethodPut, "/api/settings", s, &out)
	return out, err
}

func (c *Client) Audit(ctx context.Context) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	err := c.do(ctx, http.MethodGet, "/api/audit", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Error
		if decodeErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
