package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// MinIntervalSeconds is the floor every schedule interval is clamped to.
const MinIntervalSeconds = 5

var (
	ErrInvalidTarget   = errors.New("target url must be an absolute http(s) url")
	ErrEmptyLabel      = errors.New("label is required")
	ErrInvalidCount    = errors.New("count must be a positive integer when set")
	ErrConsentRequired = errors.New("consent is required to create a schedule")
)

// ClampInterval raises seconds to MinIntervalSeconds.
func ClampInterval(seconds int) int {
	if seconds < MinIntervalSeconds {
		return MinIntervalSeconds
	}
	return seconds
}

// ParseTarget parses raw as an absolute http or https URL.
func ParseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidTarget
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, ErrInvalidTarget
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	return u, nil
}

// Validate checks the fields the engine depends on. Interval is not checked
// here because the engine clamps it.
func (s Schedule) Validate() error {
	if strings.TrimSpace(s.Label) == "" {
		return ErrEmptyLabel
	}
	if _, err := ParseTarget(s.TargetURL); err != nil {
		return err
	}
	if s.Count < 0 {
		return ErrInvalidCount
	}
	return nil
}

// Validate checks a create request against the collector's minimum interval.
func (r CreateRequest) Validate(minInterval int) error {
	if !r.Consent {
		return ErrConsentRequired
	}
	if strings.TrimSpace(r.Label) == "" {
		return ErrEmptyLabel
	}
	if _, err := ParseTarget(r.TargetURL); err != nil {
		return err
	}
	if r.Count < 0 {
		return ErrInvalidCount
	}
	if minInterval < MinIntervalSeconds {
		minInterval = MinIntervalSeconds
	}
	if r.IntervalSeconds < minInterval {
		return fmt.Errorf("interval must be at least %d seconds", minInterval)
	}
	return nil
}

// Validate checks settings bounds.
func (s Settings) Validate() error {
	if s.MinInterval < MinIntervalSeconds {
		return fmt.Errorf("minimum interval must be at least %d seconds", MinIntervalSeconds)
	}
	if s.DailyCap < 1 {
		return errors.New("daily cap must be at least 1")
	}
	if s.MaxConcurrency < 1 {
		return errors.New("max concurrency must be at least 1")
	}
	return nil
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
