// Package ratelimit implements fixed-window counters per subject (a user
// or an origin) and per-user connection capacity.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tastechat/backend/internal/config"
	"tastechat/backend/internal/metrics"

	"github.com/rs/zerolog"
)

// Window identifies a counter family.
type Window string

const (
	WindowMessageMinute    Window = "message_minute"
	WindowMessageHour      Window = "message_hour"
	WindowConnectionMinute Window = "connection_minute"
)

var (
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrUnknownWindow = errors.New("unknown rate limit window")
)

// Rule is the ceiling for one window.
type Rule struct {
	Limit  int
	Length time.Duration
}

// Rules maps each window to its ceiling.
type Rules map[Window]Rule

// RulesFromConfig builds the rule set from the configured limits.
func RulesFromConfig(l config.Limits) Rules {
	return Rules{
		WindowMessageMinute:    {Limit: l.MessagesPerMinute, Length: time.Minute},
		WindowMessageHour:      {Limit: l.MessagesPerHour, Length: time.Hour},
		WindowConnectionMinute: {Limit: l.ConnectionsPerMinute, Length: time.Minute},
	}
}

// Counter is one subject's count for the window starting at WindowStart.
type Counter struct {
	SubjectID   string
	Window      Window
	WindowStart time.Time
	Length      time.Duration
	Count       int
}

// Expired reports whether the counter's window has fully elapsed at now.
func (c *Counter) Expired(now time.Time) bool {
	return !now.Before(c.WindowStart.Add(c.Length))
}

// Store persists counters. Increment must be atomic per (subject, window)
// and must not increment past rule.Limit. Peek reads a count without
// changing it; a missing counter reads as zero.
type Store interface {
	Increment(ctx context.Context, subjectID string, window Window, windowStart time.Time, rule Rule) (count int, allowed bool, err error)
	Peek(ctx context.Context, subjectID string, window Window, windowStart time.Time) (int, error)
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// Quota is the state of a counter after a check.
type Quota struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ThrottleError is returned when a ceiling is reached. It matches
// ErrRateLimited with errors.Is.
type ThrottleError struct {
	Window Window
	Quota
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d per %s, resets at %s", e.Limit, e.Window, e.ResetAt.Format(time.RFC3339))
}

func (e *ThrottleError) Is(target error) bool {
	return target == ErrRateLimited
}

// Limiter checks and increments counters against configured rules.
type Limiter struct {
	store  Store
	rules  Rules
	logger zerolog.Logger
	now    func() time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(store Store, rules Rules, logger zerolog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		rules:  rules,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// CheckAndIncrement counts one event for subjectID in the current window.
// When the ceiling is already reached the counter is left unchanged and a
// *ThrottleError is returned. Store failures are logged and let the event
// through, so an unavailable counter backend does not take chat down.
func (l *Limiter) CheckAndIncrement(ctx context.Context, subjectID string, window Window) (Quota, error) {
	rule, ok := l.rules[window]
	if !ok {
		return Quota{}, fmt.Errorf("%w: %s", ErrUnknownWindow, window)
	}

	now := l.now()
	start := now.Truncate(rule.Length)
	quota := Quota{Limit: rule.Limit, ResetAt: start.Add(rule.Length)}

	count, allowed, err := l.store.Increment(ctx, subjectID, window, start, rule)
	if err != nil {
		l.logger.Error().Err(err).Str("subject", subjectID).Str("window", string(window)).Msg("rate limit store failed, allowing")
		quota.Remaining = rule.Limit
		return quota, nil
	}

	quota.Remaining = rule.Limit - count
	if quota.Remaining < 0 {
		quota.Remaining = 0
	}

	if !allowed {
		return quota, l.reject(subjectID, window, quota)
	}
	return quota, nil
}

// CheckAndIncrementAll counts one event in every window, or in none of
// them: all ceilings are checked before any counter moves. A concurrent
// event for the same subject can still win the last unit of a later
// window, in which case the earlier windows keep their increment.
func (l *Limiter) CheckAndIncrementAll(ctx context.Context, subjectID string, windows ...Window) error {
	now := l.now()
	for _, window := range windows {
		rule, ok := l.rules[window]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownWindow, window)
		}

		start := now.Truncate(rule.Length)
		count, err := l.store.Peek(ctx, subjectID, window, start)
		if err != nil {
			l.logger.Error().Err(err).Str("subject", subjectID).Str("window", string(window)).Msg("rate limit store failed, allowing")
			continue
		}
		if count >= rule.Limit {
			return l.reject(subjectID, window, Quota{Limit: rule.Limit, ResetAt: start.Add(rule.Length)})
		}
	}

	for _, window := range windows {
		if _, err := l.CheckAndIncrement(ctx, subjectID, window); err != nil {
			return err
		}
	}
	return nil
}

func (l *Limiter) reject(subjectID string, window Window, quota Quota) error {
	metrics.RateLimitHits.WithLabelValues(string(window)).Inc()
	l.logger.Warn().
		Str("event", "rate_limit_exceeded").
		Str("subject", subjectID).
		Str("window", string(window)).
		Int("limit", quota.Limit).
		Msg("rate limit exceeded")
	return &ThrottleError{Window: window, Quota: quota}
}

// Cleanup discards counters whose window has elapsed.
func (l *Limiter) Cleanup(ctx context.Context) (int, error) {
	return l.store.Cleanup(ctx, l.now())
}
