package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// RouteClass groups routes by abuse sensitivity. Each class has its own
// key namespace, so exhausting one class's budget never consumes
// another's.
type RouteClass string

const (
	// ClassPublic covers unauthenticated endpoints: tightest budget.
	ClassPublic RouteClass = "public"
	// ClassAuthenticated covers ordinary authenticated endpoints.
	ClassAuthenticated RouteClass = "auth"
	// ClassBilling covers money-moving endpoints: few requests over a
	// long window.
	ClassBilling RouteClass = "billing"
)

// Preset is a per-class window configuration.
type Preset struct {
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int64         `yaml:"max_requests" json:"max_requests"`
}

// DefaultPresets are the deployed per-class limits.
var DefaultPresets = map[RouteClass]Preset{
	ClassPublic:        {Window: time.Minute, MaxRequests: 20},
	ClassAuthenticated: {Window: time.Minute, MaxRequests: 120},
	ClassBilling:       {Window: 5 * time.Minute, MaxRequests: 10},
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the Retry-After header value: the whole
// seconds until the window resets, rounded up, never negative.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	return secs
}

// Limiter applies per-route-class request limits on top of an injected
// CounterStore. Counting resets hard at window boundaries rather than
// decaying continuously, trading slight under-blocking at window edges
// for O(1) cost per request.
type Limiter struct {
	store   CounterStore
	presets map[RouteClass]Preset
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Limiter. Nil presets fall back to DefaultPresets; a nil
// logger falls back to slog.Default().
func New(store CounterStore, presets map[RouteClass]Preset, logger *slog.Logger) *Limiter {
	if presets == nil {
		presets = DefaultPresets
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		store:   store,
		presets: presets,
		logger:  logger,
		now:     time.Now,
	}
}

// Check records one request from identity against the class budget.
// Identity must be derived from the transport (forwarded client IP or
// connection address), never from a client-supplied field. On a store
// failure the limiter fails open: abuse deterrence must not take the
// product down.
func (l *Limiter) Check(ctx context.Context, identity string, class RouteClass) Decision {
	preset, ok := l.presets[class]
	if !ok || preset.MaxRequests <= 0 {
		return Decision{Allowed: true}
	}

	key := string(class) + ":" + identity
	count, resetAt, err := l.store.Hit(ctx, key, preset.Window)
	if err != nil {
		l.logger.Error("ratelimit: counter store unavailable, failing open",
			slog.String("class", string(class)),
			slog.String("error", err.Error()))
		return Decision{Allowed: true}
	}

	remaining := preset.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	if count > preset.MaxRequests {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: resetAt.Sub(l.now()),
		}
	}
	return Decision{Allowed: true, Remaining: remaining}
}
