// Package ratelimit implements a per-endpoint sliding-window rate limiter.
//
// Each endpoint key owns a deque of request timestamps and its own lock.
// Acquire trims timestamps outside the window, admits the call if under the
// effective limit, or computes a wait and sleeps WITHOUT holding the lock —
// so a congested endpoint never blocks callers on other endpoints.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"polymarket-mm/pkg/clobtypes"
)

// Config describes the limit for one endpoint pattern. Burst/Sustained are
// optional secondary windows some endpoints also enforce (e.g. Polymarket's
// trading endpoints allow a 10s burst and a 600s sustained quota).
type Config struct {
	Limit            int
	Window           time.Duration
	Burst            int
	Sustained        int
	SustainedWindow  time.Duration
	Margin           float64 // (0,1], default 0.8
}

func (c Config) effectiveLimit() int {
	margin := c.Margin
	if margin <= 0 {
		margin = 0.8
	}
	return int(float64(c.Limit) * margin)
}

func (c Config) effectiveSustained() int {
	if c.Sustained == 0 {
		return 0
	}
	margin := c.Margin
	if margin <= 0 {
		margin = 0.8
	}
	return int(float64(c.Sustained) * margin)
}

type endpointState struct {
	mu              sync.Mutex
	timestamps      []time.Time
	sustainedStamps []time.Time
	lastAccess      time.Time
}

// Limiter guards per-endpoint request rates.
type Limiter struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	configs   map[string]Config
	defaultC  Config
}

// New constructs a Limiter with the given per-endpoint configuration table
// and a fallback default config for unknown endpoints.
func New(configs map[string]Config, defaultConfig Config) *Limiter {
	return &Limiter{
		endpoints: make(map[string]*endpointState),
		configs:   configs,
		defaultC:  defaultConfig,
	}
}

func (l *Limiter) configFor(key string) Config {
	if c, ok := l.configs[key]; ok {
		return c
	}
	return l.defaultC
}

func (l *Limiter) stateFor(key string) *endpointState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.endpoints[key]
	if !ok {
		st = &endpointState{}
		l.endpoints[key] = st
	}
	return st
}

// Acquire blocks until a slot for key is available or timeout elapses. The
// endpoint's lock is held only while inspecting/mutating the deque; any
// sleep happens with the lock released.
func (l *Limiter) Acquire(ctx context.Context, key string, timeout time.Duration) error {
	cfg := l.configFor(key)
	st := l.stateFor(key)
	start := time.Now()

	for {
		wait, admitted := l.tryAdmit(st, cfg)
		if admitted {
			return nil
		}

		if time.Since(start) >= timeout {
			return clobtypes.New(clobtypes.KindRateLimit, "rate limit exceeded", map[string]any{
				"endpoint":    key,
				"retry_after": wait.Seconds(),
			})
		}

		sleepFor := wait
		if sleepFor > time.Second {
			sleepFor = time.Second
		}
		if sleepFor <= 0 {
			sleepFor = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return clobtypes.Wrap(clobtypes.KindRateLimit, "rate limit wait cancelled", ctx.Err(), map[string]any{"endpoint": key})
		case <-time.After(sleepFor):
		}
	}
}

// tryAdmit attempts to admit one call for the endpoint, returning the
// computed wait duration if it could not (the wait is only a hint; the
// caller re-evaluates after sleeping).
func (l *Limiter) tryAdmit(st *endpointState, cfg Config) (wait time.Duration, admitted bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.lastAccess = now

	st.timestamps = trim(st.timestamps, now.Add(-cfg.Window))
	effLimit := cfg.effectiveLimit()

	sustainedOK := true
	if cfg.Sustained > 0 {
		st.sustainedStamps = trim(st.sustainedStamps, now.Add(-cfg.SustainedWindow))
		sustainedOK = len(st.sustainedStamps) < cfg.effectiveSustained()
	}

	if len(st.timestamps) < effLimit && sustainedOK {
		st.timestamps = append(st.timestamps, now)
		if cfg.Sustained > 0 {
			st.sustainedStamps = append(st.sustainedStamps, now)
		}
		return 0, true
	}

	if len(st.timestamps) >= effLimit && len(st.timestamps) > 0 {
		oldest := st.timestamps[0]
		w := cfg.Window - now.Sub(oldest)
		return w, false
	}
	// Sustained window is the binding constraint.
	if len(st.sustainedStamps) > 0 {
		oldest := st.sustainedStamps[0]
		w := cfg.SustainedWindow - now.Sub(oldest)
		return w, false
	}
	return cfg.Window, false
}

// trim drops timestamps at or before cutoff, preserving order (oldest
// first). The backing slice is shared across calls to avoid reallocation
// in the common case.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// CleanupStale drops endpoint state untouched for longer than ttl, bounding
// memory growth from transient or misspelled endpoint keys.
func (l *Limiter) CleanupStale(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, st := range l.endpoints {
		st.mu.Lock()
		stale := st.lastAccess.Before(cutoff)
		st.mu.Unlock()
		if stale {
			delete(l.endpoints, key)
			removed++
		}
	}
	return removed
}
