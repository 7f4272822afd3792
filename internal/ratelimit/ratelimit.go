// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ratelimit gates requests per target: a minimum interval between
// consecutive requests plus escalating cooldowns when a target throttles us.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// escalationPeriods defines cooldown durations for repeated throttling.
// Escalates with consecutive failures, resets on success.
var escalationPeriods = []time.Duration{
	0,
	30 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
}

// WaitError is returned when the required wait exceeds the caller's limit.
type WaitError struct {
	TargetID string
	Wait     time.Duration
	MaxWait  time.Duration
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("target %s blocked by rate limit: requires %s wait but maximum allowed is %s", e.TargetID, e.Wait, e.MaxWait)
}

func (e *WaitError) Is(target error) bool {
	_, ok := target.(*WaitError)
	return ok
}

type targetState struct {
	// next is the earliest time the next request may start. It already
	// includes every reservation handed out so far.
	next            time.Time
	cooldownUntil   time.Time
	escalationLevel int
}

// Limiter tracks per-target request timing. All state for one target is
// guarded by the same lock, so concurrent searches share one clock.
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	maxWait     time.Duration
	states      map[string]*targetState
	now         func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMaxWait makes Wait fail fast with a *WaitError instead of sleeping
// longer than d.
func WithMaxWait(d time.Duration) Option {
	return func(l *Limiter) { l.maxWait = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter whose default interval applies to targets that do
// not declare their own.
func New(minInterval time.Duration, opts ...Option) *Limiter {
	if minInterval < 0 {
		minInterval = 0
	}
	l := &Limiter{
		minInterval: minInterval,
		states:      make(map[string]*targetState),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultInterval returns the interval used when a target declares none.
func (l *Limiter) DefaultInterval() time.Duration {
	return l.minInterval
}

// Wait blocks until targetID may issue its next request. The slot is
// reserved before sleeping, so N callers are released at least interval
// apart regardless of arrival order. A cancelled wait keeps its reservation
// consumed.
func (l *Limiter) Wait(ctx context.Context, targetID string, interval time.Duration) error {
	if interval <= 0 {
		interval = l.minInterval
	}

	l.mu.Lock()
	now := l.now()
	state := l.getStateLocked(targetID)

	slot := now
	if state.next.After(slot) {
		slot = state.next
	}
	if state.cooldownUntil.After(slot) {
		slot = state.cooldownUntil
	}
	wait := slot.Sub(now)
	if l.maxWait > 0 && wait > l.maxWait {
		l.mu.Unlock()
		return &WaitError{TargetID: targetID, Wait: wait, MaxWait: l.maxWait}
	}
	state.next = slot.Add(interval)
	l.mu.Unlock()

	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NextWait reports how long a request to targetID would wait right now
// without reserving anything.
func (l *Limiter) NextWait(targetID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state := l.getStateLocked(targetID)
	var wait time.Duration
	if d := state.next.Sub(now); d > wait {
		wait = d
	}
	if d := state.cooldownUntil.Sub(now); d > wait {
		wait = d
	}
	return wait
}

// SetCooldown blocks targetID until the given time. An earlier cooldown
// never shortens a longer one already in place.
func (l *Limiter) SetCooldown(targetID string, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.getStateLocked(targetID)
	if until.After(state.cooldownUntil) {
		state.cooldownUntil = until
	}
}

// LoadCooldowns seeds the limiter with pre-existing cooldown windows.
func (l *Limiter) LoadCooldowns(cooldowns map[string]time.Time) {
	if len(cooldowns) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for targetID, until := range cooldowns {
		if until.IsZero() {
			continue
		}
		state := l.getStateLocked(targetID)
		if until.After(state.cooldownUntil) {
			state.cooldownUntil = until
		}
	}
}

func (l *Limiter) ClearCooldown(targetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.getStateLocked(targetID).cooldownUntil = time.Time{}
}

// RecordFailure increments the escalation level and applies the matching
// cooldown, returning the cooldown until time (zero when none applies).
// A target-provided retryAfter longer than the escalation period wins.
func (l *Limiter) RecordFailure(targetID string, retryAfter time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.getStateLocked(targetID)
	if state.escalationLevel < len(escalationPeriods)-1 {
		state.escalationLevel++
	}

	cooldown := escalationPeriods[state.escalationLevel]
	if retryAfter > cooldown {
		cooldown = retryAfter
	}
	if cooldown <= 0 {
		return time.Time{}
	}

	until := l.now().Add(cooldown)
	if until.After(state.cooldownUntil) {
		state.cooldownUntil = until
	}
	return state.cooldownUntil
}

// RecordSuccess resets the escalation level.
func (l *Limiter) RecordSuccess(targetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.getStateLocked(targetID).escalationLevel = 0
}

// IsInCooldown checks if a target is currently in cooldown without blocking.
func (l *Limiter) IsInCooldown(targetID string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[targetID]
	if !ok {
		return false, time.Time{}
	}
	if state.cooldownUntil.After(l.now()) {
		return true, state.cooldownUntil
	}
	return false, time.Time{}
}

// Cooldowns returns the targets currently in cooldown.
func (l *Limiter) Cooldowns() map[string]time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cooldowns := make(map[string]time.Time)
	for targetID, state := range l.states {
		if state.cooldownUntil.After(now) {
			cooldowns[targetID] = state.cooldownUntil
		}
	}
	return cooldowns
}

// Forget drops all state for a removed target.
func (l *Limiter) Forget(targetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.states, targetID)
}

func (l *Limiter) getStateLocked(targetID string) *targetState {
	state, ok := l.states[targetID]
	if !ok {
		state = &targetState{}
		l.states[targetID] = state
	}
	return state
}
