// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package registry owns the configured targets and the per-target state
// tied to their lifetime.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/indexer"
	"github.com/autobrr/trawl/internal/ratelimit"
	"github.com/autobrr/trawl/internal/session"
)

// Registry holds the current target set. Targets are replaced wholesale on
// reload; a Target value is never mutated once registered.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]*indexer.Target

	sessions *session.Store
	limiter  *ratelimit.Limiter
}

func New(sessions *session.Store, limiter *ratelimit.Limiter) *Registry {
	return &Registry{
		targets:  make(map[string]*indexer.Target),
		sessions: sessions,
		limiter:  limiter,
	}
}

// Replace installs a new target set. Sessions of removed targets, or of
// targets whose credentials changed, are dropped so the next request logs
// in again. Static cookies are seeded into fresh sessions.
func (r *Registry) Replace(targets []*indexer.Target) error {
	next := make(map[string]*indexer.Target, len(targets))
	for _, t := range targets {
		if t == nil || t.Definition == nil {
			return fmt.Errorf("target without definition")
		}
		if t.Plugin == nil {
			return fmt.Errorf("target %s has no plugin", t.Definition.ID)
		}
		if err := t.Definition.Validate(); err != nil {
			return err
		}
		if _, dup := next[t.ID()]; dup {
			return fmt.Errorf("duplicate target id %q", t.ID())
		}
		next[t.ID()] = t
	}

	r.mu.Lock()
	prev := r.targets
	r.targets = next
	r.mu.Unlock()

	for id, old := range prev {
		t, ok := next[id]
		switch {
		case !ok:
			r.sessions.Remove(id)
			r.limiter.Forget(id)
			log.Info().Str("target", id).Msg("target removed")
		case old.Credentials != t.Credentials || old.Definition.BaseURL() != t.Definition.BaseURL():
			r.sessions.Remove(id)
			log.Debug().Str("target", id).Msg("target credentials changed, session reset")
		}
	}

	for id, t := range next {
		old, existed := prev[id]
		if t.Credentials.Cookie == "" {
			continue
		}
		if existed && old.Credentials == t.Credentials {
			continue
		}
		if err := r.sessions.For(id).SeedCookies(t.Definition.BaseURL(), t.Credentials.Cookie); err != nil {
			return fmt.Errorf("target %s: %w", id, err)
		}
	}

	log.Debug().Int("targets", len(next)).Msg("target registry updated")
	return nil
}

// Get returns the target with id.
func (r *Registry) Get(id string) (*indexer.Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	return t, ok
}

// List returns all targets ordered by id.
func (r *Registry) List() []*indexer.Target {
	r.mu.RLock()
	out := make([]*indexer.Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Enabled returns the enabled targets ordered by id.
func (r *Registry) Enabled() []*indexer.Target {
	all := r.List()
	out := all[:0]
	for _, t := range all {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// Sessions exposes the session store for status queries.
func (r *Registry) Sessions() *session.Store {
	return r.sessions
}

// Limiter exposes the rate limiter for status queries.
func (r *Registry) Limiter() *ratelimit.Limiter {
	return r.limiter
}
