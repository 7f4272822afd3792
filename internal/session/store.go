// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"sort"
	"sync"
	"time"
)

// Store owns one Session per target, created lazily.
type Store struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	loginTimeout time.Duration
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLoginTimeout bounds each login procedure.
func WithLoginTimeout(d time.Duration) Option {
	return func(s *Store) { s.loginTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:     make(map[string]*Session),
		loginTimeout: defaultLoginTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// For returns the session of targetID, creating it on first use.
func (s *Store) For(targetID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[targetID]
	if !ok {
		sess = newSession(targetID, s.loginTimeout, s.now)
		s.sessions[targetID] = sess
	}
	return sess
}

// Remove drops the session of a target removed from configuration.
func (s *Store) Remove(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, targetID)
}

// Lookup returns the session of targetID if one was created.
func (s *Store) Lookup(targetID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[targetID]
	return sess, ok
}

// Statuses returns a snapshot of every session ordered by target id.
func (s *Store) Statuses() []Status {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}
