// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package session keeps the authentication state of each target: its cookie
// jar, header artifacts, expiry and a generation counter that lets callers
// invalidate exactly the session they observed.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/trawl/internal/indexer"
)

const defaultLoginTimeout = 15 * time.Second

// State is a session lifecycle state.
type State int

const (
	Unauthenticated State = iota
	LoggingIn
	Authenticated
	Expired
	Invalidated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case LoggingIn:
		return "logging_in"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	case Invalidated:
		return "invalidated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Artifacts are what a successful login leaves behind besides cookies.
type Artifacts struct {
	Header http.Header
	// ExpiresAt is zero for sessions that live until the target rejects them.
	ExpiresAt time.Time
}

// LoginFunc performs a login using jar, which starts empty. It returns the
// session artifacts on success.
type LoginFunc func(ctx context.Context, jar http.CookieJar) (Artifacts, error)

// ErrStaticRejected is returned once a target rejected a configured cookie.
var ErrStaticRejected = errors.New("configured cookie was rejected by the target")

// Session is the authentication state of one target.
type Session struct {
	targetID     string
	loginTimeout time.Duration
	now          func() time.Time

	mu         sync.Mutex
	state      State
	jar        http.CookieJar
	header     http.Header
	expiresAt  time.Time
	generation uint64
	static     bool
	lastErr    error
	lastLogin  time.Time

	group  singleflight.Group
	logins atomic.Int64
}

func newSession(targetID string, loginTimeout time.Duration, now func() time.Time) *Session {
	return &Session{
		targetID:     targetID,
		loginTimeout: loginTimeout,
		now:          now,
		jar:          newJar(),
		header:       make(http.Header),
	}
}

func newJar() http.CookieJar {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

// Ensure returns the generation of a usable session, logging in first when
// the session is unauthenticated, expired or invalidated. Concurrent callers
// share a single in-flight login. The login itself is not bound to ctx so a
// cancelled caller does not abort it for the others; a cancelled caller
// stops waiting and returns ctx.Err().
func (s *Session) Ensure(ctx context.Context, login LoginFunc) (uint64, error) {
	if gen, ok := s.valid(); ok {
		return gen, nil
	}

	s.mu.Lock()
	if s.static {
		err := s.lastErr
		s.mu.Unlock()
		if err == nil {
			err = ErrStaticRejected
		}
		return 0, indexer.AuthFailure(s.targetID, err)
	}
	s.mu.Unlock()

	if login == nil {
		return 0, indexer.AuthFailure(s.targetID, errors.New("target requires a login but has no login procedure"))
	}

	ch := s.group.DoChan("login", func() (any, error) {
		// Another caller may have finished a login between our check and
		// joining the group.
		if gen, ok := s.valid(); ok {
			return gen, nil
		}
		return s.login(context.WithoutCancel(ctx), login)
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(uint64), nil
	}
}

func (s *Session) valid() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Authenticated {
		return 0, false
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		s.state = Expired
		log.Debug().Str("target", s.targetID).Msg("session lifetime elapsed")
		return 0, false
	}
	return s.generation, true
}

func (s *Session) login(ctx context.Context, login LoginFunc) (uint64, error) {
	s.mu.Lock()
	s.state = LoggingIn
	s.mu.Unlock()

	timeout := s.loginTimeout
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	loginCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logins.Add(1)
	start := s.now()
	log.Debug().Str("target", s.targetID).Msg("logging in")

	jar := newJar()
	artifacts, err := login(loginCtx, jar)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = Invalidated
		s.lastErr = err
		log.Warn().Err(err).Str("target", s.targetID).Msg("login failed")
		var ie *indexer.Error
		if errors.As(err, &ie) {
			return 0, err
		}
		return 0, indexer.AuthFailure(s.targetID, err)
	}

	s.jar = jar
	s.header = artifacts.Header.Clone()
	if s.header == nil {
		s.header = make(http.Header)
	}
	s.expiresAt = artifacts.ExpiresAt
	s.generation++
	s.state = Authenticated
	s.lastErr = nil
	s.lastLogin = s.now()

	log.Info().
		Str("target", s.targetID).
		Dur("took", s.now().Sub(start)).
		Time("expires", s.expiresAt).
		Msg("login succeeded")

	return s.generation, nil
}

// Expire marks the session of generation gen as no longer valid. It is a
// no-op when gen is stale, i.e. another caller already logged in again.
// Static cookie sessions become Invalidated since they cannot re-login.
// It reports whether the call changed the state.
func (s *Session) Expire(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.state != Authenticated {
		return false
	}
	if s.static {
		s.state = Invalidated
		s.lastErr = ErrStaticRejected
		log.Warn().Str("target", s.targetID).Msg("configured cookie rejected")
		return true
	}
	s.state = Expired
	log.Debug().Str("target", s.targetID).Uint64("generation", gen).Msg("session expired by target")
	return true
}

// SeedCookies installs a static cookie header for rawURL and marks the
// session Authenticated without expiry.
func (s *Session) SeedCookies(rawURL, cookieHeader string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse cookie url: %w", err)
	}
	cookies, err := http.ParseCookie(cookieHeader)
	if err != nil {
		return fmt.Errorf("parse cookie header: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jar := newJar()
	jar.SetCookies(u, cookies)
	s.jar = jar
	s.static = true
	s.expiresAt = time.Time{}
	s.generation++
	s.state = Authenticated
	s.lastErr = nil
	return nil
}

// Jar returns the cookie jar of the current session.
func (s *Session) Jar() http.CookieJar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jar
}

// Header returns a copy of the session header artifacts.
func (s *Session) Header() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.Clone()
}

// Status is a point-in-time view of a session.
type Status struct {
	TargetID   string    `json:"targetId"`
	State      string    `json:"state"`
	Generation uint64    `json:"generation"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
	LastLogin  time.Time `json:"lastLogin,omitzero"`
	Logins     int64     `json:"logins"`
	Static     bool      `json:"static,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		TargetID:   s.targetID,
		State:      s.state.String(),
		Generation: s.generation,
		ExpiresAt:  s.expiresAt,
		LastLogin:  s.lastLogin,
		Logins:     s.logins.Load(),
		Static:     s.static,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Logins returns how many login attempts were made.
func (s *Session) Logins() int64 {
	return s.logins.Load()
}
