// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package executor runs a target's requests: rate limiting, session
// artifacts, HTTP, login-needed detection with one re-login, status
// classification and bounded retry.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/indexer"
	"github.com/autobrr/trawl/internal/ratelimit"
	"github.com/autobrr/trawl/internal/session"
	"github.com/autobrr/trawl/internal/transport"
)

const (
	defaultRetryDelay     = 500 * time.Millisecond
	defaultMaxRetryDelay  = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// Observer receives per-request outcomes. kind is empty on success.
type Observer interface {
	ObserveRequest(targetID string, kind indexer.Kind, took time.Duration)
	ObserveLogin(targetID string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, indexer.Kind, time.Duration) {}
func (nopObserver) ObserveLogin(string, error)                         {}

// Config tunes retry and timeouts.
type Config struct {
	MaxRetries     int
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration
	RequestTimeout time.Duration
}

// Executor is safe for concurrent use by many target pipelines.
type Executor struct {
	doer     transport.Doer
	sessions *session.Store
	limiter  *ratelimit.Limiter
	observer Observer
	cfg      Config
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func New(doer transport.Doer, sessions *session.Store, limiter *ratelimit.Limiter, cfg Config, opts ...Option) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaultMaxRetryDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	e := &Executor{
		doer:     doer,
		sessions: sessions,
		limiter:  limiter,
		observer: nopObserver{},
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one request for target, retrying idempotent requests on
// transport failures, request timeouts and throttling.
func (e *Executor) Execute(ctx context.Context, target *indexer.Target, req *indexer.Request) (*indexer.Response, error) {
	id := target.ID()
	var resp *indexer.Response
	var relogged bool

	attempts := uint(1)
	if req.Idempotent() {
		attempts += uint(e.cfg.MaxRetries)
	}

	err := retry.Do(
		func() error {
			r, err := e.executeAuthenticated(ctx, target, req, &relogged)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(e.cfg.RetryDelay),
		retry.MaxDelay(e.cfg.MaxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return e.retryable(ctx, id, err)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Str("target", id).Uint("attempt", n+1).Msg("retrying request")
		}),
	)
	if err != nil {
		return nil, e.classify(ctx, id, err)
	}
	return resp, nil
}

func (e *Executor) retryable(ctx context.Context, id string, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch indexer.KindOf(err) {
	case indexer.KindTimeout:
		// Only the request deadline expired; the caller is still waiting.
		return true
	case indexer.KindTransport:
		var ie *indexer.Error
		if errors.As(err, &ie) && ie.StatusCode >= 400 && ie.StatusCode < 500 {
			return false
		}
		return true
	case indexer.KindRateLimited:
		// Pointless to wait out a cooldown that outlives the caller.
		if deadline, ok := ctx.Deadline(); ok {
			return e.now().Add(e.limiter.NextWait(id)).Before(deadline)
		}
		return true
	}
	return false
}

func (e *Executor) classify(ctx context.Context, id string, err error) error {
	if ctx.Err() != nil && !errors.Is(err, indexer.ErrAuth) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &indexer.Error{Kind: indexer.KindTimeout, Target: id, Err: err}
		}
		return &indexer.Error{Kind: indexer.KindCanceled, Target: id, Err: err}
	}
	return indexer.Classify(id, err)
}

// executeAuthenticated performs one attempt: ensure session, send, and on a
// login-needed response expire the session, log in once more and resend.
// relogged is shared by all attempts of one Execute call so a retry never
// buys a second re-login.
func (e *Executor) executeAuthenticated(ctx context.Context, target *indexer.Target, req *indexer.Request, relogged *bool) (*indexer.Response, error) {
	id := target.ID()
	sess := e.sessions.For(id)
	auth, _ := target.Plugin.(indexer.Authenticator)
	login := e.loginFunc(target, auth)

	needsSession := target.Definition.RequiresAuth || target.Credentials.Cookie != ""

	var gen uint64
	if needsSession {
		g, err := sess.Ensure(ctx, login)
		if err != nil {
			return nil, err
		}
		gen = g
	}

	resp, err := e.send(ctx, target, sess, req)
	if err != nil {
		return nil, err
	}
	if auth == nil || !auth.IsLoginNeeded(resp) {
		return e.checkStatus(target, resp)
	}

	if !needsSession {
		return nil, indexer.AuthFailure(id, errors.New("target asks for a login but is not configured for one"))
	}
	if *relogged {
		sess.Expire(gen)
		return nil, indexer.AuthFailure(id, errors.New("still asked to log in after re-authentication"))
	}
	*relogged = true

	log.Debug().Str("target", id).Uint64("generation", gen).Msg("target signalled login needed, re-authenticating")
	sess.Expire(gen)

	gen, err = sess.Ensure(ctx, login)
	if err != nil {
		return nil, err
	}

	resp, err = e.send(ctx, target, sess, req)
	if err != nil {
		return nil, err
	}
	if auth.IsLoginNeeded(resp) {
		sess.Expire(gen)
		return nil, indexer.AuthFailure(id, errors.New("still asked to log in after re-authentication"))
	}
	return e.checkStatus(target, resp)
}

func (e *Executor) send(ctx context.Context, target *indexer.Target, sess *session.Session, req *indexer.Request) (*indexer.Response, error) {
	id := target.ID()
	if err := e.limiter.Wait(ctx, id, target.Interval(e.limiter.DefaultInterval())); err != nil {
		var waitErr *ratelimit.WaitError
		if errors.As(err, &waitErr) {
			return nil, indexer.RateLimited(id, 0, waitErr.Wait)
		}
		return nil, err
	}

	start := e.now()
	resp, err := e.doer.Do(ctx, req, transport.Options{
		Jar:      sess.Jar(),
		Header:   sess.Header(),
		Timeout:  e.requestTimeout(target),
		Encoding: target.Definition.Encoding,
	})
	took := e.now().Sub(start)
	if err != nil {
		e.observer.ObserveRequest(id, indexer.KindOf(err), took)
		return nil, err
	}
	e.observer.ObserveRequest(id, "", took)
	return resp, nil
}

func (e *Executor) requestTimeout(target *indexer.Target) time.Duration {
	if target.Definition.RequestTimeout > 0 {
		return target.Definition.RequestTimeout
	}
	return e.cfg.RequestTimeout
}

// checkStatus turns non-success statuses into classified failures and
// updates the throttling state of the target.
func (e *Executor) checkStatus(target *indexer.Target, resp *indexer.Response) (*indexer.Response, error) {
	id := target.ID()
	status := resp.StatusCode

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "":
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), e.now())
		until := e.limiter.RecordFailure(id, retryAfter)
		log.Warn().Str("target", id).Int("status", status).Time("until", until).Msg("target is throttling requests")
		return nil, indexer.RateLimited(id, status, retryAfter)
	case status == http.StatusUnauthorized:
		return nil, &indexer.Error{Kind: indexer.KindAuth, Target: id, StatusCode: status, Err: errors.New("unauthorized")}
	case status >= 500:
		return nil, &indexer.Error{Kind: indexer.KindTransport, Target: id, StatusCode: status, Err: fmt.Errorf("server error")}
	case status >= 400:
		return nil, &indexer.Error{Kind: indexer.KindTransport, Target: id, StatusCode: status, Err: fmt.Errorf("request rejected")}
	}

	e.limiter.RecordSuccess(id)
	return resp, nil
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
