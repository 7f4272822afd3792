// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/autobrr/trawl/internal/indexer"
	"github.com/autobrr/trawl/internal/session"
	"github.com/autobrr/trawl/internal/transport"
)

// loginFunc returns the login procedure of target, or nil when it has none
// (public targets and static cookie targets).
func (e *Executor) loginFunc(target *indexer.Target, auth indexer.Authenticator) session.LoginFunc {
	creds := target.Credentials
	if auth == nil || (!creds.HasLogin() && creds.APIKey == "" && creds.Passkey == "") {
		return nil
	}
	id := target.ID()

	return func(ctx context.Context, jar http.CookieJar) (session.Artifacts, error) {
		artifacts, err := e.login(ctx, target, auth, jar)
		e.observer.ObserveLogin(id, err)
		return artifacts, err
	}
}

func (e *Executor) login(ctx context.Context, target *indexer.Target, auth indexer.Authenticator, jar http.CookieJar) (session.Artifacts, error) {
	id := target.ID()

	batch, err := auth.BuildLogin(target.Credentials)
	if err != nil {
		return session.Artifacts{}, indexer.AuthFailure(id, fmt.Errorf("build login: %w", err))
	}
	if len(batch) == 0 {
		return session.Artifacts{}, indexer.AuthFailure(id, errors.New("login procedure is empty"))
	}

	var last *indexer.Response
	for i, req := range batch {
		if err := e.limiter.Wait(ctx, id, target.Interval(e.limiter.DefaultInterval())); err != nil {
			return session.Artifacts{}, indexer.AuthFailure(id, err)
		}

		step := *req
		step.FollowRedirects = true

		resp, err := e.doer.Do(ctx, &step, transport.Options{
			Jar:      jar,
			Timeout:  e.requestTimeout(target),
			Encoding: target.Definition.Encoding,
		})
		if err != nil {
			return session.Artifacts{}, indexer.AuthFailure(id, fmt.Errorf("login step %d: %w", i+1, err))
		}
		if resp.StatusCode >= 500 {
			return session.Artifacts{}, indexer.AuthFailure(id, fmt.Errorf("login step %d: status %d", i+1, resp.StatusCode))
		}
		last = resp
	}

	if !auth.IsLoginSuccessful(last) {
		return session.Artifacts{}, indexer.AuthFailure(id, errors.New("login rejected by target"))
	}

	artifacts := session.Artifacts{}
	if ext, ok := target.Plugin.(indexer.SessionExtractor); ok {
		artifacts.Header = ext.SessionHeaders(last)
	}
	if lt, ok := target.Plugin.(indexer.SessionLifetime); ok {
		artifacts.ExpiresAt = lt.SessionExpiry(last)
	}
	if artifacts.ExpiresAt.IsZero() && target.Definition.SessionTTL > 0 {
		artifacts.ExpiresAt = e.now().Add(target.Definition.SessionTTL)
	}
	return artifacts, nil
}
