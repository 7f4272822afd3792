// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"net/http"
	"time"
)

// Plugin is the site-specific part of a target. Both functions must be
// free of I/O and deterministic for identical inputs.
type Plugin interface {
	// BuildRequests turns criteria into request tiers. nativeCategories is
	// the criteria's category list already translated for this target. An
	// empty chain is legal and yields an empty result.
	BuildRequests(c *Criteria, nativeCategories []string) (Chain, error)

	// ParseResponse extracts releases from one page. A page that renders
	// the target's "no results" state returns an empty slice and no error.
	// Malformed rows are skipped while other rows remain usable.
	ParseResponse(resp *Response) ([]*Release, error)
}

// Authenticator is implemented by plugins whose target needs a login.
type Authenticator interface {
	// IsLoginNeeded reports whether resp shows the session is not valid.
	IsLoginNeeded(resp *Response) bool
	// BuildLogin returns the requests that perform a login, run in order.
	BuildLogin(creds Credentials) (Batch, error)
	// IsLoginSuccessful inspects the last login response.
	IsLoginSuccessful(resp *Response) bool
}

// SessionExtractor is implemented by plugins whose session lives in headers
// (API tokens) instead of cookies.
type SessionExtractor interface {
	SessionHeaders(loginResponse *Response) http.Header
}

// SessionLifetime lets a plugin override the session validity reported by
// the target's login response, e.g. from a token expiry field.
type SessionLifetime interface {
	SessionExpiry(loginResponse *Response) time.Time
}

// PluginFunc adapts two plain functions to the Plugin interface.
type PluginFunc struct {
	Build func(c *Criteria, nativeCategories []string) (Chain, error)
	Parse func(resp *Response) ([]*Release, error)
}

func (p PluginFunc) BuildRequests(c *Criteria, nativeCategories []string) (Chain, error) {
	return p.Build(c, nativeCategories)
}

func (p PluginFunc) ParseResponse(resp *Response) ([]*Release, error) {
	return p.Parse(resp)
}
