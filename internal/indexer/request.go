// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"net/http"
	"net/url"
	"strings"
)

// Request describes one HTTP call a plugin wants executed. It carries no
// session state; cookies and session headers are attached by the executor.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Accept is the expected response media type, sent as the Accept header
	// when Header does not set one.
	Accept string
	// FollowRedirects lets the transport chase 3xx responses. Search requests
	// leave it off so login redirects stay observable.
	FollowRedirects bool
}

// NewRequest returns a GET request for rawURL.
func NewRequest(rawURL string) *Request {
	return &Request{Method: http.MethodGet, URL: rawURL, Header: make(http.Header)}
}

// NewFormRequest returns a form-encoded POST request.
func NewFormRequest(rawURL string, form url.Values) *Request {
	h := make(http.Header)
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return &Request{
		Method: http.MethodPost,
		URL:    rawURL,
		Header: h,
		Body:   []byte(form.Encode()),
	}
}

// Idempotent reports whether the request may be replayed safely.
func (r *Request) Idempotent() bool {
	switch strings.ToUpper(r.Method) {
	case "", http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

// Batch is an ordered sequence of requests; for searches each entry is the
// next page of the same query.
type Batch []*Request

// Chain is an ordered list of alternative strategies. The executor tries
// each tier in turn and stops at the first one that yields releases.
type Chain []Batch

// Single wraps one request as a single-tier chain.
func Single(r *Request) Chain {
	return Chain{Batch{r}}
}

// Add appends a tier, skipping empty batches.
func (c Chain) Add(b Batch) Chain {
	if len(b) == 0 {
		return c
	}
	return append(c, b)
}

// Len returns the total number of requests across tiers.
func (c Chain) Len() int {
	n := 0
	for _, b := range c {
		n += len(b)
	}
	return n
}

// Response is the raw outcome of one executed request with the body already
// decoded to UTF-8.
type Response struct {
	Request    *Request
	StatusCode int
	Header     http.Header
	Body       []byte
	// RedirectURL is the Location of an unfollowed redirect, resolved against
	// the request URL.
	RedirectURL string
}

// Content returns the body as a string.
func (r *Response) Content() string {
	return string(r.Body)
}

// IsRedirect reports whether the target answered with an unfollowed redirect.
func (r *Response) IsRedirect() bool {
	return r.RedirectURL != "" && r.StatusCode >= 300 && r.StatusCode < 400
}
