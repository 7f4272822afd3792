// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transport executes request descriptors over HTTP with a caller
// supplied cookie jar and decodes bodies into UTF-8.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/autobrr/trawl/internal/buildinfo"
	"github.com/autobrr/trawl/internal/indexer"
)

const (
	maxResponseBytes int64 = 16 << 20 // 16 MiB safety limit for result pages
	maxRedirects           = 10
	defaultTimeout         = 30 * time.Second
)

// Doer executes a single request. The executor depends on this rather than
// on *Client so tests can substitute it.
type Doer interface {
	Do(ctx context.Context, req *indexer.Request, opts Options) (*indexer.Response, error)
}

// Options are the per-call settings of a request.
type Options struct {
	Jar     http.CookieJar
	Header  http.Header
	Timeout time.Duration
	// Encoding is the charset of the response body; empty means UTF-8.
	Encoding string
}

// Client is the HTTP execution primitive shared by all targets. It holds the
// pooled transport; cookie state is passed per call.
type Client struct {
	transport http.RoundTripper
	userAgent string
}

func NewClient(rt http.RoundTripper) *Client {
	if rt == nil {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &Client{transport: rt, userAgent: buildinfo.UserAgent}
}

// Do executes req. Non-2xx statuses are returned as responses, not errors;
// only failures to get a response at all become TransportFailure errors.
func (c *Client) Do(ctx context.Context, req *indexer.Request, opts Options) (*indexer.Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, vs := range opts.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if req.Accept != "" && httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", req.Accept)
	}

	client := &http.Client{
		Transport: c.transport,
		Jar:       opts.Jar,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if !req.FollowRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, classifyTransportError(fmt.Errorf("read body: %w", err))
	}
	if int64(len(raw)) > maxResponseBytes {
		return nil, indexer.TransportFailure("", fmt.Errorf("response exceeds %d bytes", maxResponseBytes))
	}

	decoded, err := Decode(raw, opts.Encoding, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, indexer.ParseFailure("", err)
	}

	out := &indexer.Response{
		Request:    req,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       decoded,
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		out.RedirectURL = resolveLocation(resp.Request.URL, resp.Header.Get("Location"))
	}
	return out, nil
}

func resolveLocation(base *url.URL, location string) string {
	if location == "" {
		return ""
	}
	loc, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(loc).String()
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &indexer.Error{Kind: indexer.KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &indexer.Error{Kind: indexer.KindCanceled, Err: err}
	}
	return indexer.TransportFailure("", err)
}

// Decode converts body from the declared charset to UTF-8. When charset is
// empty the Content-Type header is consulted; UTF-8 bodies pass through.
func Decode(body []byte, charset, contentType string) ([]byte, error) {
	if charset == "" {
		charset = charsetFromContentType(contentType)
	}
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return body, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", charset, err)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", charset, err)
	}
	return decoded, nil
}

func charsetFromContentType(contentType string) string {
	for _, part := range strings.Split(contentType, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(strings.ToLower(part), "charset="); ok {
			return strings.Trim(v, `"'`)
		}
	}
	return ""
}
