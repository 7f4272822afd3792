// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind classifies why a target failed.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindParse       Kind = "parse"
	KindCapability  Kind = "capability"
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindInternal    Kind = "internal"
)

// Error is a classified failure for one target.
type Error struct {
	Kind       Kind
	Target     string
	StatusCode int
	// RetryAfter is the wait the target asked for, when it said so.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Target != "" {
		b.WriteString(e.Target)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind; a zero Kind matches any.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrTransport   = &Error{Kind: KindTransport}
	ErrAuth        = &Error{Kind: KindAuth}
	ErrRateLimited = &Error{Kind: KindRateLimited}
	ErrParse       = &Error{Kind: KindParse}
	ErrCapability  = &Error{Kind: KindCapability}
	ErrTimeout     = &Error{Kind: KindTimeout}
)

func newError(kind Kind, target string, err error) *Error {
	return &Error{Kind: kind, Target: target, Err: err}
}

func TransportFailure(target string, err error) *Error {
	return newError(KindTransport, target, err)
}

func AuthFailure(target string, err error) *Error {
	return newError(KindAuth, target, err)
}

func ParseFailure(target string, err error) *Error {
	return newError(KindParse, target, err)
}

func CapabilityMismatch(target string, err error) *Error {
	return newError(KindCapability, target, err)
}

// RateLimited builds a throttling failure carrying the requested wait.
func RateLimited(target string, status int, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Target:     target,
		StatusCode: status,
		RetryAfter: retryAfter,
		Err:        errors.New("target is throttling requests"),
	}
}

// Classify wraps err into an *Error for target. Existing classifications are
// kept; context and network timeouts become KindTimeout.
func Classify(target string, err error) *Error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		if ie.Target == "" {
			cp := *ie
			cp.Target = target
			return &cp
		}
		return ie
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), isTimeoutError(err):
		return newError(KindTimeout, target, err)
	case errors.Is(err, context.Canceled):
		return newError(KindCanceled, target, err)
	}
	return newError(KindInternal, target, err)
}

// KindOf returns the failure kind of err, or an empty Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify("", err).Kind
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}
