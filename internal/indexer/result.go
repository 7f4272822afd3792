// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"time"
)

// Status is the outcome class of one target within a search.
type Status string

const (
	StatusSuccess Status = "success"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
)

// TargetResult is the per-target outcome of a search. A failed result may
// still carry releases gathered before the failure.
type TargetResult struct {
	TargetID   string        `json:"targetId"`
	TargetName string        `json:"targetName"`
	Status     Status        `json:"status"`
	Kind       Kind          `json:"kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Releases   []*Release    `json:"-"`
	Count      int           `json:"count"`
	Duration   time.Duration `json:"duration"`
	Cached     bool          `json:"cached,omitempty"`
}

// NewTargetResult classifies releases and err for the target def describes.
func NewTargetResult(def *Definition, releases []*Release, err error, took time.Duration) TargetResult {
	res := TargetResult{
		TargetID:   def.ID,
		TargetName: def.Name,
		Releases:   releases,
		Count:      len(releases),
		Duration:   took,
	}
	switch {
	case err != nil:
		ie := Classify(def.ID, err)
		res.Status = StatusFailed
		res.Kind = ie.Kind
		res.Error = ie.Error()
	case len(releases) == 0:
		res.Status = StatusEmpty
	default:
		res.Status = StatusSuccess
	}
	return res
}

// Failed reports whether the target ended in a failure.
func (r TargetResult) Failed() bool {
	return r.Status == StatusFailed
}
