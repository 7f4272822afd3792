// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/trawl/internal/indexer"
)

// TargetLister reports the configured targets.
type TargetLister interface {
	Targets() []*indexer.Target
}

type HealthHandler struct {
	targets TargetLister
	version string
}

func NewHealthHandler(targets TargetLister, version string) *HealthHandler {
	return &HealthHandler{targets: targets, version: version}
}

// HandleHealth is a cheap liveness probe that also reports the version.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReady reports ready once at least one target is enabled.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	enabled := 0
	for _, t := range h.targets.Targets() {
		if t.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		RespondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "no enabled targets", "targets": 0})
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "targets": enabled})
}
