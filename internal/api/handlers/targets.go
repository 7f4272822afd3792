// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/category"
	"github.com/autobrr/trawl/internal/indexer"
	"github.com/autobrr/trawl/internal/models"
)

// TargetSource resolves configured targets. *aggregator.Service satisfies it.
type TargetSource interface {
	TargetLister
	GetCapabilities(targetID string) (*indexer.Definition, error)
}

// StatusStore reads and clears persisted target health.
type StatusStore interface {
	Get(ctx context.Context, targetID string) (*models.TargetStatus, error)
	DeleteCooldown(ctx context.Context, targetID string) error
}

// CooldownClearer lifts an in-memory cooldown. *ratelimit.Limiter satisfies it.
type CooldownClearer interface {
	ClearCooldown(targetID string)
}

type TargetsHandler struct {
	targets  TargetSource
	status   StatusStore
	cooldown CooldownClearer
}

func NewTargetsHandler(targets TargetSource, status StatusStore, cooldown CooldownClearer) *TargetsHandler {
	return &TargetsHandler{targets: targets, status: status, cooldown: cooldown}
}

// TargetSummary is the public view of a configured target. Credentials are
// never included.
type TargetSummary struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	Description        string               `json:"description,omitempty"`
	Language           string               `json:"language,omitempty"`
	Links              []string             `json:"links"`
	Protocol           indexer.Protocol     `json:"protocol"`
	Privacy            indexer.Privacy      `json:"privacy"`
	Enabled            bool                 `json:"enabled"`
	RequiresAuth       bool                 `json:"requiresAuth"`
	MinRequestInterval time.Duration        `json:"minRequestInterval"`
	Capabilities       indexer.Capabilities `json:"capabilities"`
	Categories         []int                `json:"categories"`
}

// CapabilitiesResponse lists what a target can be searched for.
type CapabilitiesResponse struct {
	ID           string               `json:"id"`
	Capabilities indexer.Capabilities `json:"capabilities"`
	Categories   []category.Entry     `json:"categories"`
}

func newTargetSummary(t *indexer.Target) TargetSummary {
	def := t.Definition
	return TargetSummary{
		ID:                 def.ID,
		Name:               def.Name,
		Description:        def.Description,
		Language:           def.Language,
		Links:              def.Links,
		Protocol:           def.Protocol,
		Privacy:            def.Privacy,
		Enabled:            t.Enabled,
		RequiresAuth:       def.RequiresAuth,
		MinRequestInterval: t.Interval(0),
		Capabilities:       def.Capabilities,
		Categories:         def.Categories.Categories(),
	}
}

func (h *TargetsHandler) List(w http.ResponseWriter, r *http.Request) {
	targets := h.targets.Targets()
	out := make([]TargetSummary, 0, len(targets))
	for _, t := range targets {
		out = append(out, newTargetSummary(t))
	}
	RespondJSON(w, http.StatusOK, out)
}

func (h *TargetsHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "targetID")
	def, err := h.targets.GetCapabilities(id)
	if err != nil {
		RespondError(w, http.StatusNotFound, "Target not found")
		return
	}

	entries := def.Categories.Entries()
	if entries == nil {
		entries = []category.Entry{}
	}
	RespondJSON(w, http.StatusOK, CapabilitiesResponse{
		ID:           def.ID,
		Capabilities: def.Capabilities,
		Categories:   entries,
	})
}

func (h *TargetsHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "targetID")
	if _, err := h.targets.GetCapabilities(id); err != nil {
		RespondError(w, http.StatusNotFound, "Target not found")
		return
	}

	status, err := h.status.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("target", id).Msg("failed to load target status")
		RespondError(w, http.StatusInternalServerError, "Failed to load target status")
		return
	}
	RespondJSON(w, http.StatusOK, status)
}

// ClearCooldown lets a target be dispatched again before its cooldown ends.
func (h *TargetsHandler) ClearCooldown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "targetID")
	if _, err := h.targets.GetCapabilities(id); err != nil {
		RespondError(w, http.StatusNotFound, "Target not found")
		return
	}

	h.cooldown.ClearCooldown(id)
	if err := h.status.DeleteCooldown(r.Context(), id); err != nil {
		log.Error().Err(err).Str("target", id).Msg("failed to delete cooldown")
		RespondError(w, http.StatusInternalServerError, "Failed to clear cooldown")
		return
	}

	log.Info().Str("target", id).Msg("cooldown cleared")
	w.WriteHeader(http.StatusNoContent)
}

// Categories returns the standard category taxonomy.
func Categories(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, category.All())
}
