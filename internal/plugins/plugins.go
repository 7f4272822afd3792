// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package plugins turns configured targets into dispatchable
// indexer.Target values, from hand-written plugins or YAML definitions.
package plugins

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/definitions"
	"github.com/autobrr/trawl/internal/domain"
	"github.com/autobrr/trawl/internal/indexer"
	"github.com/autobrr/trawl/internal/plugins/apibay"
	"github.com/autobrr/trawl/internal/plugins/torznab"
)

// builder creates the definition and plugin of a hand-written target.
type builder func(links []string, creds indexer.Credentials) (*indexer.Definition, indexer.Plugin, error)

var builtins = map[string]builder{
	apibay.ID: func(links []string, _ indexer.Credentials) (*indexer.Definition, indexer.Plugin, error) {
		def := apibay.Definition(links)
		return def, apibay.New(def), nil
	},
	torznab.ID: func(links []string, creds indexer.Credentials) (*indexer.Definition, indexer.Plugin, error) {
		def, err := torznab.Definition(links)
		if err != nil {
			return nil, nil, err
		}
		return def, torznab.New(def, creds.APIKey), nil
	},
}

// Factory resolves definition ids against the hand-written plugins first
// and the YAML catalog second.
type Factory struct {
	catalog *definitions.Catalog
}

func NewFactory(catalog *definitions.Catalog) *Factory {
	return &Factory{catalog: catalog}
}

// Available lists every definition id a target can reference.
func (f *Factory) Available() []string {
	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	if f.catalog != nil {
		for _, file := range f.catalog.List() {
			if _, dup := builtins[file.ID]; !dup {
				ids = append(ids, file.ID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Build creates one target from its configuration.
func (f *Factory) Build(cfg domain.TargetConfig) (*indexer.Target, error) {
	defID := cfg.DefinitionID()
	if defID == "" {
		return nil, fmt.Errorf("target has neither id nor definition")
	}

	var links []string
	if cfg.BaseURL != "" {
		links = []string{cfg.BaseURL}
	}

	def, plugin, err := f.instantiate(defID, links, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	def.ID = cfg.TargetID()

	return &indexer.Target{
		Definition:  def,
		Plugin:      plugin,
		Credentials: cfg.Credentials,
		Enabled:     cfg.IsEnabled(),
		MinInterval: cfg.MinInterval,
	}, nil
}

func (f *Factory) instantiate(defID string, links []string, creds indexer.Credentials) (*indexer.Definition, indexer.Plugin, error) {
	if b, ok := builtins[defID]; ok {
		return b(links, creds)
	}
	if f.catalog == nil {
		return nil, nil, fmt.Errorf("unknown definition %q", defID)
	}
	file, ok := f.catalog.Get(defID)
	if !ok {
		return nil, nil, fmt.Errorf("unknown definition %q", defID)
	}
	def, err := file.Definition(links)
	if err != nil {
		return nil, nil, err
	}
	plugin, err := file.NewPlugin(def, creds)
	if err != nil {
		return nil, nil, err
	}
	return def, plugin, nil
}

// BuildAll builds every configured target. A target that fails to build is
// logged and skipped so one bad entry does not take the others down; the
// returned error joins all failures.
func (f *Factory) BuildAll(cfgs []domain.TargetConfig) ([]*indexer.Target, error) {
	targets := make([]*indexer.Target, 0, len(cfgs))
	seen := make(map[string]struct{}, len(cfgs))
	var errs []error

	for i, cfg := range cfgs {
		t, err := f.Build(cfg)
		if err != nil {
			log.Error().Err(err).Int("index", i).Str("target", cfg.TargetID()).Msg("skipping target")
			errs = append(errs, fmt.Errorf("target %d (%s): %w", i, cfg.TargetID(), err))
			continue
		}
		if _, dup := seen[t.ID()]; dup {
			log.Error().Str("target", t.ID()).Msg("skipping duplicate target id")
			errs = append(errs, fmt.Errorf("duplicate target id %q", t.ID()))
			continue
		}
		seen[t.ID()] = struct{}{}
		targets = append(targets, t)
	}

	if len(errs) > 0 {
		return targets, errors.Join(errs...)
	}
	return targets, nil
}
