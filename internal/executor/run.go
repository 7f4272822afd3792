// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/category"
	"github.com/autobrr/trawl/internal/indexer"
)

// Run executes a request chain for target. Tiers are tried in order and the
// first one that yields releases wins. Within a tier pages run sequentially
// until one comes back empty, short, or entirely made of releases already
// seen. When a failure interrupts a tier the releases gathered so far are
// returned together with the error.
func (e *Executor) Run(ctx context.Context, target *indexer.Target, chain indexer.Chain) ([]*indexer.Release, error) {
	var firstErr error

	for tier, batch := range chain {
		releases, err := e.runBatch(ctx, target, batch)
		if len(releases) > 0 {
			if err != nil {
				log.Debug().Err(err).Str("target", target.ID()).Int("tier", tier).Int("releases", len(releases)).Msg("tier interrupted after partial results")
			}
			return releases, err
		}
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		// Alternative strategies cannot fix a broken session or a spent deadline.
		switch indexer.KindOf(err) {
		case indexer.KindAuth, indexer.KindTimeout, indexer.KindCanceled, indexer.KindRateLimited:
			return nil, err
		}
		log.Debug().Err(err).Str("target", target.ID()).Int("tier", tier).Msg("tier failed, trying next strategy")
	}

	return nil, firstErr
}

func (e *Executor) runBatch(ctx context.Context, target *indexer.Target, batch indexer.Batch) ([]*indexer.Release, error) {
	pageSize := target.Definition.PageSize
	seen := make(map[string]struct{})
	var out []*indexer.Release

	for page, req := range batch {
		resp, err := e.Execute(ctx, target, req)
		if err != nil {
			return out, err
		}

		releases, err := e.Parse(target, resp)
		if err != nil {
			return out, err
		}

		fresh := 0
		for _, r := range releases {
			key := r.Key()
			if key != "" {
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			out = append(out, r)
			fresh++
		}

		switch {
		case len(releases) == 0:
			return out, nil
		case fresh == 0:
			log.Debug().Str("target", target.ID()).Int("page", page).Msg("page repeated earlier results, stop paging")
			return out, nil
		case pageSize > 0 && len(releases) < pageSize:
			return out, nil
		}
	}

	return out, nil
}

// Parse runs the plugin parser with panic isolation and maps native
// categories of every release to the standard taxonomy.
func (e *Executor) Parse(target *indexer.Target, resp *indexer.Response) (releases []*indexer.Release, err error) {
	id := target.ID()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("target", id).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("plugin parser panicked")
			releases = nil
			err = &indexer.Error{Kind: indexer.KindInternal, Target: id, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	releases, err = target.Plugin.ParseResponse(resp)
	if err != nil {
		var ie *indexer.Error
		if errors.As(err, &ie) {
			return nil, indexer.Classify(id, err)
		}
		return nil, indexer.ParseFailure(id, err)
	}

	mapping := target.Definition.Categories
	out := releases[:0]
	for _, r := range releases {
		if r == nil {
			continue
		}
		if len(r.NativeCategories) > 0 {
			r.Categories = mapping.ToStandardAll(r.NativeCategories)
		} else if len(r.Categories) == 0 {
			r.Categories = []int{category.Other}
		}
		out = append(out, r)
	}
	return out, nil
}
