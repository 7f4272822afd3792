// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package aggregator fans a search out to every eligible target, isolates
// their failures and merges the releases into one response.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/autobrr/trawl/internal/cache"
	"github.com/autobrr/trawl/internal/indexer"
	"github.com/autobrr/trawl/internal/registry"
)

const (
	defaultMaxWorkers    = 8
	defaultSearchTimeout = 60 * time.Second
	defaultTargetTimeout = 45 * time.Second
	defaultGrace         = 2 * time.Second
)

// Runner executes a target's request chain. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, target *indexer.Target, chain indexer.Chain) ([]*indexer.Release, error)
}

// Observer receives search level outcomes.
type Observer interface {
	ObserveSearch(took time.Duration, targets int, cached bool)
	ObserveTarget(result indexer.TargetResult)
}

// StatusRecorder persists per-target health.
type StatusRecorder interface {
	RecordLatency(ctx context.Context, targetID string, latency time.Duration, success bool) error
	RecordError(ctx context.Context, targetID string, kind indexer.Kind, message string) error
	UpsertCooldown(ctx context.Context, targetID string, until time.Time, reason string) error
}

// Config bounds concurrency and time of a search.
type Config struct {
	MaxWorkers    int
	SearchTimeout time.Duration
	TargetTimeout time.Duration
	// Grace is how long results are still collected after the search
	// deadline before unfinished targets are reported as timed out.
	Grace time.Duration
}

// SearchResponse is the merged outcome of one search.
type SearchResponse struct {
	Releases []*indexer.Release     `json:"releases"`
	Total    int                    `json:"total"`
	Targets  []indexer.TargetResult `json:"targets"`
	Cached   bool                   `json:"cached"`
	Took     time.Duration          `json:"took"`
}

// Service is the aggregation entry point.
type Service struct {
	registry *registry.Registry
	runner   Runner
	cfg      Config

	cache    *cache.Cache[*SearchResponse]
	observer Observer
	recorder StatusRecorder
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

func WithCache(c *cache.Cache[*SearchResponse]) ServiceOption {
	return func(s *Service) { s.cache = c }
}

func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

func WithStatusRecorder(r StatusRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

func NewService(reg *registry.Registry, runner Runner, cfg Config, opts ...ServiceOption) *Service {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = defaultSearchTimeout
	}
	if cfg.TargetTimeout <= 0 {
		cfg.TargetTimeout = defaultTargetTimeout
	}
	if cfg.TargetTimeout > cfg.SearchTimeout {
		cfg.TargetTimeout = cfg.SearchTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	s := &Service{registry: reg, runner: runner, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs c against every eligible target. It only returns an error for
// criteria no target could serve; target failures are reported per target
// in the response.
func (s *Service) Search(ctx context.Context, c *indexer.Criteria) (*SearchResponse, error) {
	if c == nil {
		return nil, errors.New("search criteria is required")
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search criteria: %w", err)
	}
	start := time.Now()

	eligible, skipped := s.selectTargets(c)

	key := s.cacheKey(c, eligible)
	if s.cache != nil && c.CacheMode != indexer.CacheModeBypass && len(eligible) > 0 {
		if cached, ok := s.cache.Get(key); ok {
			targets := stripReleases(cached.Targets)
			for i := range targets {
				targets[i].Cached = true
			}
			resp := finalize(c, cached.Releases, targets)
			resp.Cached = true
			resp.Took = time.Since(start)
			s.observeSearch(resp, len(eligible))
			log.Debug().Str("term", c.Term).Int("targets", len(eligible)).Msg("search served from cache")
			return resp, nil
		}
	}

	results := s.dispatch(ctx, c, eligible)
	results = append(results, skipped...)
	sort.Slice(results, func(i, j int) bool { return results[i].TargetID < results[j].TargetID })

	var merged []*indexer.Release
	for i := range results {
		merged = append(merged, results[i].Releases...)
		s.recordOutcome(ctx, results[i])
	}
	merged = dedupe(merged)
	sortReleases(merged)

	if s.cache != nil && len(eligible) > 0 && !anyFailed(results) {
		s.cache.Set(key, &SearchResponse{Releases: merged, Targets: stripReleases(results)})
	}

	resp := finalize(c, merged, results)
	resp.Took = time.Since(start)
	s.observeSearch(resp, len(eligible))

	log.Debug().
		Str("type", string(c.Type)).
		Str("term", c.Term).
		Int("targets", len(results)).
		Int("releases", resp.Total).
		Dur("took", resp.Took).
		Msg("search completed")

	return resp, nil
}

// selectTargets returns the targets to dispatch and results for eligible
// targets that are skipped because they are in a rate-limit cooldown.
func (s *Service) selectTargets(c *indexer.Criteria) ([]*indexer.Target, []indexer.TargetResult) {
	params := c.SearchParams()
	limiter := s.registry.Limiter()

	var (
		eligible []*indexer.Target
		skipped  []indexer.TargetResult
	)
	for _, t := range s.registry.Enabled() {
		if len(c.TargetIDs) > 0 && !slices.Contains(c.TargetIDs, t.ID()) {
			continue
		}
		def := t.Definition
		if !def.Capabilities.SupportsParams(c.Type, params) {
			log.Trace().Str("target", t.ID()).Str("type", string(c.Type)).Msg("target does not support search mode")
			continue
		}
		if !def.Categories.Supports(c.Categories) {
			log.Trace().Str("target", t.ID()).Ints("categories", c.Categories).Msg("target does not support categories")
			continue
		}
		if inCooldown, until := limiter.IsInCooldown(t.ID()); inCooldown {
			log.Warn().Str("target", t.ID()).Time("resume_at", until).Msg("skipping rate-limited target for search")
			skipped = append(skipped, indexer.NewTargetResult(def, nil,
				indexer.RateLimited(t.ID(), 0, time.Until(until)), 0))
			continue
		}
		eligible = append(eligible, t)
	}
	return eligible, skipped
}

// dispatch runs one pipeline per target on a bounded pool. Every target
// produces exactly one result, even when its pipeline never returns. A
// worker slot is held until the pipeline goroutine exits or the grace period
// after its timeout runs out, so a plugin ignoring cancellation can only
// exceed MaxWorkers after that grace.
func (s *Service) dispatch(ctx context.Context, c *indexer.Criteria, targets []*indexer.Target) []indexer.TargetResult {
	if len(targets) == 0 {
		return nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(int64(s.cfg.MaxWorkers))
	resultsChan := make(chan indexer.TargetResult, len(targets))

	for _, t := range targets {
		go func(t *indexer.Target) {
			defer func() {
				if r := recover(); r != nil {
					resultsChan <- panicResult(t, r)
				}
			}()

			queued := time.Now()
			if err := sem.Acquire(searchCtx, 1); err != nil {
				resultsChan <- indexer.NewTargetResult(t.Definition, nil, s.deadlineError(t, err), time.Since(queued))
				return
			}
			defer sem.Release(1)

			r, finished := s.runTarget(searchCtx, t, c)
			resultsChan <- r

			grace := time.NewTimer(s.cfg.Grace)
			defer grace.Stop()
			select {
			case <-finished:
			case <-grace.C:
				log.Warn().Str("target", t.ID()).Msg("releasing worker slot of a pipeline that ignored cancellation")
			}
		}(t)
	}

	collectCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SearchTimeout+s.cfg.Grace)
	defer stop()

	done := make(map[string]struct{}, len(targets))
	results := make([]indexer.TargetResult, 0, len(targets))

	var grace <-chan time.Time
	callerDone := ctx.Done()

collect:
	for len(results) < len(targets) {
		select {
		case r := <-resultsChan:
			done[r.TargetID] = struct{}{}
			results = append(results, r)
		case <-collectCtx.Done():
			break collect
		case <-callerDone:
			// Caller gave up; keep collecting for at most the grace period.
			callerDone = nil
			grace = time.After(s.cfg.Grace)
		case <-grace:
			break collect
		}
	}

	for _, t := range targets {
		if _, ok := done[t.ID()]; !ok {
			log.Warn().Str("target", t.ID()).Msg("target did not report before the search deadline")
			results = append(results, indexer.NewTargetResult(t.Definition, nil,
				&indexer.Error{Kind: indexer.KindTimeout, Target: t.ID(), Err: errors.New("no result before search deadline")}, s.cfg.SearchTimeout))
		}
	}
	return results
}

// runTarget bounds one pipeline by the per-target timeout. The pipeline runs
// in its own goroutine so a plugin that ignores cancellation cannot hold up
// the search; the returned channel is closed once that goroutine exits.
func (s *Service) runTarget(ctx context.Context, t *indexer.Target, c *indexer.Criteria) (indexer.TargetResult, <-chan struct{}) {
	targetCtx, cancel := context.WithTimeout(ctx, s.cfg.TargetTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan indexer.TargetResult, 1)
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				done <- panicResult(t, r)
			}
		}()
		releases, err := s.pipeline(targetCtx, t, c)
		done <- indexer.NewTargetResult(t.Definition, releases, err, time.Since(start))
	}()

	select {
	case r := <-done:
		return r, finished
	case <-targetCtx.Done():
		return indexer.NewTargetResult(t.Definition, nil, s.deadlineError(t, targetCtx.Err()), time.Since(start)), finished
	}
}

func (s *Service) pipeline(ctx context.Context, t *indexer.Target, c *indexer.Criteria) ([]*indexer.Release, error) {
	def := t.Definition
	native := def.Categories.ToNative(c.Categories)
	if len(c.Categories) > 0 && len(native) == 0 {
		return nil, indexer.CapabilityMismatch(t.ID(), fmt.Errorf("no native category for %v", c.Categories))
	}

	chain, err := t.Plugin.BuildRequests(c, native)
	if err != nil {
		var ie *indexer.Error
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, &indexer.Error{Kind: indexer.KindInternal, Target: t.ID(), Err: fmt.Errorf("build requests: %w", err)}
	}
	if chain.Len() == 0 {
		return nil, nil
	}

	releases, err := s.runner.Run(ctx, t, chain)
	annotate(t, releases)
	return releases, err
}

func (s *Service) deadlineError(t *indexer.Target, err error) error {
	if errors.Is(err, context.Canceled) {
		return &indexer.Error{Kind: indexer.KindCanceled, Target: t.ID(), Err: err}
	}
	return &indexer.Error{Kind: indexer.KindTimeout, Target: t.ID(), Err: err}
}

func panicResult(t *indexer.Target, r any) indexer.TargetResult {
	log.Error().
		Str("target", t.ID()).
		Interface("panic", r).
		Bytes("stack", debug.Stack()).
		Msg("recovered from panic in target pipeline")
	return indexer.NewTargetResult(t.Definition, nil,
		&indexer.Error{Kind: indexer.KindInternal, Target: t.ID(), Err: fmt.Errorf("panic in target pipeline: %v", r)}, 0)
}

func (s *Service) recordOutcome(ctx context.Context, r indexer.TargetResult) {
	if s.observer != nil {
		s.observer.ObserveTarget(r)
	}
	if s.recorder == nil {
		return
	}
	// Persisting health must not depend on a caller that already gave up.
	ctx = context.WithoutCancel(ctx)

	if r.Duration > 0 {
		if err := s.recorder.RecordLatency(ctx, r.TargetID, r.Duration, !r.Failed()); err != nil {
			log.Debug().Err(err).Str("target", r.TargetID).Msg("failed to record latency")
		}
	}
	if !r.Failed() {
		return
	}
	if err := s.recorder.RecordError(ctx, r.TargetID, r.Kind, r.Error); err != nil {
		log.Debug().Err(err).Str("target", r.TargetID).Msg("failed to record error")
	}
	if r.Kind == indexer.KindRateLimited {
		if inCooldown, until := s.registry.Limiter().IsInCooldown(r.TargetID); inCooldown {
			if err := s.recorder.UpsertCooldown(ctx, r.TargetID, until, r.Error); err != nil {
				log.Debug().Err(err).Str("target", r.TargetID).Msg("failed to persist cooldown")
			}
		}
	}
}

func (s *Service) observeSearch(resp *SearchResponse, targets int) {
	if s.observer != nil {
		s.observer.ObserveSearch(resp.Took, targets, resp.Cached)
	}
}

func (s *Service) cacheKey(c *indexer.Criteria, targets []*indexer.Target) uint64 {
	sig := *c
	sig.Limit, sig.Offset = 0, 0

	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID())
	}
	sort.Strings(ids)
	return cache.Key(sig.Fingerprint(), strings.Join(ids, ","))
}

// PurgeCache drops cached searches, e.g. after the target set changed.
func (s *Service) PurgeCache() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// GetCapabilities returns the definition of a configured target.
func (s *Service) GetCapabilities(targetID string) (*indexer.Definition, error) {
	t, ok := s.registry.Get(targetID)
	if !ok {
		return nil, fmt.Errorf("target %q: %w", targetID, ErrTargetNotFound)
	}
	return t.Definition, nil
}

// Targets returns every configured target.
func (s *Service) Targets() []*indexer.Target {
	return s.registry.List()
}

// ErrTargetNotFound is returned for unknown target ids.
var ErrTargetNotFound = errors.New("target not found")

func anyFailed(results []indexer.TargetResult) bool {
	for _, r := range results {
		if r.Failed() {
			return true
		}
	}
	return false
}

func stripReleases(results []indexer.TargetResult) []indexer.TargetResult {
	out := make([]indexer.TargetResult, len(results))
	for i, r := range results {
		r.Releases = nil
		out[i] = r
	}
	return out
}
