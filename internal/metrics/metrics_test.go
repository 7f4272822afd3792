// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trawl/internal/cache"
	"github.com/autobrr/trawl/internal/indexer"
)

func TestMetrics_Observers(t *testing.T) {
	m := New(Sources{})

	m.ObserveRequest("alpha", "", 20*time.Millisecond)
	m.ObserveRequest("alpha", indexer.KindTimeout, time.Second)
	m.ObserveLogin("alpha", nil)
	m.ObserveLogin("alpha", errors.New("bad password"))
	m.ObserveSearch(time.Second, 2, false)
	m.ObserveSearch(time.Millisecond, 2, true)
	m.ObserveTarget(indexer.TargetResult{TargetID: "alpha", Status: indexer.StatusSuccess, Count: 7})
	m.ObserveTarget(indexer.TargetResult{TargetID: "bravo", Status: indexer.StatusFailed, Kind: indexer.KindAuth})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestFailures.WithLabelValues("alpha", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginTotal.WithLabelValues("alpha", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginTotal.WithLabelValues("alpha", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchTotal.WithLabelValues("false")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.TargetReleases.WithLabelValues("alpha")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TargetResults.WithLabelValues("bravo", "failed", "auth")))
}

func TestServer_Handler(t *testing.T) {
	m := New(Sources{
		Cooldowns:  func() int { return 3 },
		CacheStats: func() cache.Stats { return cache.Stats{Entries: 4, Hits: 5, Misses: 6} },
	})
	m.ObserveSearch(time.Second, 1, false)

	srv := httptest.NewServer(NewServer(m, "127.0.0.1", 0).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "trawl_target_cooldowns_active 3")
	assert.Contains(t, string(body), "trawl_search_cache_entries 4")
	assert.Contains(t, string(body), "trawl_search_total")
	assert.Contains(t, string(body), "go_goroutines")
}
