// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cache is a bounded, expiring in-memory cache for search results
// keyed by a hash of the search signature.
package cache

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores values for ttl, evicting the least recently used entry when
// size is exceeded.
type Cache[V any] struct {
	lru    *expirable.LRU[uint64, V]
	hits   atomic.Int64
	misses atomic.Int64
}

func New[V any](size int, ttl time.Duration) *Cache[V] {
	if size <= 0 {
		size = 256
	}
	return &Cache[V]{lru: expirable.NewLRU[uint64, V](size, nil, ttl)}
}

// Key hashes the signature parts. Parts are separated so ("ab","c") and
// ("a","bc") differ.
func Key(parts ...string) uint64 {
	return xxhash.Sum64String(strings.Join(parts, "\x00"))
}

func (c *Cache[V]) Get(key uint64) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *Cache[V]) Set(key uint64, v V) {
	c.lru.Add(key, v)
}

// Purge drops every entry, e.g. after the target set changed.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Stats reports cache usage.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func (c *Cache[V]) Stats() Stats {
	return Stats{Entries: c.lru.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}
