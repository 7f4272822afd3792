// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trawl/internal/aggregator"
	"github.com/autobrr/trawl/internal/indexer"
)

func TestResolveConfigFile(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "trawl.conf")
	require.NoError(t, os.WriteFile(existing, nil, 0o644))

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "toml file", input: filepath.Join(dir, "custom.TOML"), want: filepath.Join(dir, "custom.TOML")},
		{name: "existing file", input: existing, want: existing},
		{name: "directory", input: dir, want: filepath.Join(dir, "config.toml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveConfigFile(tt.input))
		})
	}
}

func TestPrintSearchResponse(t *testing.T) {
	seeders := 42
	resp := &aggregator.SearchResponse{
		Releases: []*indexer.Release{
			{Title: "Some.Movie.2024.1080p", Size: 1_500_000_000, Seeders: &seeders, PublishDate: time.Now().Add(-3 * time.Hour), TargetID: "alpha"},
			{Title: "Other.Movie.2024", Size: 700_000_000, TargetID: "beta"},
		},
		Total: 5,
		Targets: []indexer.TargetResult{
			{TargetID: "alpha", Status: indexer.StatusSuccess, Count: 1},
			{TargetID: "beta", Status: indexer.StatusFailed, Kind: indexer.KindAuth, Error: "login rejected"},
		},
		Took:   1234 * time.Millisecond,
		Cached: true,
	}

	var buf bytes.Buffer
	require.NoError(t, printSearchResponse(&buf, resp))
	out := buf.String()

	assert.Contains(t, out, "Some.Movie.2024.1080p")
	assert.Contains(t, out, "1.5 GB")
	assert.Contains(t, out, "3 hours ago")
	assert.Contains(t, out, "2 of 5 results in 1.234s (cached)")
	assert.Contains(t, out, "auth: login rejected")
}
