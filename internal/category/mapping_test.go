// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package category

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMapping(t *testing.T) *Mapping {
	t.Helper()
	m, err := NewMapping([]Entry{
		{Standard: MoviesHD, Native: "7", Label: "Movies/HD"},
		{Standard: MoviesSD, Native: "8", Label: "Movies/SD"},
		{Standard: MoviesUHD, Native: "7", Label: "Movies/HD and UHD share a section"},
		{Standard: TVHD, Native: "41", Label: "TV/HD"},
		{Standard: Movies, Native: "movies-all"},
		{Standard: Books, Native: "books"},
	})
	require.NoError(t, err)
	return m
}

func TestMapping_ToNative(t *testing.T) {
	m := testMapping(t)

	tests := []struct {
		name      string
		requested []int
		want      []string
	}{
		{name: "exact subcategory", requested: []int{MoviesHD}, want: []string{"7"}},
		{name: "parent matches children", requested: []int{Movies}, want: []string{"7", "8", "movies-all"}},
		{name: "shared token deduplicated", requested: []int{MoviesHD, MoviesUHD}, want: []string{"7"}},
		{name: "mixed parents", requested: []int{TV, Books}, want: []string{"41", "books"}},
		{name: "undeclared subcategory falls back to parent entry", requested: []int{BooksEBook}, want: []string{"books"}},
		{name: "declared subcategory skips parent entry", requested: []int{MoviesSD}, want: []string{"8"}},
		{name: "sibling of declared subcategory", requested: []int{TVSD}, want: nil},
		{name: "unsupported", requested: []int{Audio}, want: nil},
		{name: "nothing requested", requested: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, m.ToNative(tt.requested)); diff != "" {
				t.Errorf("ToNative mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMapping_ToStandard(t *testing.T) {
	m := testMapping(t)

	tests := []struct {
		name   string
		native string
		want   []int
	}{
		{name: "single entry with parent", native: "8", want: []int{Movies, MoviesSD}},
		{name: "token shared by two ids", native: "7", want: []int{Movies, MoviesHD, MoviesUHD}},
		{name: "parent only", native: "movies-all", want: []int{Movies}},
		{name: "whitespace trimmed", native: " 41 ", want: []int{TV, TVHD}},
		{name: "unknown lands in other", native: "999", want: []int{Other}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, m.ToStandard(tt.native)); diff != "" {
				t.Errorf("ToStandard mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMapping_RoundTrip(t *testing.T) {
	m := testMapping(t)

	for _, id := range m.Categories() {
		for _, token := range m.ToNative([]int{id}) {
			assert.Contains(t, m.ToStandard(token), id, "token %s should map back to %d", token, id)
		}
	}
}

func TestMapping_Supports(t *testing.T) {
	m := testMapping(t)
	hdOnly := MustMapping([]Entry{{Standard: MoviesHD, Native: "cat7"}})

	tests := []struct {
		name      string
		mapping   *Mapping
		requested []int
		want      bool
	}{
		{name: "empty request", mapping: m, requested: nil, want: true},
		{name: "exact subcategory", mapping: m, requested: []int{MoviesHD}, want: true},
		{name: "one of several", mapping: m, requested: []int{Audio, TVHD}, want: true},
		{name: "subcategory served by parent entry", mapping: m, requested: []int{BooksEBook}, want: true},
		{name: "unrelated parent", mapping: m, requested: []int{Audio}, want: false},
		{name: "sibling only has implied parent", mapping: m, requested: []int{TVSD}, want: false},
		{name: "hd only target asked for sd", mapping: hdOnly, requested: []int{MoviesSD}, want: false},
		{name: "hd only target asked for parent", mapping: hdOnly, requested: []int{Movies}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mapping.Supports(tt.requested))
			if tt.want && len(tt.requested) > 0 {
				assert.NotEmpty(t, tt.mapping.ToNative(tt.requested))
			}
		})
	}

	assert.Equal(t, []int{MoviesHD, BooksEBook}, m.Filter([]int{MoviesHD, Audio, BooksEBook, TVSD}))

	var nilMapping *Mapping
	assert.False(t, nilMapping.Supports([]int{Movies}))
	assert.Equal(t, []int{Other}, nilMapping.ToStandard("1"))
}

func TestMapping_Categories(t *testing.T) {
	m := testMapping(t)
	want := []int{Movies, MoviesSD, MoviesHD, MoviesUHD, TV, TVHD, Books}
	if diff := cmp.Diff(want, m.Categories()); diff != "" {
		t.Errorf("Categories mismatch (-want +got):\n%s", diff)
	}
}

func TestNewMapping_Invalid(t *testing.T) {
	_, err := NewMapping([]Entry{{Standard: Movies, Native: " "}})
	assert.Error(t, err)

	_, err = NewMapping([]Entry{{Standard: 0, Native: "1"}})
	assert.Error(t, err)

	assert.Panics(t, func() { MustMapping([]Entry{{Native: "x"}}) })
}

func TestParent(t *testing.T) {
	tests := []struct {
		id   int
		want int
	}{
		{id: MoviesHD, want: Movies},
		{id: Movies, want: Movies},
		{id: TVAnime, want: TV},
		{id: 2999, want: Movies},
		{id: 100001, want: 100000},
		{id: 5, want: 5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Parent(tt.id), "Parent(%d)", tt.id)
	}
	assert.True(t, IsParent(Books))
	assert.False(t, IsParent(BooksEBook))
	assert.Equal(t, "Movies/HD", Name(MoviesHD))
}
