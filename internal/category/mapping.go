// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package category

import (
	"fmt"
	"strings"
)

// Entry ties one native category token of a target to a standard category.
type Entry struct {
	Standard int    `json:"standard" yaml:"cat"`
	Native   string `json:"native" yaml:"id"`
	Label    string `json:"label,omitempty" yaml:"desc"`
}

// Mapping translates between the standard taxonomy and one target's native
// tokens. It is immutable once built and safe for concurrent use.
type Mapping struct {
	entries    []Entry
	toStandard map[string][]int
	explicit   map[int]struct{}
	declared   map[int]struct{}
}

// NewMapping builds a mapping from entries. Entries with an empty native
// token or a non positive standard id are rejected.
func NewMapping(entries []Entry) (*Mapping, error) {
	m := &Mapping{
		entries:    make([]Entry, 0, len(entries)),
		toStandard: make(map[string][]int, len(entries)),
		explicit:   make(map[int]struct{}, len(entries)),
		declared:   make(map[int]struct{}, len(entries)),
	}

	for i, e := range entries {
		e.Native = strings.TrimSpace(e.Native)
		if e.Native == "" {
			return nil, fmt.Errorf("category mapping entry %d: empty native token", i)
		}
		if e.Standard <= 0 {
			return nil, fmt.Errorf("category mapping entry %d (%s): invalid standard category %d", i, e.Native, e.Standard)
		}

		m.entries = append(m.entries, e)
		m.toStandard[e.Native] = append(m.toStandard[e.Native], e.Standard)
		m.explicit[e.Standard] = struct{}{}
		m.declared[e.Standard] = struct{}{}
		m.declared[Parent(e.Standard)] = struct{}{}
	}

	for token, ids := range m.toStandard {
		m.toStandard[token] = sortedUnique(ids)
	}

	return m, nil
}

// MustMapping is NewMapping for static tables; it panics on invalid input.
func MustMapping(entries []Entry) *Mapping {
	m, err := NewMapping(entries)
	if err != nil {
		panic(err)
	}
	return m
}

// Entries returns a copy of the mapping table.
func (m *Mapping) Entries() []Entry {
	if m == nil {
		return nil
	}
	return append([]Entry(nil), m.entries...)
}

// ToNative returns the native tokens for the requested standard ids. A
// requested top level id also selects tokens mapped to its subcategories,
// and a requested subcategory without an entry of its own falls back to
// tokens mapped exactly to its parent. Output follows declaration order and
// holds no duplicates.
func (m *Mapping) ToNative(standardIDs []int) []string {
	if m == nil || len(standardIDs) == 0 {
		return nil
	}

	requested := make(map[int]struct{}, len(standardIDs))
	fallback := make(map[int]struct{})
	for _, id := range standardIDs {
		requested[id] = struct{}{}
		if _, ok := m.explicit[id]; !ok && Parent(id) != id {
			fallback[Parent(id)] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var tokens []string
	for _, e := range m.entries {
		_, direct := requested[e.Standard]
		_, viaParent := requested[Parent(e.Standard)]
		_, viaFallback := fallback[e.Standard]
		if !direct && !viaParent && !viaFallback {
			continue
		}
		if _, dup := seen[e.Native]; dup {
			continue
		}
		seen[e.Native] = struct{}{}
		tokens = append(tokens, e.Native)
	}
	return tokens
}

// ToStandard returns the standard ids for a native token, including the
// parents of every mapped id. Unknown tokens land in Other.
func (m *Mapping) ToStandard(native string) []int {
	if m == nil {
		return []int{Other}
	}
	ids, ok := m.toStandard[strings.TrimSpace(native)]
	if !ok {
		return []int{Other}
	}

	out := make([]int, 0, len(ids)*2)
	for _, id := range ids {
		out = append(out, id)
		if parent := Parent(id); parent != id {
			out = append(out, parent)
		}
	}
	return sortedUnique(out)
}

// ToStandardAll unions ToStandard over several tokens.
func (m *Mapping) ToStandardAll(natives []string) []int {
	if len(natives) == 0 {
		return []int{Other}
	}
	var out []int
	for _, n := range natives {
		out = append(out, m.ToStandard(n)...)
	}
	return sortedUnique(out)
}

// Categories returns every standard id the target declares, parents included.
func (m *Mapping) Categories() []int {
	if m == nil {
		return nil
	}
	ids := make([]int, 0, len(m.declared))
	for id := range m.declared {
		ids = append(ids, id)
	}
	return sortedUnique(ids)
}

// Supports reports whether the requested ids select at least one native
// token, so a supported request never degrades into an unfiltered search.
// An empty request is always supported.
func (m *Mapping) Supports(standardIDs []int) bool {
	if len(standardIDs) == 0 {
		return true
	}
	return len(m.ToNative(standardIDs)) > 0
}

// Filter keeps only the requested ids this mapping can serve.
func (m *Mapping) Filter(standardIDs []int) []int {
	var out []int
	for _, id := range standardIDs {
		if m.Supports([]int{id}) {
			out = append(out, id)
		}
	}
	return out
}
