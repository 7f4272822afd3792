// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package aggregator

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/moistari/rls"

	"github.com/autobrr/trawl/internal/indexer"
)

// annotate attaches origin and parsed release info. Content fields written by
// the plugin are left untouched.
func annotate(t *indexer.Target, releases []*indexer.Release) {
	for _, r := range releases {
		r.TargetID = t.ID()
		r.TargetName = t.Definition.Name
		r.Protocol = t.Definition.Protocol
		if r.Title != "" && r.Info == nil {
			r.Info = parseReleaseInfo(r.Title)
		}
	}
}

func parseReleaseInfo(title string) *indexer.ReleaseInfo {
	parsed := rls.ParseString(title)
	return &indexer.ReleaseInfo{
		Type:       parsed.Type.String(),
		Title:      parsed.Title,
		Year:       parsed.Year,
		Series:     parsed.Series,
		Episode:    parsed.Episode,
		Resolution: parsed.Resolution,
		Source:     parsed.Source,
		Codec:      strings.Join(parsed.Codec, " "),
		Group:      parsed.Group,
	}
}

// dedupe drops repeated releases of the same target, keyed by GUID or link.
func dedupe(releases []*indexer.Release) []*indexer.Release {
	if len(releases) == 0 {
		return releases
	}
	seen := make(map[string]struct{}, len(releases))
	out := make([]*indexer.Release, 0, len(releases))
	for _, r := range releases {
		key := r.Key()
		if key == "" {
			out = append(out, r)
			continue
		}
		key = r.TargetID + "|" + key
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// sortReleases orders by seeders descending, then by size.
func sortReleases(releases []*indexer.Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		si, sj := releases[i].SeederCount(), releases[j].SeederCount()
		if si != sj {
			return si > sj
		}
		return releases[i].Size > releases[j].Size
	})
}

// filterByTerm keeps releases whose title contains the term's characters in
// order, ignoring case, diacritics and separators.
func filterByTerm(releases []*indexer.Release, term string) []*indexer.Release {
	needle := normalizeTitle(term)
	if needle == "" {
		return releases
	}
	out := make([]*indexer.Release, 0, len(releases))
	for _, r := range releases {
		if fuzzy.MatchNormalizedFold(needle, normalizeTitle(r.Title)) {
			out = append(out, r)
		}
	}
	return out
}

var titleSeparators = strings.NewReplacer(".", " ", "_", " ", "-", " ", "[", " ", "]", " ", "(", " ", ")", " ")

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(titleSeparators.Replace(s)), " ")
}

func paginate(releases []*indexer.Release, offset, limit int) []*indexer.Release {
	if offset > 0 {
		if offset >= len(releases) {
			return []*indexer.Release{}
		}
		releases = releases[offset:]
	}
	if limit > 0 && len(releases) > limit {
		releases = releases[:limit]
	}
	return releases
}

// finalize applies the criteria's term filter and pagination to the merged
// list. merged itself is not modified.
func finalize(c *indexer.Criteria, merged []*indexer.Release, targets []indexer.TargetResult) *SearchResponse {
	releases := merged
	if c.StrictTerm && strings.TrimSpace(c.Term) != "" {
		releases = filterByTerm(releases, c.Term)
	}
	total := len(releases)
	page := paginate(releases, c.Offset, c.Limit)
	if page == nil {
		page = []*indexer.Release{}
	}
	return &SearchResponse{
		Releases: page,
		Total:    total,
		Targets:  targets,
	}
}
