// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"fmt"
	"strconv"
	"strings"
)

// CacheMode controls whether a search may be served from the result cache.
type CacheMode string

const (
	CacheModeDefault CacheMode = ""
	CacheModeBypass  CacheMode = "bypass"
)

// Criteria is one normalized search request. Type selects which of the
// type-specific fields are meaningful; the rest must be left zero.
type Criteria struct {
	Type       ContentType `json:"type"`
	Term       string      `json:"term,omitempty"`
	Categories []int       `json:"categories,omitempty"`

	// movie / tv
	IMDbID  string `json:"imdbId,omitempty"`
	TMDbID  int    `json:"tmdbId,omitempty"`
	TVDbID  int    `json:"tvdbId,omitempty"`
	Season  *int   `json:"season,omitempty"`
	Episode *int   `json:"episode,omitempty"`
	Year    int    `json:"year,omitempty"`

	// music
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`

	// book
	Author string `json:"author,omitempty"`
	Title  string `json:"title,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// TargetIDs restricts dispatch to the named targets when non-empty.
	TargetIDs  []string  `json:"targetIds,omitempty"`
	CacheMode  CacheMode `json:"cacheMode,omitempty"`
	StrictTerm bool      `json:"strictTerm,omitempty"`
}

var allowedParams = map[ContentType]map[SearchParam]bool{
	ContentSearch: {ParamQuery: true},
	ContentMovie:  {ParamQuery: true, ParamIMDbID: true, ParamTMDbID: true, ParamYear: true},
	ContentTV:     {ParamQuery: true, ParamIMDbID: true, ParamTMDbID: true, ParamTVDbID: true, ParamSeason: true, ParamEpisode: true, ParamYear: true},
	ContentMusic:  {ParamQuery: true, ParamArtist: true, ParamAlbum: true, ParamYear: true},
	ContentBook:   {ParamQuery: true, ParamAuthor: true, ParamTitle: true, ParamYear: true},
}

// SearchParams lists the query parameters the criteria actually uses.
func (c *Criteria) SearchParams() []SearchParam {
	var params []SearchParam
	if strings.TrimSpace(c.Term) != "" {
		params = append(params, ParamQuery)
	}
	if c.IMDbID != "" {
		params = append(params, ParamIMDbID)
	}
	if c.TMDbID > 0 {
		params = append(params, ParamTMDbID)
	}
	if c.TVDbID > 0 {
		params = append(params, ParamTVDbID)
	}
	if c.Season != nil {
		params = append(params, ParamSeason)
	}
	if c.Episode != nil {
		params = append(params, ParamEpisode)
	}
	if c.Year > 0 {
		params = append(params, ParamYear)
	}
	if c.Artist != "" {
		params = append(params, ParamArtist)
	}
	if c.Album != "" {
		params = append(params, ParamAlbum)
	}
	if c.Author != "" {
		params = append(params, ParamAuthor)
	}
	if c.Title != "" {
		params = append(params, ParamTitle)
	}
	return params
}

// Validate rejects criteria that no target could serve.
func (c *Criteria) Validate() error {
	if c.Type == "" {
		c.Type = ContentSearch
	}
	if !c.Type.Valid() {
		return fmt.Errorf("unknown search type %q", c.Type)
	}
	for _, p := range c.SearchParams() {
		if !allowedParams[c.Type][p] {
			return fmt.Errorf("parameter %s is not valid for %s searches", p, c.Type)
		}
	}
	if c.Episode != nil && c.Season == nil {
		return fmt.Errorf("episode requires a season")
	}
	if c.Limit < 0 || c.Offset < 0 {
		return fmt.Errorf("limit and offset must not be negative")
	}
	for _, id := range c.Categories {
		if id <= 0 {
			return fmt.Errorf("invalid category id %d", id)
		}
	}
	switch c.CacheMode {
	case CacheModeDefault, CacheModeBypass:
	default:
		return fmt.Errorf("unknown cache mode %q", c.CacheMode)
	}
	return nil
}

// NormalizedIMDbID returns the IMDb id with the "tt" prefix stripped.
func (c *Criteria) NormalizedIMDbID() string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.IMDbID)), "tt")
}

// EpisodeString renders season and episode as S01E02, S01 or an empty string.
func (c *Criteria) EpisodeString() string {
	if c.Season == nil {
		return ""
	}
	s := fmt.Sprintf("S%02d", *c.Season)
	if c.Episode != nil {
		s += fmt.Sprintf("E%02d", *c.Episode)
	}
	return s
}

// SearchTerm is the free text a term-based target should receive, with the
// episode marker appended for tv searches.
func (c *Criteria) SearchTerm() string {
	term := strings.TrimSpace(c.Term)
	if c.Type == ContentTV {
		if ep := c.EpisodeString(); ep != "" {
			term = strings.TrimSpace(term + " " + ep)
		}
	}
	return term
}

// IsRSS reports whether the criteria carries no query at all.
func (c *Criteria) IsRSS() bool {
	return len(c.SearchParams()) == 0
}

// Fingerprint renders every field that affects the dispatched requests into
// a stable string suitable for hashing.
func (c *Criteria) Fingerprint() string {
	var b strings.Builder
	b.WriteString(string(c.Type))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(c.Term)))
	b.WriteByte('|')
	for _, id := range c.Categories {
		b.WriteString(strconv.Itoa(id))
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, "|%s|%d|%d|%s|%d|%s|%s|%s|%s|%d|%d|%t",
		c.NormalizedIMDbID(), c.TMDbID, c.TVDbID, c.EpisodeString(), c.Year,
		c.Artist, c.Album, c.Author, c.Title, c.Limit, c.Offset, c.StrictTerm)
	return b.String()
}
