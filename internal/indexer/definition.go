// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package indexer holds the contract between the dispatch core and the
// site-specific plugins: target definitions, search criteria, request
// descriptors, normalized releases and the failure taxonomy.
package indexer

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/autobrr/trawl/internal/category"
)

// Protocol is the transfer protocol of the releases a target publishes.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// Privacy is the access tier of a target.
type Privacy string

const (
	PrivacyPublic      Privacy = "public"
	PrivacySemiPrivate Privacy = "semi-private"
	PrivacyPrivate     Privacy = "private"
)

// ContentType selects the search mode a criteria runs in.
type ContentType string

const (
	ContentSearch ContentType = "search"
	ContentMovie  ContentType = "movie"
	ContentTV     ContentType = "tv"
	ContentMusic  ContentType = "music"
	ContentBook   ContentType = "book"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentSearch, ContentMovie, ContentTV, ContentMusic, ContentBook:
		return true
	}
	return false
}

// SearchParam names one query parameter a search mode can accept.
type SearchParam string

const (
	ParamQuery   SearchParam = "q"
	ParamSeason  SearchParam = "season"
	ParamEpisode SearchParam = "ep"
	ParamIMDbID  SearchParam = "imdbid"
	ParamTMDbID  SearchParam = "tmdbid"
	ParamTVDbID  SearchParam = "tvdbid"
	ParamYear    SearchParam = "year"
	ParamArtist  SearchParam = "artist"
	ParamAlbum   SearchParam = "album"
	ParamAuthor  SearchParam = "author"
	ParamTitle   SearchParam = "title"
)

// Capabilities declares which search modes a target serves and the query
// parameters each mode understands.
type Capabilities struct {
	Modes map[ContentType][]SearchParam `json:"modes" yaml:"modes"`
}

// Supports reports whether the mode is declared. The basic search mode is
// implied by any other declared mode.
func (c Capabilities) Supports(t ContentType) bool {
	if _, ok := c.Modes[t]; ok {
		return true
	}
	return t == ContentSearch && len(c.Modes) > 0
}

// SupportsParams reports whether every param is accepted by mode t.
func (c Capabilities) SupportsParams(t ContentType, params []SearchParam) bool {
	if !c.Supports(t) {
		return false
	}
	declared, ok := c.Modes[t]
	if !ok {
		declared = []SearchParam{ParamQuery}
	}
	for _, p := range params {
		if !slices.Contains(declared, p) {
			return false
		}
	}
	return true
}

// Definition is the immutable description of one target. It is loaded at
// startup or on config reload and shared read-only by every search.
type Definition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`
	Links       []string `json:"links"`
	Protocol    Protocol `json:"protocol"`
	Privacy     Privacy  `json:"privacy"`

	// Encoding is the character set of response bodies; empty means UTF-8.
	Encoding string `json:"encoding,omitempty"`
	// PageSize is the number of rows a full page holds; zero disables
	// short-page detection.
	PageSize     int  `json:"pageSize,omitempty"`
	RequiresAuth bool `json:"requiresAuth"`

	MinRequestInterval time.Duration `json:"minRequestInterval,omitempty"`
	RequestTimeout     time.Duration `json:"requestTimeout,omitempty"`
	// SessionTTL bounds an authenticated session; zero keeps it until the
	// target signals that a login is needed.
	SessionTTL time.Duration `json:"sessionTtl,omitempty"`

	Capabilities Capabilities      `json:"capabilities"`
	Categories   *category.Mapping `json:"-"`
}

// BaseURL returns the primary link of the target.
func (d *Definition) BaseURL() string {
	if len(d.Links) == 0 {
		return ""
	}
	return strings.TrimRight(d.Links[0], "/")
}

// Validate checks the definition for integrity problems that would make it
// unusable at dispatch time.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("definition is missing an id")
	}
	if len(d.Links) == 0 {
		return fmt.Errorf("definition %s has no links", d.ID)
	}
	switch d.Protocol {
	case ProtocolTorrent, ProtocolUsenet:
	default:
		return fmt.Errorf("definition %s has unknown protocol %q", d.ID, d.Protocol)
	}
	switch d.Privacy {
	case PrivacyPublic, PrivacySemiPrivate, PrivacyPrivate:
	default:
		return fmt.Errorf("definition %s has unknown privacy %q", d.ID, d.Privacy)
	}
	if d.Categories == nil {
		return fmt.Errorf("definition %s has no category mapping", d.ID)
	}
	for mode := range d.Capabilities.Modes {
		if !mode.Valid() {
			return fmt.Errorf("definition %s declares unknown search mode %q", d.ID, mode)
		}
	}
	return nil
}

// Credentials are the user-supplied secrets for one target.
type Credentials struct {
	Username string `json:"-" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
	Cookie   string `json:"-" mapstructure:"cookie"`
	APIKey   string `json:"-" mapstructure:"apikey"`
	Passkey  string `json:"-" mapstructure:"passkey"`
}

// HasLogin reports whether username/password credentials are present.
func (c Credentials) HasLogin() bool {
	return c.Username != "" && c.Password != ""
}

// Target is a configured, dispatchable instance of a definition.
type Target struct {
	Definition  *Definition
	Plugin      Plugin
	Credentials Credentials
	Enabled     bool
	// MinInterval overrides the definition's rate limit when positive.
	MinInterval time.Duration
}

// ID returns the target identifier.
func (t *Target) ID() string {
	return t.Definition.ID
}

// Interval returns the effective minimum interval between requests.
func (t *Target) Interval(fallback time.Duration) time.Duration {
	if t.MinInterval > 0 {
		return t.MinInterval
	}
	if t.Definition.MinRequestInterval > 0 {
		return t.Definition.MinRequestInterval
	}
	return fallback
}
