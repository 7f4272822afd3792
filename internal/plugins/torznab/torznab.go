// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torznab queries any Torznab compatible feed, such as a Jackett or
// Prowlarr indexer endpoint or a tracker's native Torznab API.
package torznab

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/category"
	"github.com/autobrr/trawl/internal/indexer"
)

const ID = "torznab"

// searchFunctions maps content types to the Torznab t= function.
var searchFunctions = map[indexer.ContentType]string{
	indexer.ContentSearch: "search",
	indexer.ContentMovie:  "movie",
	indexer.ContentTV:     "tvsearch",
	indexer.ContentMusic:  "music",
	indexer.ContentBook:   "book",
}

// Definition returns the runtime definition of a Torznab feed. The feed has
// no default location, so links must name the API endpoint, e.g.
// http://jackett:9117/api/v2.0/indexers/all/results/torznab/api.
func Definition(links []string) (*indexer.Definition, error) {
	if len(links) == 0 {
		return nil, fmt.Errorf("torznab targets need a baseUrl pointing at the feed endpoint")
	}

	// Torznab speaks the standard taxonomy natively.
	all := category.All()
	entries := make([]category.Entry, 0, len(all))
	for _, c := range all {
		entries = append(entries, category.Entry{Native: strconv.Itoa(c.ID), Standard: c.ID, Label: c.Name})
	}

	return &indexer.Definition{
		ID:          ID,
		Name:        "Torznab feed",
		Description: "Generic Torznab API endpoint",
		Links:       links,
		Protocol:    indexer.ProtocolTorrent,
		Privacy:     indexer.PrivacyPrivate,
		PageSize:    100,
		Capabilities: indexer.Capabilities{Modes: map[indexer.ContentType][]indexer.SearchParam{
			indexer.ContentSearch: {indexer.ParamQuery},
			indexer.ContentMovie:  {indexer.ParamQuery, indexer.ParamIMDbID, indexer.ParamTMDbID, indexer.ParamYear},
			indexer.ContentTV:     {indexer.ParamQuery, indexer.ParamSeason, indexer.ParamEpisode, indexer.ParamIMDbID, indexer.ParamTVDbID, indexer.ParamTMDbID},
			indexer.ContentMusic:  {indexer.ParamQuery, indexer.ParamArtist, indexer.ParamAlbum, indexer.ParamYear},
			indexer.ContentBook:   {indexer.ParamQuery, indexer.ParamAuthor, indexer.ParamTitle},
		}},
		Categories: category.MustMapping(entries),
	}, nil
}

// Plugin builds t=search style requests and parses the RSS they return.
type Plugin struct {
	def    *indexer.Definition
	apiKey string
}

func New(def *indexer.Definition, apiKey string) *Plugin {
	return &Plugin{def: def, apiKey: apiKey}
}

func (p *Plugin) BuildRequests(c *indexer.Criteria, nativeCategories []string) (indexer.Chain, error) {
	endpoint, err := url.Parse(p.def.Links[0])
	if err != nil {
		return nil, fmt.Errorf("parse torznab endpoint: %w", err)
	}

	typ := c.Type
	if typ == "" {
		typ = indexer.ContentSearch
	}
	fn, ok := searchFunctions[typ]
	if !ok {
		return nil, indexer.CapabilityMismatch(p.def.ID, fmt.Errorf("unsupported search type %q", c.Type))
	}

	query := endpoint.Query()
	query.Set("t", fn)
	if p.apiKey != "" {
		query.Set("apikey", p.apiKey)
	}
	if c.Term != "" {
		query.Set("q", c.Term)
	}
	if len(nativeCategories) > 0 {
		query.Set("cat", strings.Join(nativeCategories, ","))
	}
	if id := c.NormalizedIMDbID(); id != "" {
		query.Set("imdbid", id)
	}
	setInt(query, "tmdbid", c.TMDbID)
	setInt(query, "tvdbid", c.TVDbID)
	setInt(query, "year", c.Year)
	if c.Season != nil {
		query.Set("season", strconv.Itoa(*c.Season))
	}
	if c.Episode != nil {
		query.Set("ep", strconv.Itoa(*c.Episode))
	}
	setString(query, "artist", c.Artist)
	setString(query, "album", c.Album)
	setString(query, "author", c.Author)
	setString(query, "title", c.Title)
	setInt(query, "limit", c.Limit)
	setInt(query, "offset", c.Offset)

	endpoint.RawQuery = query.Encode()

	req := indexer.NewRequest(endpoint.String())
	req.Accept = "application/rss+xml"
	return indexer.Single(req), nil
}

func setInt(q url.Values, key string, v int) {
	if v > 0 {
		q.Set(key, strconv.Itoa(v))
	}
}

func setString(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

type rss struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string `xml:"title"`
		Items []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title      string   `xml:"title"`
	GUID       string   `xml:"guid"`
	Link       string   `xml:"link"`
	Comments   string   `xml:"comments"`
	PubDate    string   `xml:"pubDate"`
	Size       string   `xml:"size"`
	Categories []string `xml:"category"`
	Enclosure  struct {
		URL    string `xml:"url,attr"`
		Length string `xml:"length,attr"`
	} `xml:"enclosure"`
	Attrs []attr `xml:"attr"`
}

type attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// apiError is the document a feed returns instead of rss on failure.
type apiError struct {
	XMLName     xml.Name `xml:"error"`
	Code        int      `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

func (p *Plugin) ParseResponse(resp *indexer.Response) ([]*indexer.Release, error) {
	var apiErr apiError
	if xml.Unmarshal(resp.Body, &apiErr) == nil {
		err := fmt.Errorf("torznab error %d: %s", apiErr.Code, apiErr.Description)
		// 100-102 are the credential and privilege errors
		if apiErr.Code >= 100 && apiErr.Code <= 102 {
			return nil, indexer.AuthFailure(p.def.ID, err)
		}
		return nil, err
	}

	var doc rss
	if err := xml.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("decode torznab feed: %w", err)
	}

	releases := make([]*indexer.Release, 0, len(doc.Channel.Items))
	for i, it := range doc.Channel.Items {
		r, err := p.release(it)
		if err != nil {
			log.Debug().Err(err).Str("target", p.def.ID).Int("item", i).Msg("skipping torznab item")
			continue
		}
		releases = append(releases, r)
	}
	return releases, nil
}

func (p *Plugin) release(it item) (*indexer.Release, error) {
	title := strings.TrimSpace(it.Title)
	if title == "" {
		return nil, fmt.Errorf("item has no title")
	}

	r := &indexer.Release{
		Title:                title,
		GUID:                 it.GUID,
		DetailsURL:           it.Comments,
		DownloadVolumeFactor: 1,
		UploadVolumeFactor:   1,
		NativeCategories:     it.Categories,
	}

	link := it.Enclosure.URL
	if link == "" {
		link = it.Link
	}
	if strings.HasPrefix(link, "magnet:") {
		r.MagnetURL = link
	} else {
		r.DownloadURL = link
	}

	r.Size = parseInt64(it.Size)
	if r.Size == 0 {
		r.Size = parseInt64(it.Enclosure.Length)
	}
	r.PublishDate = parsePubDate(it.PubDate)

	for _, a := range it.Attrs {
		value := strings.TrimSpace(a.Value)
		switch strings.ToLower(strings.TrimSpace(a.Name)) {
		case "category":
			r.NativeCategories = appendUnique(r.NativeCategories, value)
		case "size":
			if r.Size == 0 {
				r.Size = parseInt64(value)
			}
		case "files":
			r.Files = int(parseInt64(value))
		case "seeders":
			r.Seeders = parseIntPtr(value)
		case "peers":
			r.Peers = parseIntPtr(value)
		case "grabs":
			r.Grabs = parseIntPtr(value)
		case "infohash":
			r.InfoHash = strings.ToLower(value)
		case "magneturl":
			r.MagnetURL = value
		case "downloadvolumefactor":
			r.DownloadVolumeFactor = parseFloat(value, 1)
		case "uploadvolumefactor":
			r.UploadVolumeFactor = parseFloat(value, 1)
		case "minimumratio":
			r.MinimumRatio = parseFloat(value, 0)
		case "minimumseedtime":
			r.MinimumSeedTime = parseInt64(value)
		case "imdb", "imdbid":
			r.IMDbID = int(parseInt64(strings.TrimPrefix(value, "tt")))
		case "tmdbid":
			r.TMDbID = int(parseInt64(value))
		case "tvdbid":
			r.TVDbID = int(parseInt64(value))
		case "poster":
			r.Poster = value
		case "group":
			r.Group = value
		}
	}

	if r.GUID == "" {
		r.GUID = r.Link()
	}
	if r.Link() == "" && r.InfoHash == "" {
		return nil, fmt.Errorf("item %q has no link", title)
	}
	return r, nil
}

var pubDateLayouts = []string{time.RFC1123Z, time.RFC1123, time.RFC3339}

func parsePubDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseIntPtr(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseFloat(s string, fallback float64) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
