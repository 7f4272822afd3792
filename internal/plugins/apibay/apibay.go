// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package apibay implements the public JSON API behind The Pirate Bay.
package apibay

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/category"
	"github.com/autobrr/trawl/internal/indexer"
)

const ID = "thepiratebay"

// Trackers appended to generated magnet links.
var Trackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.openbittorrent.com:6969/announce",
}

var categories = []category.Entry{
	{Native: "100", Standard: category.Audio, Label: "Audio"},
	{Native: "101", Standard: category.AudioMP3, Label: "Music"},
	{Native: "102", Standard: category.AudioAudiobook, Label: "Audio Books"},
	{Native: "104", Standard: category.AudioLossless, Label: "FLAC"},
	{Native: "199", Standard: category.AudioOther, Label: "Audio Other"},
	{Native: "200", Standard: category.Movies, Label: "Video"},
	{Native: "201", Standard: category.MoviesSD, Label: "Movies"},
	{Native: "202", Standard: category.MoviesDVD, Label: "Movies DVDR"},
	{Native: "205", Standard: category.TVSD, Label: "TV shows"},
	{Native: "207", Standard: category.MoviesHD, Label: "HD Movies"},
	{Native: "208", Standard: category.TVHD, Label: "HD TV shows"},
	{Native: "209", Standard: category.Movies3D, Label: "3D"},
	{Native: "211", Standard: category.MoviesUHD, Label: "UHD/4k Movies"},
	{Native: "212", Standard: category.TVUHD, Label: "UHD/4k TV shows"},
	{Native: "299", Standard: category.MoviesOther, Label: "Video Other"},
	{Native: "300", Standard: category.PC, Label: "Applications"},
	{Native: "400", Standard: category.Console, Label: "Games"},
	{Native: "401", Standard: category.PCGames, Label: "Games PC"},
	{Native: "601", Standard: category.BooksEBook, Label: "E-books"},
	{Native: "602", Standard: category.BooksComics, Label: "Comics"},
	{Native: "699", Standard: category.BooksOther, Label: "Other"},
}

// Definition returns the runtime definition. links replaces the default API
// endpoint when non-empty.
func Definition(links []string) *indexer.Definition {
	if len(links) == 0 {
		links = []string{"https://apibay.org/"}
	}
	return &indexer.Definition{
		ID:                 ID,
		Name:               "The Pirate Bay",
		Description:        "Public BitTorrent site, queried through its JSON API",
		Language:           "en-US",
		Links:              links,
		Protocol:           indexer.ProtocolTorrent,
		Privacy:            indexer.PrivacyPublic,
		MinRequestInterval: time.Second,
		Capabilities: indexer.Capabilities{Modes: map[indexer.ContentType][]indexer.SearchParam{
			indexer.ContentSearch: {indexer.ParamQuery},
			indexer.ContentMovie:  {indexer.ParamQuery},
			indexer.ContentTV:     {indexer.ParamQuery, indexer.ParamSeason, indexer.ParamEpisode},
			indexer.ContentMusic:  {indexer.ParamQuery},
			indexer.ContentBook:   {indexer.ParamQuery},
		}},
		Categories: category.MustMapping(categories),
	}
}

// Plugin builds q.php searches and parses the JSON array they return.
type Plugin struct {
	def *indexer.Definition
}

func New(def *indexer.Definition) *Plugin {
	return &Plugin{def: def}
}

func (p *Plugin) BuildRequests(c *indexer.Criteria, nativeCategories []string) (indexer.Chain, error) {
	base := p.def.BaseURL()

	if c.IsRSS() {
		req := indexer.NewRequest(base + "/precompiled/data_top100_recent.json")
		req.Accept = "application/json"
		return indexer.Single(req), nil
	}

	cats := nativeCategories
	if len(cats) == 0 {
		for _, e := range p.def.Categories.Entries() {
			cats = append(cats, e.Native)
		}
	}
	q := url.Values{
		"q":   {c.SearchTerm()},
		"cat": {strings.Join(cats, ",")},
	}
	req := indexer.NewRequest(base + "/q.php?" + q.Encode())
	req.Accept = "application/json"
	return indexer.Single(req), nil
}

// item mirrors one entry of the API response; the API encodes every
// number as a string.
type item struct {
	ID       json.Number `json:"id"`
	Name     string      `json:"name"`
	InfoHash string      `json:"info_hash"`
	Leechers json.Number `json:"leechers"`
	Seeders  json.Number `json:"seeders"`
	NumFiles json.Number `json:"num_files"`
	Size     json.Number `json:"size"`
	Username string      `json:"username"`
	Added    json.Number `json:"added"`
	Status   string      `json:"status"`
	Category json.Number `json:"category"`
	IMDb     string      `json:"imdb"`
}

// noResultsID marks the placeholder row the API returns for an empty search.
const noResultsID = "0"

func (p *Plugin) ParseResponse(resp *indexer.Response) ([]*indexer.Release, error) {
	var items []item
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(items) == 1 && items[0].ID.String() == noResultsID {
		return []*indexer.Release{}, nil
	}

	base := p.def.Links[0]
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	site := strings.Replace(base, "apibay.org", "thepiratebay.org", 1)

	releases := make([]*indexer.Release, 0, len(items))
	for _, it := range items {
		r, err := p.release(it, site)
		if err != nil {
			log.Debug().Err(err).Str("target", p.def.ID).Str("name", it.Name).Msg("skipping api item")
			continue
		}
		releases = append(releases, r)
	}
	return releases, nil
}

func (p *Plugin) release(it item, site string) (*indexer.Release, error) {
	if it.Name == "" {
		return nil, fmt.Errorf("item %s has no name", it.ID)
	}

	var hash metainfo.Hash
	if err := hash.FromHexString(it.InfoHash); err != nil {
		return nil, fmt.Errorf("info hash: %w", err)
	}

	seeders := atoi(it.Seeders)
	leechers := atoi(it.Leechers)

	r := &indexer.Release{
		Title:                it.Name,
		InfoHash:             hash.HexString(),
		MagnetURL:            Magnet(hash, it.Name),
		Size:                 int64(atoi(it.Size)),
		Files:                atoi(it.NumFiles),
		Seeders:              indexer.IntPtr(seeders),
		Peers:                indexer.IntPtr(seeders + leechers),
		NativeCategories:     []string{it.Category.String()},
		DownloadVolumeFactor: 0,
		UploadVolumeFactor:   1,
		IMDbID:               parseIMDb(it.IMDb),
	}
	if added := atoi(it.Added); added > 0 {
		r.PublishDate = time.Unix(int64(added), 0).UTC()
	}
	if id := it.ID.String(); id != "" && id != noResultsID {
		r.DetailsURL = site + "description.php?id=" + id
		r.GUID = r.DetailsURL
	}
	return r, nil
}

// Magnet builds a public magnet link for hash with the default trackers.
func Magnet(hash metainfo.Hash, name string) string {
	m := metainfo.Magnet{
		InfoHash:    hash,
		DisplayName: name,
		Trackers:    Trackers,
	}
	return m.String()
}

func atoi(n json.Number) int {
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return 0
	}
	return v
}

// parseIMDb reads "tt0111161" or "0111161" into its numeric form.
func parseIMDb(s string) int {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tt")
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

var _ indexer.Plugin = (*Plugin)(nil)
