// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/aggregator"
	"github.com/autobrr/trawl/internal/indexer"
)

// Searcher runs aggregated searches. *aggregator.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, c *indexer.Criteria) (*aggregator.SearchResponse, error)
}

type SearchHandler struct {
	searcher Searcher
}

func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// Search accepts the criteria as a JSON body.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var c indexer.Criteria
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	h.run(w, r, &c)
}

// SearchQuery accepts the criteria as query parameters, using the same
// parameter names targets declare in their capabilities.
func (h *SearchHandler) SearchQuery(w http.ResponseWriter, r *http.Request) {
	c, err := criteriaFromQuery(r.URL.Query())
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.run(w, r, c)
}

func (h *SearchHandler) run(w http.ResponseWriter, r *http.Request, c *indexer.Criteria) {
	if err := c.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.searcher.Search(r.Context(), c)
	if err != nil {
		log.Error().Err(err).Str("type", string(c.Type)).Str("term", c.Term).Msg("search failed")
		RespondError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}

func criteriaFromQuery(q url.Values) (*indexer.Criteria, error) {
	c := &indexer.Criteria{
		Type:      indexer.ContentType(q.Get("t")),
		Term:      q.Get(string(indexer.ParamQuery)),
		IMDbID:    q.Get(string(indexer.ParamIMDbID)),
		Artist:    q.Get(string(indexer.ParamArtist)),
		Album:     q.Get(string(indexer.ParamAlbum)),
		Author:    q.Get(string(indexer.ParamAuthor)),
		Title:     q.Get(string(indexer.ParamTitle)),
		CacheMode: indexer.CacheMode(q.Get("cache")),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{string(indexer.ParamTMDbID), &c.TMDbID},
		{string(indexer.ParamTVDbID), &c.TVDbID},
		{string(indexer.ParamYear), &c.Year},
		{"limit", &c.Limit},
		{"offset", &c.Offset},
	}
	for _, p := range ints {
		v, err := queryInt(q, p.name)
		if err != nil {
			return nil, err
		}
		if v != nil {
			*p.dst = *v
		}
	}

	var err error
	if c.Season, err = queryInt(q, string(indexer.ParamSeason)); err != nil {
		return nil, err
	}
	if c.Episode, err = queryInt(q, string(indexer.ParamEpisode)); err != nil {
		return nil, err
	}

	for _, raw := range splitList(q["cat"]) {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid category %q", raw)
		}
		c.Categories = append(c.Categories, id)
	}
	c.TargetIDs = splitList(q["targets"])

	if s := q.Get("strict"); s != "" {
		strict, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid strict flag %q", s)
		}
		c.StrictTerm = strict
	}

	return c, nil
}

func queryInt(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &v, nil
}

// splitList accepts both repeated and comma separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
