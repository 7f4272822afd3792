// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package definitions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/indexer"
)

// row extracts the raw value of one field; found is false when the
// selector matched nothing.
type row interface {
	value(f Field) (v string, found bool)
}

type htmlRow struct {
	sel *goquery.Selection
}

func (r htmlRow) value(f Field) (string, bool) {
	sel := r.sel
	if f.Selector != "" {
		sel = sel.Find(f.Selector).First()
	}
	if sel.Length() == 0 {
		return "", false
	}
	if f.Attribute != "" {
		return sel.Attr(f.Attribute)
	}
	return strings.TrimSpace(sel.Text()), true
}

type jsonRow struct {
	data any
}

func (r jsonRow) value(f Field) (string, bool) {
	v, ok := lookupPath(r.data, f.Selector)
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// lookupPath walks a dotted path ("data.items", "files.0.name") through
// decoded JSON. An empty path returns v itself.
func lookupPath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	for _, key := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			v = node[i]
		default:
			return nil, false
		}
	}
	return v, true
}

// ParseResponse extracts releases from one page. Rows that fail to parse
// are skipped; the page only fails when no row was usable.
func (p *Plugin) ParseResponse(resp *indexer.Response) ([]*indexer.Release, error) {
	if p.noResults.eval(resp) {
		return []*indexer.Release{}, nil
	}

	rows, err := p.rows(resp)
	if err != nil {
		return nil, err
	}

	base := p.def.BaseURL() + "/"
	if resp.Request != nil && resp.Request.URL != "" {
		base = resp.Request.URL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	releases := make([]*indexer.Release, 0, len(rows))
	var firstErr error
	for i, r := range rows {
		release, err := p.release(r, baseURL)
		if err != nil {
			log.Debug().Err(err).Str("target", p.def.ID).Int("row", i).Msg("skipping unparsable row")
			if firstErr == nil {
				firstErr = fmt.Errorf("row %d: %w", i, err)
			}
			continue
		}
		releases = append(releases, release)
	}
	if len(releases) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return releases, nil
}

func (p *Plugin) rows(resp *indexer.Response) ([]row, error) {
	selector := p.file.Search.Rows.Selector

	if p.file.Search.Response.Type == ResponseJSON {
		dec := json.NewDecoder(bytes.NewReader(resp.Body))
		dec.UseNumber()
		var root any
		if err := dec.Decode(&root); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		v, ok := lookupPath(root, selector)
		if !ok || v == nil {
			return nil, nil
		}
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("rows at %q are %T, not an array", selector, v)
		}
		out := make([]row, len(items))
		for i, item := range items {
			out[i] = jsonRow{data: item}
		}
		return out, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []row
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, htmlRow{sel: s})
	})
	return out, nil
}

func (p *Plugin) fieldValues(r row) (map[string]string, error) {
	values := make(map[string]string, len(p.file.Search.Fields))
	for name, f := range p.file.Search.Fields {
		// A field without a selector is a constant.
		if f.Selector == "" && f.Attribute == "" {
			values[name] = f.Default
			continue
		}
		raw, found := r.value(f)
		if !found && f.Default == "" && !f.Optional {
			return nil, fmt.Errorf("field %s: selector %q matched nothing", name, f.Selector)
		}
		v, err := applyFilters(raw, f.Filters)
		if err != nil {
			if f.Optional {
				continue
			}
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if v == "" {
			v = f.Default
		}
		values[name] = strings.TrimSpace(v)
	}
	return values, nil
}

func (p *Plugin) release(r row, base *url.URL) (*indexer.Release, error) {
	values, err := p.fieldValues(r)
	if err != nil {
		return nil, err
	}

	rel := &indexer.Release{Title: values["title"]}
	if rel.Title == "" {
		return nil, fmt.Errorf("empty title")
	}

	rel.DetailsURL = resolveLink(base, values["details"])
	rel.DownloadURL = resolveLink(base, values["download"])
	rel.MagnetURL = values["magnet"]
	rel.InfoHash = strings.ToLower(values["infohash"])
	rel.GUID = values["guid"]
	if rel.GUID == "" {
		rel.GUID = rel.DetailsURL
	}
	rel.Poster = values["poster"]
	rel.Group = values["group"]

	if rel.Size, err = parseSize(values["size"]); err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	if rel.Files, err = parseInt(values["files"]); err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	if rel.PublishDate, err = parseDate(values["date"]); err != nil {
		log.Trace().Err(err).Str("target", p.def.ID).Msg("unparsable publish date")
	}

	seeders, err := optionalInt(values, "seeders")
	if err != nil {
		return nil, err
	}
	leechers, err := optionalInt(values, "leechers")
	if err != nil {
		return nil, err
	}
	if rel.Grabs, err = optionalInt(values, "grabs"); err != nil {
		return nil, err
	}
	rel.Seeders = seeders
	if seeders != nil && leechers != nil {
		rel.Peers = indexer.IntPtr(*seeders + *leechers)
	}

	if cats := values["category"]; cats != "" {
		for _, c := range strings.Split(cats, ",") {
			if c = strings.TrimSpace(c); c != "" {
				rel.NativeCategories = append(rel.NativeCategories, c)
			}
		}
	}

	if imdb := strings.TrimPrefix(strings.ToLower(values["imdb"]), "tt"); imdb != "" {
		if rel.IMDbID, err = strconv.Atoi(imdb); err != nil {
			return nil, fmt.Errorf("imdb: %w", err)
		}
	}
	if rel.TMDbID, err = parseInt(values["tmdbid"]); err != nil {
		return nil, fmt.Errorf("tmdbid: %w", err)
	}
	if rel.TVDbID, err = parseInt(values["tvdbid"]); err != nil {
		return nil, fmt.Errorf("tvdbid: %w", err)
	}

	if rel.DownloadVolumeFactor, err = volumeFactor(values, "downloadvolumefactor"); err != nil {
		return nil, err
	}
	if rel.UploadVolumeFactor, err = volumeFactor(values, "uploadvolumefactor"); err != nil {
		return nil, err
	}
	if rel.MinimumRatio, err = parseFloat(values["minimumratio"]); err != nil {
		return nil, fmt.Errorf("minimumratio: %w", err)
	}
	seedTime, err := parseInt(values["minimumseedtime"])
	if err != nil {
		return nil, fmt.Errorf("minimumseedtime: %w", err)
	}
	rel.MinimumSeedTime = int64(seedTime)

	if rel.Link() == "" && rel.InfoHash == "" {
		return nil, fmt.Errorf("no download link")
	}
	return rel, nil
}

// volumeFactor reads a ratio factor, defaulting to 1 when the field is
// absent or blank. An explicit 0 is kept.
func volumeFactor(values map[string]string, name string) (float64, error) {
	v, ok := values[name]
	if !ok || strings.TrimSpace(v) == "" {
		return 1, nil
	}
	f, err := parseFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

func optionalInt(values map[string]string, name string) (*int, error) {
	v, ok := values[name]
	if !ok || v == "" {
		return nil, nil
	}
	n, err := parseInt(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &n, nil
}

func resolveLink(base *url.URL, link string) string {
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}
