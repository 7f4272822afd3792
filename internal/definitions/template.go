// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package definitions

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/autobrr/trawl/internal/indexer"
)

var templateFuncs = template.FuncMap{
	"join":       strings.Join,
	"lower":      strings.ToLower,
	"upper":      strings.ToUpper,
	"trim":       strings.TrimSpace,
	"replace":    func(from, to, s string) string { return strings.ReplaceAll(s, from, to) },
	"urlencode":  url.QueryEscape,
	"pathescape": url.PathEscape,
	"re_replace": func(pattern, repl, s string) (string, error) {
		re, err := compileRegexp(pattern)
		if err != nil {
			return "", err
		}
		return re.ReplaceAllString(s, repl), nil
	},
	"default": func(def, s string) string {
		if s == "" {
			return def
		}
		return s
	},
}

type queryData struct {
	Type        string
	Term        string
	Keywords    string
	IMDbID      string
	IMDbIDShort string
	TMDbID      string
	TVDbID      string
	Season      string
	Episode     string
	Ep          string
	Year        string
	Artist      string
	Album       string
	Author      string
	Title       string
}

type pageData struct {
	Index  int
	Offset int
	Size   int
}

type templateData struct {
	Query      queryData
	Config     map[string]string
	Categories []string
	Page       pageData
}

func newQueryData(c *indexer.Criteria) queryData {
	q := queryData{
		Type:     string(c.Type),
		Term:     strings.TrimSpace(c.Term),
		Keywords: c.SearchTerm(),
		Ep:       c.EpisodeString(),
		Artist:   c.Artist,
		Album:    c.Album,
		Author:   c.Author,
		Title:    c.Title,
	}
	if short := c.NormalizedIMDbID(); short != "" {
		q.IMDbIDShort = short
		q.IMDbID = "tt" + short
	}
	if c.TMDbID > 0 {
		q.TMDbID = strconv.Itoa(c.TMDbID)
	}
	if c.TVDbID > 0 {
		q.TVDbID = strconv.Itoa(c.TVDbID)
	}
	if c.Season != nil {
		q.Season = strconv.Itoa(*c.Season)
	}
	if c.Episode != nil {
		q.Episode = strconv.Itoa(*c.Episode)
	}
	if c.Year > 0 {
		q.Year = strconv.Itoa(c.Year)
	}
	return q
}

func configData(creds indexer.Credentials) map[string]string {
	return map[string]string{
		"username": creds.Username,
		"password": creds.Password,
		"apikey":   creds.APIKey,
		"passkey":  creds.Passkey,
	}
}

var (
	templateMu    sync.Mutex
	templateCache = map[string]*template.Template{}
)

// render executes text as a template. Parsed templates are cached by text.
func render(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	templateMu.Lock()
	tmpl, ok := templateCache[text]
	if !ok {
		var err error
		tmpl, err = template.New("").Funcs(templateFuncs).Option("missingkey=zero").Parse(text)
		if err != nil {
			templateMu.Unlock()
			return "", fmt.Errorf("parse template %q: %w", text, err)
		}
		templateCache[text] = tmpl
	}
	templateMu.Unlock()

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render template %q: %w", text, err)
	}
	return b.String(), nil
}

var (
	regexpMu    sync.Mutex
	regexpCache = map[string]*regexp.Regexp{}
)

func compileRegexp(pattern string) (*regexp.Regexp, error) {
	regexpMu.Lock()
	defer regexpMu.Unlock()
	if re, ok := regexpCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexpCache[pattern] = re
	return re, nil
}
