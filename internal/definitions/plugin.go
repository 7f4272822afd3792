// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package definitions

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/autobrr/trawl/internal/indexer"
)

// Plugin runs a definition file for one configured target.
type Plugin struct {
	file  *File
	def   *indexer.Definition
	creds indexer.Credentials

	needed    *predicate
	success   *predicate
	noResults *predicate
}

// NewPlugin binds f to the runtime definition and credentials of a target.
func (f *File) NewPlugin(def *indexer.Definition, creds indexer.Credentials) (*Plugin, error) {
	p := &Plugin{file: f, def: def, creds: creds}

	var err error
	if f.Login != nil {
		if p.needed, err = compilePredicate(f.Login.Needed); err != nil {
			return nil, fmt.Errorf("definition %s login.needed: %w", f.ID, err)
		}
		if p.success, err = compilePredicate(f.Login.Success); err != nil {
			return nil, fmt.Errorf("definition %s login.success: %w", f.ID, err)
		}
	}
	if p.noResults, err = compilePredicate(f.Search.Response.NoResults); err != nil {
		return nil, fmt.Errorf("definition %s response.noResults: %w", f.ID, err)
	}
	return p, nil
}

func (p *Plugin) BuildRequests(c *indexer.Criteria, nativeCategories []string) (indexer.Chain, error) {
	data := templateData{
		Query:      newQueryData(c),
		Config:     configData(p.creds),
		Categories: nativeCategories,
	}
	params := c.SearchParams()

	pages := max(p.file.Search.Pages, 1)
	if c.IsRSS() {
		pages = 1
	}

	var chain indexer.Chain
	for _, path := range p.file.Search.Paths {
		if !path.applies(c.Type, params) {
			continue
		}
		batch := make(indexer.Batch, 0, pages)
		for i := range pages {
			data.Page = pageData{Index: i, Offset: i * p.def.PageSize, Size: p.def.PageSize}
			req, err := p.searchRequest(path, data)
			if err != nil {
				return nil, err
			}
			batch = append(batch, req)
		}
		chain = chain.Add(batch)
	}
	return chain, nil
}

func (sp SearchPath) applies(t indexer.ContentType, params []indexer.SearchParam) bool {
	if len(sp.Modes) > 0 && !slices.Contains(sp.Modes, string(t)) {
		return false
	}
	for _, req := range sp.Requires {
		if !slices.Contains(params, indexer.SearchParam(req)) {
			return false
		}
	}
	return true
}

func (p *Plugin) searchRequest(path SearchPath, data templateData) (*indexer.Request, error) {
	rawPath, err := render(path.Path, data)
	if err != nil {
		return nil, err
	}
	u, err := p.resolve(rawPath)
	if err != nil {
		return nil, err
	}

	values := u.Query()
	inputs := make(map[string]string, len(p.file.Search.Inputs)+len(path.Inputs))
	for k, v := range p.file.Search.Inputs {
		inputs[k] = v
	}
	for k, v := range path.Inputs {
		inputs[k] = v
	}
	for k, tmpl := range inputs {
		v, err := render(tmpl, data)
		if err != nil {
			return nil, err
		}
		if v != "" {
			values.Set(k, v)
		}
	}
	if err := p.addCategories(values, data.Categories); err != nil {
		return nil, err
	}

	var req *indexer.Request
	if strings.EqualFold(path.Method, http.MethodPost) {
		u.RawQuery = ""
		req = indexer.NewFormRequest(u.String(), values)
	} else {
		u.RawQuery = values.Encode()
		req = indexer.NewRequest(u.String())
	}

	if err := renderHeaders(req.Header, p.file.Search.Headers, data); err != nil {
		return nil, err
	}
	if p.file.Search.Response.Type == ResponseJSON {
		req.Accept = "application/json"
	} else {
		req.Accept = "text/html"
	}
	return req, nil
}

func (p *Plugin) addCategories(values url.Values, native []string) error {
	cp := p.file.Search.Categories
	if len(native) == 0 || (cp.Param == "" && cp.Format == "") {
		return nil
	}
	switch {
	case cp.Separator != "" && cp.Param != "":
		values.Set(cp.Param, strings.Join(native, cp.Separator))
	case cp.Format != "":
		for _, id := range native {
			key, err := render(cp.Format, id)
			if err != nil {
				return err
			}
			value := cp.Value
			if value == "" {
				value = "1"
			} else if value, err = render(value, id); err != nil {
				return err
			}
			values.Set(key, value)
		}
	default:
		for _, id := range native {
			values.Add(cp.Param, id)
		}
	}
	return nil
}

func (p *Plugin) resolve(rawPath string) (*url.URL, error) {
	if strings.HasPrefix(rawPath, "http://") || strings.HasPrefix(rawPath, "https://") {
		return url.Parse(rawPath)
	}
	return url.Parse(p.def.BaseURL() + "/" + strings.TrimLeft(rawPath, "/"))
}

func renderHeaders(dst http.Header, headers map[string]string, data templateData) error {
	for k, tmpl := range headers {
		v, err := render(tmpl, data)
		if err != nil {
			return err
		}
		dst.Set(k, v)
	}
	return nil
}

// IsLoginNeeded evaluates the definition's login.needed predicate.
func (p *Plugin) IsLoginNeeded(resp *indexer.Response) bool {
	return p.needed.eval(resp)
}

func (p *Plugin) BuildLogin(creds indexer.Credentials) (indexer.Batch, error) {
	login := p.file.Login
	if login == nil {
		return nil, errors.New("definition has no login")
	}
	if login.Method == LoginCookie {
		return nil, errors.New("target authenticates with a cookie; configure credentials.cookie")
	}
	if !creds.HasLogin() {
		return nil, errors.New("username and password are required")
	}

	data := templateData{Config: configData(creds)}
	var batch indexer.Batch

	if login.Page != "" {
		u, err := p.resolve(login.Page)
		if err != nil {
			return nil, err
		}
		batch = append(batch, indexer.NewRequest(u.String()))
	}

	u, err := p.resolve(login.Path)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	for k, tmpl := range login.Inputs {
		v, err := render(tmpl, data)
		if err != nil {
			return nil, err
		}
		form.Set(k, v)
	}
	req := indexer.NewFormRequest(u.String(), form)
	if err := renderHeaders(req.Header, login.Headers, data); err != nil {
		return nil, err
	}
	return append(batch, req), nil
}

// IsLoginSuccessful uses login.success when declared, otherwise the
// inverse of login.needed.
func (p *Plugin) IsLoginSuccessful(resp *indexer.Response) bool {
	switch {
	case p.success != nil:
		return p.success.eval(resp)
	case p.needed != nil:
		return !p.needed.eval(resp)
	default:
		return resp.StatusCode < http.StatusBadRequest
	}
}

var (
	_ indexer.Plugin        = (*Plugin)(nil)
	_ indexer.Authenticator = (*Plugin)(nil)
)
