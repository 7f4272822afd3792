// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package definitions builds targets from declarative YAML files: identity,
// category mappings, request templates, row selectors and login steps.
package definitions

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/autobrr/trawl/internal/category"
	"github.com/autobrr/trawl/internal/indexer"
)

// File is one target definition as written in YAML.
type File struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Language    string   `yaml:"language"`
	Links       []string `yaml:"links"`
	Protocol    string   `yaml:"protocol"`
	Privacy     string   `yaml:"privacy"`
	Encoding    string   `yaml:"encoding"`
	PageSize    int      `yaml:"pageSize"`

	RequestDelay   Duration `yaml:"requestDelay"`
	RequestTimeout Duration `yaml:"requestTimeout"`
	SessionTTL     Duration `yaml:"sessionTtl"`

	Caps   Caps   `yaml:"caps"`
	Login  *Login `yaml:"login"`
	Search Search `yaml:"search"`
}

type Caps struct {
	Categories []category.Entry    `yaml:"categories"`
	Modes      map[string][]string `yaml:"modes"`
}

// Login methods.
const (
	LoginForm   = "form"
	LoginCookie = "cookie"
)

type Login struct {
	Method string `yaml:"method"`
	// Page is fetched before the form is posted, for sites that set a
	// pre-login cookie.
	Page    string            `yaml:"page"`
	Path    string            `yaml:"path"`
	Inputs  map[string]string `yaml:"inputs"`
	Headers map[string]string `yaml:"headers"`
	// Needed is evaluated against search responses; true means the
	// session is gone.
	Needed string `yaml:"needed"`
	// Success is evaluated against the last login response.
	Success string `yaml:"success"`
}

type Search struct {
	Paths      []SearchPath      `yaml:"paths"`
	Inputs     map[string]string `yaml:"inputs"`
	Headers    map[string]string `yaml:"headers"`
	Categories CategoryParam     `yaml:"categories"`
	// Pages is the number of pages requested per path; each page advances
	// the offset by pageSize.
	Pages    int              `yaml:"pages"`
	Response Response         `yaml:"response"`
	Rows     Rows             `yaml:"rows"`
	Fields   map[string]Field `yaml:"fields"`
}

// SearchPath is one request tier. Later paths are only tried when earlier
// ones return nothing.
type SearchPath struct {
	Path   string            `yaml:"path"`
	Method string            `yaml:"method"`
	Inputs map[string]string `yaml:"inputs"`
	// Modes limits the path to these search types; empty means all.
	Modes []string `yaml:"modes"`
	// Requires lists search params that must be present in the criteria.
	Requires []string `yaml:"requires"`
}

// CategoryParam describes how native categories enter the query string.
// With Separator set, they are joined into the single Param; with Format
// set, each category becomes its own key rendered from Format; otherwise
// Param is repeated once per category.
type CategoryParam struct {
	Param     string `yaml:"param"`
	Separator string `yaml:"separator"`
	Format    string `yaml:"format"`
	Value     string `yaml:"value"`
}

// Response types.
const (
	ResponseHTML = "html"
	ResponseJSON = "json"
)

type Response struct {
	Type      string `yaml:"type"`
	NoResults string `yaml:"noResults"`
}

type Rows struct {
	// Selector is a CSS selector for html responses and a dotted path to
	// an array for json responses.
	Selector string `yaml:"selector"`
}

type Field struct {
	Selector  string   `yaml:"selector"`
	Attribute string   `yaml:"attribute"`
	Optional  bool     `yaml:"optional"`
	Default   string   `yaml:"default"`
	Filters   []Filter `yaml:"filters"`
}

type Filter struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// Duration accepts Go duration strings in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Parse decodes and validates a definition file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("definition is missing an id")
	}
	if len(f.Search.Paths) == 0 {
		return fmt.Errorf("definition %s has no search paths", f.ID)
	}
	switch f.Search.Response.Type {
	case "", ResponseHTML, ResponseJSON:
	default:
		return fmt.Errorf("definition %s has unknown response type %q", f.ID, f.Search.Response.Type)
	}
	if _, ok := f.Search.Fields["title"]; !ok {
		return fmt.Errorf("definition %s does not extract a title", f.ID)
	}
	if f.Login != nil {
		switch f.Login.Method {
		case LoginForm:
			if f.Login.Path == "" {
				return fmt.Errorf("definition %s has a form login without a path", f.ID)
			}
		case LoginCookie:
		default:
			return fmt.Errorf("definition %s has unknown login method %q", f.ID, f.Login.Method)
		}
	}
	for name, field := range f.Search.Fields {
		for _, filter := range field.Filters {
			if _, ok := filters[filter.Name]; !ok {
				return fmt.Errorf("definition %s field %s uses unknown filter %q", f.ID, name, filter.Name)
			}
		}
	}
	return nil
}

// Definition converts the file into the runtime definition. links, when
// non-empty, replaces the declared links (e.g. a configured mirror).
func (f *File) Definition(links []string) (*indexer.Definition, error) {
	mapping, err := category.NewMapping(f.Caps.Categories)
	if err != nil {
		return nil, fmt.Errorf("definition %s: %w", f.ID, err)
	}

	modes := make(map[indexer.ContentType][]indexer.SearchParam, len(f.Caps.Modes))
	for mode, params := range f.Caps.Modes {
		converted := make([]indexer.SearchParam, 0, len(params))
		for _, p := range params {
			converted = append(converted, indexer.SearchParam(p))
		}
		modes[indexer.ContentType(mode)] = converted
	}

	if len(links) == 0 {
		links = f.Links
	}

	def := &indexer.Definition{
		ID:                 f.ID,
		Name:               f.Name,
		Description:        f.Description,
		Language:           f.Language,
		Links:              links,
		Protocol:           indexer.Protocol(f.Protocol),
		Privacy:            indexer.Privacy(f.Privacy),
		Encoding:           f.Encoding,
		PageSize:           f.PageSize,
		RequiresAuth:       f.Login != nil,
		MinRequestInterval: time.Duration(f.RequestDelay),
		RequestTimeout:     time.Duration(f.RequestTimeout),
		SessionTTL:         time.Duration(f.SessionTTL),
		Capabilities:       indexer.Capabilities{Modes: modes},
		Categories:         mapping,
	}
	if def.Name == "" {
		def.Name = f.ID
	}
	if def.Protocol == "" {
		def.Protocol = indexer.ProtocolTorrent
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}
