// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package definitions

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed targets/*.yml
var builtin embed.FS

// Catalog is an immutable set of parsed definition files keyed by id.
type Catalog struct {
	files map[string]*File
}

// Load parses the built-in definitions and then every *.yml/*.yaml file in
// dir. A file in dir replaces a built-in definition with the same id. An
// empty dir loads only the built-ins.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{files: make(map[string]*File)}

	sub, err := fs.Sub(builtin, "targets")
	if err != nil {
		return nil, err
	}
	if err := c.loadFS(sub, "builtin"); err != nil {
		return nil, err
	}

	if dir == "" {
		return c, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Debug().Str("dir", dir).Msg("definitions directory does not exist, using built-ins only")
		return c, nil
	}
	if err := c.loadFS(os.DirFS(dir), dir); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) loadFS(fsys fs.FS, origin string) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read definitions from %s: %w", origin, err)
	}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return fmt.Errorf("read %s/%s: %w", origin, entry.Name(), err)
		}
		f, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", origin, entry.Name(), err)
		}
		if _, exists := c.files[f.ID]; exists {
			log.Info().Str("definition", f.ID).Str("origin", origin).Msg("overriding definition")
		}
		c.files[f.ID] = f
	}
	return nil
}

// Get returns the definition file with id.
func (c *Catalog) Get(id string) (*File, bool) {
	f, ok := c.files[id]
	return f, ok
}

// List returns all definition files ordered by id.
func (c *Catalog) List() []*File {
	out := make([]*File, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
